package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vidfriends/streamgate/internal/metrics"
	"github.com/vidfriends/streamgate/internal/models"
)

var errPrewarmerClosed = errors.New("prewarmer closed")

// prewarmer resolves freshly tokenised videos in the background so the first
// stream request is likely to hit the cache.
type prewarmer struct {
	warm    func(ctx context.Context, video models.Video) error
	logger  *slog.Logger
	metrics *metrics.Metrics

	jobs   chan models.Video
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newPrewarmer(warm func(context.Context, models.Video) error, workers, queueSize int, logger *slog.Logger, m *metrics.Metrics) *prewarmer {
	if queueSize <= 0 {
		queueSize = 16
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &prewarmer{
		warm:    warm,
		logger:  logger,
		metrics: m,
		jobs:    make(chan models.Video, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Enqueue schedules a video without blocking; a full queue drops the job.
func (p *prewarmer) Enqueue(video models.Video) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.Prewarm("rejected")
		return errPrewarmerClosed
	}

	select {
	case p.jobs <- video:
		p.metrics.Prewarm("queued")
		return nil
	default:
		p.metrics.Prewarm("dropped")
		p.logger.Debug("prewarm queue full", slog.String("video_id", video.ID))
		return nil
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones to finish.
func (p *prewarmer) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	case <-done:
		p.cancel()
		return nil
	}
}

func (p *prewarmer) worker() {
	defer p.wg.Done()

	for video := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		p.handle(video)
	}
}

func (p *prewarmer) handle(video models.Video) {
	ctx, cancel := context.WithTimeout(p.ctx, time.Minute)
	defer cancel()

	if err := p.warm(ctx, video); err != nil {
		p.metrics.Prewarm("failed")
		p.logger.Warn("prewarm failed", slog.String("video_id", video.ID), slog.Any("error", err))
		return
	}
	p.metrics.Prewarm("done")
}
