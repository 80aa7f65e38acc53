package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/metrics"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/streamcache"
	"github.com/vidfriends/streamgate/internal/token"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	sourceID   = "SRC-SECRET-123"
)

var (
	u1 = auth.Identity{UserID: "u1"}
	u2 = auth.Identity{UserID: "u2"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubCatalog struct {
	videos map[string]models.Video
	err    error
}

func (s *stubCatalog) Get(_ context.Context, id string) (models.Video, error) {
	if s.err != nil {
		return models.Video{}, s.err
	}
	video, ok := s.videos[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return video, nil
}

type countingResolver struct {
	calls atomic.Int32
	fn    func(ctx context.Context, sourceID string) (models.Resolution, error)
}

func (r *countingResolver) Resolve(ctx context.Context, sourceID string) (models.Resolution, error) {
	r.calls.Add(1)
	if r.fn != nil {
		return r.fn(ctx, sourceID)
	}
	return models.Resolution{URL: "https://media.example.com/" + sourceID + ".mp4"}, nil
}

type harness struct {
	gateway  *Gateway
	clock    *fakeClock
	codec    *token.Codec
	cache    *streamcache.Memory
	resolver *countingResolver
	catalog  *stubCatalog
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec([]byte(testSecret), token.WithClock(clock.Now))
	require.NoError(t, err)

	catalog := &stubCatalog{videos: map[string]models.Video{
		"v1": {ID: "v1", Title: "First", SourceID: sourceID, IsActive: true},
		"v2": {ID: "v2", Title: "Second", SourceID: "SRC-OTHER", IsActive: true},
		"v3": {ID: "v3", Title: "Retired", SourceID: "SRC-RETIRED", IsActive: false},
	}}
	cache := streamcache.NewMemory(clock.Now)
	resolver := &countingResolver{}
	logs := &bytes.Buffer{}

	gw, err := New(cfg, Dependencies{
		Codec:    codec,
		Cache:    cache,
		Resolver: resolver,
		Catalog:  catalog,
		Clock:    clock.Now,
		Logger:   slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Metrics:  metrics.New(),
	})
	require.NoError(t, err)

	return &harness{gateway: gw, clock: clock, codec: codec, cache: cache, resolver: resolver, catalog: catalog, logs: logs}
}

func TestTokenBindingScenario(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)
	assert.Equal(t, PlaybackTTL, ticket.ExpiresIn)
	assert.Equal(t, "v1", ticket.Video.ID)

	stream, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, "v1", stream.VideoID)
	assert.Equal(t, "First", stream.Title)
	assert.Positive(t, stream.ExpiresIn)

	_, err = h.gateway.ResolveStream(ctx, u2, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	_, err = h.gateway.ResolveStream(ctx, u1, "v2", ticket.Token)
	assert.ErrorIs(t, err, ErrTokenMismatch)
}

func TestPlaybackTokenExpiryBoundary(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	h.clock.Advance(PlaybackTTL - time.Second)
	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, CodeInvalidToken, Classify(err))
}

func TestSessionTokenIsNotAPlaybackToken(t *testing.T) {
	h := newHarness(t, Config{})

	session, _, err := h.codec.SignSession("u1", time.Hour)
	require.NoError(t, err)

	_, err = h.gateway.ResolveStream(context.Background(), u1, "v1", session)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Zero(t, h.resolver.calls.Load())
}

func TestMalformedTokensAreInvalid(t *testing.T) {
	h := newHarness(t, Config{})

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := h.gateway.ResolveStream(context.Background(), u1, "v1", raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", raw)
	}
}

func TestUnauthenticatedCallers(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.gateway.IssueToken(ctx, auth.Identity{}, "v1")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)
	_, err = h.gateway.ResolveStream(ctx, auth.Identity{}, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVideoUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"missing", "v3", ""} {
		_, err := h.gateway.IssueToken(ctx, u1, id)
		assert.ErrorIs(t, err, ErrVideoUnavailable, "video %q", id)
	}

	// A token minted while the video was active stops working once it is retired.
	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)
	retired := h.catalog.videos["v1"]
	retired.IsActive = false
	h.catalog.videos["v1"] = retired

	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrVideoUnavailable)
	assert.Zero(t, h.resolver.calls.Load())
}

func TestCatalogFailureIsInternal(t *testing.T) {
	h := newHarness(t, Config{})
	h.catalog.err = errors.New("connection refused")

	_, err := h.gateway.IssueToken(context.Background(), u1, "v1")
	require.Error(t, err)
	assert.Equal(t, CodeInternal, Classify(err))
}

func TestCacheHitAvoidsResolver(t *testing.T) {
	h := newHarness(t, Config{ResolutionTTL: 10 * time.Minute})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	first, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, first.ExpiresIn)

	h.clock.Advance(4 * time.Minute)
	second, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, second.ExpiresIn)
	assert.Equal(t, int32(1), h.resolver.calls.Load())

	// The cache is per video, so another user's token reuses the entry.
	other, err := h.gateway.IssueToken(ctx, u2, "v1")
	require.NoError(t, err)
	_, err = h.gateway.ResolveStream(ctx, u2, "v1", other.Token)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.resolver.calls.Load())
}

func TestExpiredResolutionIsResolvedAgain(t *testing.T) {
	h := newHarness(t, Config{ResolutionTTL: 10 * time.Minute})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	stream, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.resolver.calls.Load())
	assert.Equal(t, 10*time.Minute, stream.ExpiresIn)
}

func TestExpiresInNeverOutlivesToken(t *testing.T) {
	h := newHarness(t, Config{ResolutionTTL: 30 * time.Minute})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	h.clock.Advance(50 * time.Minute)
	stream, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, stream.ExpiresIn)
}

func TestResolutionFailureIsNotCached(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	h.resolver.fn = func(_ context.Context, id string) (models.Resolution, error) {
		if fail.Load() {
			return models.Resolution{}, errors.New("extractor exploded")
		}
		return models.Resolution{URL: "https://media.example.com/ok.mp4"}, nil
	}

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.ErrorIs(t, err, ErrResolutionFailed)
	assert.Equal(t, CodeResolutionFailed, Classify(err))
	assert.Zero(t, h.cache.Len())

	fail.Store(false)
	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.resolver.calls.Load())
}

func TestEmptyResolutionIsFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.fn = func(context.Context, string) (models.Resolution, error) {
		return models.Resolution{}, nil
	}

	ticket, err := h.gateway.IssueToken(context.Background(), u1, "v1")
	require.NoError(t, err)
	_, err = h.gateway.ResolveStream(context.Background(), u1, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrResolutionFailed)
	assert.Zero(t, h.cache.Len())
}

func TestResolverTimeout(t *testing.T) {
	h := newHarness(t, Config{ResolveTimeout: 20 * time.Millisecond})
	h.resolver.fn = func(ctx context.Context, _ string) (models.Resolution, error) {
		<-ctx.Done()
		return models.Resolution{}, ctx.Err()
	}

	ticket, err := h.gateway.IssueToken(context.Background(), u1, "v1")
	require.NoError(t, err)

	start := time.Now()
	_, err = h.gateway.ResolveStream(context.Background(), u1, "v1", ticket.Token)
	assert.ErrorIs(t, err, ErrResolutionFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, h.cache.Len())
}

func TestConcurrentMissesResolveOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.fn = func(context.Context, string) (models.Resolution, error) {
		time.Sleep(20 * time.Millisecond)
		return models.Resolution{URL: "https://media.example.com/once.mp4"}, nil
	}

	ticket, err := h.gateway.IssueToken(context.Background(), u1, "v1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.gateway.ResolveStream(context.Background(), u1, "v1", ticket.Token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.resolver.calls.Load())
}

func TestResponsesNeverCarrySourceID(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.fn = func(_ context.Context, id string) (models.Resolution, error) {
		return models.Resolution{URL: "https://upstream.example.com/watch?v=" + id}, nil
	}
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)
	stream, err := h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)

	for name, v := range map[string]any{"ticket": ticket, "stream": stream} {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), sourceID, name)
		assert.NotContains(t, fmt.Sprintf("%+v", v), sourceID, name)
		assert.NotContains(t, string(raw), "upstream.example.com", name)
	}
	assert.True(t, strings.HasPrefix(stream.StreamReference, "/api/v1/videos/v1/proxy?token="))
	assert.Equal(t, ticket.PlayerPath, stream.StreamReference)
}

func TestOpenStream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	res, err := h.gateway.OpenStream(ctx, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/"+sourceID+".mp4", res.URL)

	_, err = h.gateway.OpenStream(ctx, "v2", ticket.Token)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	_, err = h.gateway.OpenStream(ctx, "v1", "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	h.gateway.Invalidate(ctx, "v1")
	_, err = h.gateway.OpenStream(ctx, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.resolver.calls.Load())
}

func TestPrewarmFillsCache(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, Config{PrewarmWorkers: 2, PrewarmQueueSize: 4})
	ctx := context.Background()

	ticket, err := h.gateway.IssueToken(ctx, u1, "v1")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.gateway.Shutdown(shutdownCtx))
	assert.Equal(t, int32(1), h.resolver.calls.Load())

	_, err = h.gateway.ResolveStream(ctx, u1, "v1", ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.resolver.calls.Load())

	// Issuing after shutdown still works; the prewarm is skipped and logged.
	_, err = h.gateway.IssueToken(ctx, u1, "v2")
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "prewarm skipped")
	assert.Contains(t, h.logs.String(), errPrewarmerClosed.Error())
	assert.Equal(t, int32(1), h.resolver.calls.Load())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	assert.Error(t, err)

	h := newHarness(t, Config{})
	_, err = New(Config{ResolutionTTL: 2 * time.Hour}, Dependencies{
		Codec:    h.codec,
		Cache:    h.cache,
		Resolver: h.resolver,
		Catalog:  h.catalog,
	})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[error]Code{
		ErrUnauthenticated:                             CodeUnauthenticated,
		fmt.Errorf("wrap: %w", ErrVideoUnavailable):    CodeVideoUnavailable,
		fmt.Errorf("%w: expired", ErrInvalidToken):     CodeInvalidToken,
		ErrTokenMismatch:                               CodeTokenMismatch,
		fmt.Errorf("%w: timeout", ErrResolutionFailed): CodeResolutionFailed,
		errors.New("something else"):                   CodeInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, Classify(err), err.Error())
	}
}
