// Package playback grants time-limited, identity-bound access to catalog
// videos without disclosing their source identifiers.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/metrics"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/streamcache"
	"github.com/vidfriends/streamgate/internal/token"
	"github.com/vidfriends/streamgate/internal/videos"
)

const (
	// PlaybackTTL is the fixed lifetime of a playback token.
	PlaybackTTL = time.Hour
	// DefaultResolutionTTL bounds how long a resolved stream is reused.
	DefaultResolutionTTL = 30 * time.Minute
	// DefaultResolveTimeout bounds a single extraction attempt.
	DefaultResolveTimeout = 30 * time.Second
	// DefaultBasePath prefixes the opaque stream references.
	DefaultBasePath = "/api/v1/videos"
)

// Catalog loads video records. Missing records must wrap repositories.ErrNotFound.
type Catalog interface {
	Get(ctx context.Context, id string) (models.Video, error)
}

// TokenCodec signs and verifies playback tokens.
type TokenCodec interface {
	SignPlayback(subject, videoID string, ttl time.Duration) (string, token.PlaybackClaims, error)
	VerifyPlayback(raw string) (token.PlaybackClaims, error)
}

// Config tunes the gateway.
type Config struct {
	ResolutionTTL  time.Duration
	ResolveTimeout time.Duration
	BasePath       string

	PrewarmWorkers   int
	PrewarmQueueSize int
}

// Dependencies are the collaborators the gateway needs.
type Dependencies struct {
	Codec    TokenCodec
	Cache    streamcache.Cache
	Resolver videos.Resolver
	Catalog  Catalog
	Clock    func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Ticket is what a caller receives when a playback token is issued.
type Ticket struct {
	Video      models.PublicVideo
	Token      string
	ExpiresIn  time.Duration
	PlayerPath string
}

// Stream is the sanitized answer to a stream resolution request.
type Stream struct {
	StreamReference string
	VideoID         string
	Title           string
	ExpiresIn       time.Duration
}

// Gateway issues playback tokens and resolves them to stream references.
type Gateway struct {
	cfg      Config
	codec    TokenCodec
	cache    streamcache.Cache
	resolver videos.Resolver
	catalog  Catalog
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	group   singleflight.Group
	prewarm *prewarmer
}

// New validates the configuration and wires the gateway.
func New(cfg Config, deps Dependencies) (*Gateway, error) {
	if deps.Codec == nil || deps.Cache == nil || deps.Resolver == nil || deps.Catalog == nil {
		return nil, errors.New("playback: codec, cache, resolver and catalog are required")
	}
	if cfg.ResolutionTTL <= 0 {
		cfg.ResolutionTTL = DefaultResolutionTTL
	}
	if cfg.ResolutionTTL > PlaybackTTL {
		return nil, fmt.Errorf("playback: resolution ttl %s exceeds playback ttl %s", cfg.ResolutionTTL, PlaybackTTL)
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	cfg.BasePath = strings.TrimSuffix(strings.TrimSpace(cfg.BasePath), "/")
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		codec:    deps.Codec,
		cache:    deps.Cache,
		resolver: deps.Resolver,
		catalog:  deps.Catalog,
		now:      deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	if cfg.PrewarmWorkers > 0 {
		g.prewarm = newPrewarmer(g.warm, cfg.PrewarmWorkers, cfg.PrewarmQueueSize, deps.Logger, deps.Metrics)
	}
	return g, nil
}

// IssueToken mints a playback token binding identity to videoID.
func (g *Gateway) IssueToken(ctx context.Context, identity auth.Identity, videoID string) (Ticket, error) {
	ctx, span := logging.StartSpan(ctx, "playback.issue_token")
	defer span.End()

	if identity.UserID == "" {
		return Ticket{}, g.fail(ctx, ErrUnauthenticated)
	}

	video, err := g.lookup(ctx, videoID)
	if err != nil {
		return Ticket{}, g.fail(ctx, err)
	}

	raw, claims, err := g.codec.SignPlayback(identity.UserID, video.ID, PlaybackTTL)
	if err != nil {
		return Ticket{}, g.fail(ctx, fmt.Errorf("sign playback token: %w", err))
	}
	g.metrics.TokenIssued()

	if g.prewarm != nil {
		if err := g.prewarm.Enqueue(video); err != nil {
			g.log(ctx).Debug("prewarm skipped", slog.String("video_id", video.ID), slog.Any("error", err))
		}
	}

	return Ticket{
		Video:      video.Public(),
		Token:      raw,
		ExpiresIn:  claims.ExpiresAt.Sub(claims.IssuedAt),
		PlayerPath: g.reference(video.ID, raw),
	}, nil
}

// ResolveStream validates a playback token for identity and videoID and
// returns an opaque, time-limited stream reference.
func (g *Gateway) ResolveStream(ctx context.Context, identity auth.Identity, videoID, rawToken string) (Stream, error) {
	ctx, span := logging.StartSpan(ctx, "playback.resolve_stream")
	defer span.End()

	if identity.UserID == "" {
		return Stream{}, g.fail(ctx, ErrUnauthenticated)
	}

	claims, err := g.verify(rawToken, videoID)
	if err != nil {
		return Stream{}, g.fail(ctx, err)
	}
	if claims.Subject != identity.UserID {
		return Stream{}, g.fail(ctx, fmt.Errorf("%w: subject", ErrTokenMismatch))
	}

	video, err := g.lookup(ctx, videoID)
	if err != nil {
		return Stream{}, g.fail(ctx, err)
	}

	entry, err := g.resolution(ctx, video)
	if err != nil {
		return Stream{}, g.fail(ctx, err)
	}

	now := g.now()
	expiresIn := entry.Remaining(now)
	if left := claims.ExpiresAt.Sub(now); left < expiresIn {
		expiresIn = left
	}

	return Stream{
		StreamReference: g.reference(video.ID, rawToken),
		VideoID:         video.ID,
		Title:           video.Title,
		ExpiresIn:       expiresIn,
	}, nil
}

// OpenStream authorises a byte-proxy request from the playback token alone
// and returns the upstream resolution to fetch from.
func (g *Gateway) OpenStream(ctx context.Context, videoID, rawToken string) (models.Resolution, error) {
	ctx, span := logging.StartSpan(ctx, "playback.open_stream")
	defer span.End()

	if _, err := g.verify(rawToken, videoID); err != nil {
		return models.Resolution{}, g.fail(ctx, err)
	}

	video, err := g.lookup(ctx, videoID)
	if err != nil {
		return models.Resolution{}, g.fail(ctx, err)
	}

	entry, err := g.resolution(ctx, video)
	if err != nil {
		return models.Resolution{}, g.fail(ctx, err)
	}
	return entry.Resolution, nil
}

// Invalidate drops the cached resolution for videoID, typically after the
// upstream rejected a cached URL.
func (g *Gateway) Invalidate(ctx context.Context, videoID string) {
	g.cache.Delete(ctx, videoID)
}

// Shutdown drains the prewarm workers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.prewarm == nil {
		return nil
	}
	return g.prewarm.Shutdown(ctx)
}

func (g *Gateway) verify(rawToken, videoID string) (token.PlaybackClaims, error) {
	claims, err := g.codec.VerifyPlayback(rawToken)
	if err != nil {
		return token.PlaybackClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != token.KindPlayback {
		return token.PlaybackClaims{}, fmt.Errorf("%w: kind", ErrTokenMismatch)
	}
	if claims.VideoID != videoID {
		return token.PlaybackClaims{}, fmt.Errorf("%w: video", ErrTokenMismatch)
	}
	return claims, nil
}

func (g *Gateway) lookup(ctx context.Context, videoID string) (models.Video, error) {
	if strings.TrimSpace(videoID) == "" {
		return models.Video{}, ErrVideoUnavailable
	}
	video, err := g.catalog.Get(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Video{}, ErrVideoUnavailable
		}
		return models.Video{}, fmt.Errorf("load video: %w", err)
	}
	if !video.IsActive {
		return models.Video{}, ErrVideoUnavailable
	}
	return video, nil
}

// resolution serves from the cache or resolves once per video across
// concurrent callers. Failures are never cached.
func (g *Gateway) resolution(ctx context.Context, video models.Video) (streamcache.Entry, error) {
	ctx, span := logging.StartSpan(ctx, "playback.resolution")
	defer span.End()

	if entry, ok := g.cache.Get(ctx, video.ID); ok {
		g.metrics.CacheLookup(true)
		return entry, nil
	}
	g.metrics.CacheLookup(false)

	// The shared call must not die with whichever caller arrived first.
	shared := context.WithoutCancel(ctx)
	v, err, _ := g.group.Do(video.ID, func() (any, error) {
		if entry, ok := g.cache.Get(shared, video.ID); ok {
			return entry, nil
		}

		resolveCtx, cancel := context.WithTimeout(shared, g.cfg.ResolveTimeout)
		defer cancel()

		start := time.Now()
		res, err := g.resolver.Resolve(resolveCtx, video.SourceID)
		if err == nil && res.URL == "" {
			err = videos.ErrNoStream
		}
		g.metrics.Resolve(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return g.cache.Put(shared, video.ID, res, g.cfg.ResolutionTTL), nil
	})
	if err != nil {
		span.RecordError(fmt.Errorf("video %s: %w", video.ID, err))
		return streamcache.Entry{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return v.(streamcache.Entry), nil
}

func (g *Gateway) warm(ctx context.Context, video models.Video) error {
	_, err := g.resolution(ctx, video)
	return err
}

func (g *Gateway) reference(videoID, rawToken string) string {
	return g.cfg.BasePath + "/" + url.PathEscape(videoID) + "/proxy?token=" + url.QueryEscape(rawToken)
}

func (g *Gateway) fail(ctx context.Context, err error) error {
	code := Classify(err)
	g.metrics.Failure(string(code))
	level := slog.LevelInfo
	if code == CodeInternal || code == CodeResolutionFailed {
		level = slog.LevelWarn
	}
	g.log(ctx).Log(ctx, level, "playback request rejected", slog.String("code", string(code)), slog.Any("error", err))
	return err
}

// log prefers the request-scoped logger and falls back to the gateway's own.
func (g *Gateway) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return g.logger
}
