package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/config"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/handlers"
	"github.com/vidfriends/streamgate/internal/metrics"
	"github.com/vidfriends/streamgate/internal/middleware"
	"github.com/vidfriends/streamgate/internal/playback"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/storage"
	"github.com/vidfriends/streamgate/internal/streamcache"
	"github.com/vidfriends/streamgate/internal/token"
	"github.com/vidfriends/streamgate/internal/videos"
)

// runtime is everything serve needs beyond the HTTP dependencies.
type runtime struct {
	handlers handlers.Dependencies
	gateway  *playback.Gateway
	metrics  *metrics.Metrics
	memory   *streamcache.Memory
	sessions sessionPruner
}

type sessionPruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
// The returned cleanup drains background work and closes remote clients.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*runtime, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := token.NewCodec([]byte(cfg.TokenSecret), token.WithIssuer(cfg.TokenIssuer))
	if err != nil {
		return nil, nil, fmt.Errorf("token codec: %w", err)
	}

	sessionStore := repositories.NewPostgresSessionStore(pool)
	sessions := auth.NewManager(codec, cfg.SessionTTL, cfg.RefreshTTL, sessionStore)
	catalog := repositories.NewPostgresVideoRepository(pool)
	m := metrics.New()

	var closers []func() error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	checks := map[string]handlers.HealthCheck{
		"database": db.HealthCheck(pool),
	}

	memory := streamcache.NewMemory(nil)
	var cache streamcache.Cache = memory
	if cfg.Redis.Addr != "" {
		shared, err := streamcache.NewRedis(ctx, streamcache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("resolution cache: %w", err)
		}
		closers = append(closers, shared.Close)
		checks["redis"] = shared.HealthCheck
		cache = streamcache.NewTiered(memory, shared)
	}

	resolver, err := buildResolver(ctx, cfg)
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}

	gateway, err := playback.New(playback.Config{
		ResolutionTTL:    cfg.ResolutionTTL,
		ResolveTimeout:   cfg.ResolveTimeout,
		PrewarmWorkers:   cfg.PrewarmWorkers,
		PrewarmQueueSize: cfg.PrewarmQueueSize,
	}, playback.Dependencies{
		Codec:    codec,
		Cache:    cache,
		Resolver: resolver,
		Catalog:  catalog,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(gateway.Shutdown(ctx), cleanup(ctx))
	}

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitBurst, 10*time.Minute)

	return &runtime{
		handlers: handlers.Dependencies{
			Users:          repositories.NewPostgresUserRepository(pool),
			Sessions:       sessions,
			Authenticator:  sessions,
			Catalog:        catalog,
			Gateway:        gateway,
			Limiter:        limiter,
			HealthChecks:   checks,
			Metrics:        m.Handler(),
			DashboardLimit: cfg.DashboardLimit,
			ProxyTimeout:   cfg.ProxyTimeout,
		},
		gateway:  gateway,
		metrics:  m,
		memory:   memory,
		sessions: sessionStore,
	}, shutdown, nil
}

func buildResolver(ctx context.Context, cfg config.Config) (videos.Resolver, error) {
	switch cfg.Resolver {
	case "s3":
		presigner, err := storage.NewS3Presigner(ctx, storage.ObjectStoreConfig{
			Bucket:   cfg.ObjectStore.Bucket,
			Region:   cfg.ObjectStore.Region,
			Endpoint: cfg.ObjectStore.Endpoint,
			Expires:  cfg.ResolutionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 resolver: %w", err)
		}
		return presigner, nil
	case "ytdlp", "":
		return videos.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout), nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", cfg.Resolver)
	}
}
