package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/vidfriends/streamgate/internal/config"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/handlers"
	"github.com/vidfriends/streamgate/internal/httpserver"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/middleware"
)

// Run bootstraps the streamgate service.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, seed, or catalog")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	case "catalog":
		return runCatalog(ctx, os.Stdout, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// housekeepingInterval controls how often expired resolutions and sessions are dropped.
var housekeepingInterval = time.Minute

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.SlogLevel(), cfg.LogFormat)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rt, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, rt.handlers)

	// Metrics sit inside the logger so the matched route pattern is visible to them.
	handler := middleware.RequestLogger(logger)(rt.metrics.Middleware(mux))

	srv := httpserver.New(cfg.AppPort, handler)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go housekeeping(sweepCtx, rt, logger)

	logger.Info("starting http server", "port", cfg.AppPort, "resolver", cfg.Resolver, "sharedCache", cfg.Redis.Addr != "")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server", "reason", context.Cause(ctx))
	case runErr = <-srvErr:
	}
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, srv.Shutdown(shutdownCtx), cleanup(shutdownCtx))
}

func housekeeping(ctx context.Context, rt *runtime, logger *slog.Logger) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := rt.memory.Sweep(); removed > 0 {
				logger.Debug("swept expired resolutions", "removed", removed)
			}
			pruned, err := rt.sessions.PruneExpired(ctx, now)
			if err != nil {
				logger.Warn("prune expired sessions failed", "error", err)
			} else if pruned > 0 {
				logger.Debug("pruned expired sessions", "removed", pruned)
			}
		}
	}
}
