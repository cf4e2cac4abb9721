// Package app assembles the service from configuration: it builds the
// stores, cache, limiter, and engines, wires them into the HTTP server,
// and owns the startup and shutdown sequence.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"extdist/internal/cache"
	"extdist/internal/catalog"
	"extdist/internal/config"
	"extdist/internal/infrastructure"
	"extdist/internal/licensing"
	"extdist/internal/ratelimit"
	"extdist/internal/services"
	transport "extdist/internal/transport/http"
	"extdist/internal/updates"
)

// Application holds the assembled service and its lifecycle hooks.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server

	limiter   *ratelimit.Limiter
	respCache cache.Cache
	licStore  licensing.Store

	closers []func() error
}

// New builds the application from cfg. The caller owns the logger; every
// component logs through it.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	a := &Application{cfg: cfg, logger: logger}

	shutdownTracing, err := infrastructure.InitTracing(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	respCache, err := buildCache(context.Background(), cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to build response cache: %w", err)
	}
	a.respCache = respCache
	a.closers = append(a.closers, respCache.Close)

	cat, err := catalog.NewFileStore(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.Catalog.File, err)
	}

	licStore, err := buildLicenseStore(cfg.Licensing)
	if err != nil {
		return nil, fmt.Errorf("failed to build license store: %w", err)
	}
	a.licStore = licStore
	if closer, ok := licStore.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	a.limiter = ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	a.closers = append(a.closers, func() error {
		a.limiter.Stop()
		return nil
	})

	licEngine := licensing.NewEngine(licStore, cfg.Licensing.StoreTimeout, logger)
	updEngine := updates.NewEngine(cat, licEngine, cfg.Download.BaseURL, logger)

	metrics := infrastructure.NewMetrics()
	svc := services.NewDistribution(a.limiter, respCache, cfg.Cache.TTL,
		updEngine, licEngine, metrics, logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      transport.NewRouter(cfg, svc, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is cancelled, a
// termination signal arrives, or the server fails. Shutdown is graceful
// within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening",
			slog.String("addr", a.server.Addr),
			slog.String("cache_backend", a.cfg.Cache.Backend),
			slog.String("licensing_backend", a.cfg.Licensing.Backend))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.close()
	return err
}

// close releases held resources in reverse construction order.
func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("shutdown cleanup failed", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("shutdown complete")
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemory(cfg.MaxSize), nil
	case "redis":
		return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}

func buildLicenseStore(cfg config.LicensingConfig) (licensing.Store, error) {
	switch cfg.Backend {
	case "memory":
		return licensing.NewMemStore(), nil
	case "sqlite":
		return licensing.NewSQLStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown licensing backend: %q", cfg.Backend)
	}
}
