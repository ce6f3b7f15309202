package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/server"
	"github.com/alanyoungcy/adboard/internal/server/handler"
	"github.com/alanyoungcy/adboard/internal/server/ws"
)

// APIMode serves the HTTP API and WebSocket stream only. Boosts and expiry are
// left to a worker process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifications(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the boost driver, the expiration sweeper and the audit
// archiver.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifications(ctx, g, deps)
	a.startWorkers(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifications(ctx, g, deps)
	a.startWorkers(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startNotifications(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.NotifyQueue == nil {
		return
	}
	g.Go(func() error {
		return deps.NotifyQueue.Run(ctx)
	})
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Driver.Run(ctx)
	})
	g.Go(func() error {
		return deps.Sweeper.Run(ctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver, deps)
		})
	}
}

// runArchiver moves audit entries older than the retention window to object
// storage, once at start and then on every interval.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "archive_loop"))
	retention := domain.Days(a.cfg.Archive.RetentionDays)
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	archive := func() {
		before := deps.Clock.Now().Add(-retention)
		if deps.LockManager != nil {
			unlock, err := deps.LockManager.Acquire(ctx, "archive", interval/2)
			if err != nil {
				log.DebugContext(ctx, "archive skipped", slog.String("reason", err.Error()))
				return
			}
			defer unlock()
		}
		n, err := archiver.ArchiveAudit(ctx, before)
		if err != nil {
			log.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			log.InfoContext(ctx, "archive completed",
				slog.Int64("entries", n),
				slog.Time("before", before),
			)
		}
	}

	archive()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			archive()
		}
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	svc := deps.Lifecycle
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		AdminKeyHash:    a.cfg.Server.AdminKeyHash,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Catalog:  handler.NewCatalogHandler(deps.Catalog, svc, a.logger),
		Listings: handler.NewListingHandler(svc, a.logger),
		Admin:    handler.NewAdminHandler(svc, deps.Sweeper, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
