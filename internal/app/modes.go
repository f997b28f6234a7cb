package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/phantomtrade/internal/scheduler"
	"github.com/alanyoungcy/phantomtrade/internal/server"
	"github.com/alanyoungcy/phantomtrade/internal/server/handler"
	"github.com/alanyoungcy/phantomtrade/internal/server/ws"
)

const (
	shutdownTimeout  = 10 * time.Second
	reconcileLockTTL = 2 * time.Minute
	archiveLockTTL   = 30 * time.Minute
)

// ServerMode serves the HTTP API and websocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.restoreBook(ctx, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)
	return wait(g)
}

// WorkerMode runs the scheduled reconciliation and archive jobs only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, svcs); err != nil {
		return err
	}
	return wait(g)
}

// FullMode runs the API and the scheduler in one process, sharing the
// in-memory order book.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.restoreBook(ctx, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)
	if err := a.startScheduler(ctx, g, deps, svcs); err != nil {
		return err
	}
	return wait(g)
}

func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restoreBook re-admits resting limit orders from the ledger. A failure is
// logged; the API still serves with an empty book.
func (a *App) restoreBook(ctx context.Context, svcs *services) {
	if !a.cfg.Trade.RestoreBookOnStart {
		return
	}
	if _, err := svcs.books.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "order book restore failed", slog.String("error", err.Error()))
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger).WithClientCount(hub.ClientCount),
		Phantom:   handler.NewPhantomHandler(svcs.phantom, svcs.books, svcs.reconciler, a.logger),
		OrderBook: handler.NewOrderBookHandler(svcs.books, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	sc := a.cfg.Scheduler
	if !sc.Enabled {
		a.logger.InfoContext(ctx, "scheduler disabled")
		return nil
	}
	sched, err := scheduler.New(sc.Timezone, deps.LockManager, deps.Metrics, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	if sc.ReconcileCron != "" {
		if err := sched.Add(scheduler.Job{
			Name:       "reconcile",
			Spec:       sc.ReconcileCron,
			LockTTL:    reconcileLockTTL,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				rep, err := svcs.reconciler.Sweep(ctx)
				if err != nil {
					return err
				}
				a.logger.InfoContext(ctx, "reconcile sweep",
					slog.Int("expired", rep.Expired),
					slog.Int("verified", rep.Verified),
					slog.Int("errors", rep.Errors),
				)
				return nil
			},
		}); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if deps.Archiver != nil && sc.ArchiveCron != "" {
		archiver := scheduler.NewArchiver(deps.Archiver, sc.ArchiveRetentionDays, a.logger)
		if err := sched.Add(scheduler.Job{
			Name:    "archive",
			Spec:    sc.ArchiveCron,
			LockTTL: archiveLockTTL,
			Run:     archiver.Run,
		}); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	g.Go(func() error { return sched.Run(ctx) })
	return nil
}
