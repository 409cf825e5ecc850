package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/server"
	"github.com/alanyoungcy/vestd/internal/server/handler"
	"github.com/alanyoungcy/vestd/internal/server/ws"
)

const (
	archiveLockKey  = "archive:events"
	shutdownTimeout = 5 * time.Second
)

// ServerMode serves the HTTP API and the event websocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startEventPipeline(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode only runs the periodic audit log export.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runArchiveLoop(ctx, deps) })
	return g.Wait()
}

// FullMode runs the server and, when enabled, the archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startEventPipeline(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveLoop(ctx, deps) })
	}
	return g.Wait()
}

func (a *App) startEventPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Publisher.Run(ctx) })
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.SignalBus, a.logger, ws.Config{
			Backlog:        a.cfg.Server.WSBacklog,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
	} else {
		a.logger.WarnContext(ctx, "websocket stream disabled (no redis.addr)")
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, deps.Ledger.Paused, a.logger),
		Positions: handler.NewPositionHandler(deps.Ledger, deps.Stake, deps.PositionStore, deps.Roles, a.logger),
		Issuance:  handler.NewIssuanceHandler(deps.Issuer, a.logger),
		Balances:  handler.NewBalanceHandler(deps.View, a.logger),
		Admin:     handler.NewAdminHandler(deps.Ledger, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		DomainSeparator: deps.Domain.Separator(),
		CallerSkew:      a.cfg.Server.CallerSkew.Duration,
		RateLimit:       a.cfg.Server.RateLimit,
		RateWindow:      a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop exports the audit log on every tick. The redis lock keeps
// concurrent replicas from uploading the same batch.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil || deps.LockManager == nil {
		return errors.New("app: archive loop needs an archiver and a lock manager")
	}
	interval := a.cfg.Archive.Interval.Duration
	a.logger.InfoContext(ctx, "archive loop started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.archiveOnce(ctx, deps)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, a.cfg.Archive.LockTTL.Duration)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.DebugContext(ctx, "archive skipped, another replica holds the lock")
		return
	}
	if err != nil {
		a.logger.WarnContext(ctx, "archive lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	cutoff := time.Now().Add(-a.cfg.Archive.Retention.Duration)
	n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("events", n),
		slog.Time("cutoff", cutoff),
	)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
