package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/events"
	"github.com/alanyoungcy/stakepool/internal/ledger"
	"github.com/alanyoungcy/stakepool/internal/notify"
	"github.com/alanyoungcy/stakepool/internal/server"
	"github.com/alanyoungcy/stakepool/internal/server/handler"
	"github.com/alanyoungcy/stakepool/internal/server/ws"
	"github.com/alanyoungcy/stakepool/internal/service"
)

// ServeMode runs the production configuration: PostgreSQL persistence and,
// when enabled, the on-chain asset ledger.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Bool("chain", a.cfg.Chain.Enabled),
	)
	return a.runLedger(ctx, deps)
}

// PaperMode runs the same engine against SQLite with simulated assets. It
// exists so rate and reserve settings can be rehearsed with real accrual
// math before touching real funds.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.String("db", a.cfg.SQLite.Path),
	)
	return a.runLedger(ctx, deps)
}

// runLedger builds the ledger and starts every enabled subsystem: the
// snapshot flush loop, the reserve monitor, the archive schedule, the event
// notification listener, the WebSocket hub, and the HTTP API.
func (a *App) runLedger(ctx context.Context, deps *Dependencies) error {
	startedAt := time.Now().UTC()

	sink := events.NewPublisher(deps.EventStore, deps.SignalBus, a.logger)
	auth := domain.AuthorizerFunc(func(_ context.Context, caller string) bool {
		return a.cfg.IsAdmin(caller)
	})

	led, err := ledger.New(ledger.Config{
		PrincipalAsset: domain.Asset(a.cfg.Pool.PrincipalAsset),
		RewardAsset:    domain.Asset(a.cfg.Pool.RewardAsset),
		InitialRate:    a.cfg.InitialRateBig(),
		Assets:         deps.Assets,
		Auth:           auth,
		Pools:          deps.PoolStore,
		Accounts:       deps.AccountStore,
		Events:         sink,
		Alerts:         deps.Notifier,
		FlushInterval:  a.cfg.Pool.FlushInterval.Duration,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}

	if err := led.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate ledger: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Snapshot flush loop.
	g.Go(func() error {
		return led.Run(ctx)
	})

	// Reserve coverage monitor.
	if a.cfg.Monitor.Enabled {
		monitor := service.NewReserveMonitor(
			led,
			deps.Notifier,
			deps.SignalBus,
			a.cfg.Monitor.Interval.Duration,
			time.Duration(a.cfg.Monitor.HorizonDays)*24*time.Hour,
			int64(a.cfg.Monitor.MinCoveragePct),
			a.logger,
		)
		g.Go(func() error {
			return monitor.Run(ctx)
		})
	}

	// Scheduled event archival.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		job := service.NewArchiveJob(
			deps.Archiver,
			deps.EventStore,
			deps.LockManager,
			deps.Notifier,
			a.cfg.Archive.Cron,
			time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
			int64(a.cfg.Archive.BatchSize),
			a.logger,
		)
		if err := job.Start(); err != nil {
			return fmt.Errorf("start archive job: %w", err)
		}
		a.closers = append(a.closers, job.Stop)
	}

	// Notification fan-out from the event bus.
	if deps.SignalBus != nil {
		listener := notify.NewListener(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	// HTTP API and WebSocket hub.
	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.SignalBus != nil {
			hub = ws.NewHub(deps.SignalBus, led, a.logger, ws.Config{
				Mode:      a.cfg.Mode,
				StartedAt: startedAt,
			})
			g.Go(func() error {
				return hub.Run(ctx)
			})
		}

		handlers := server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode, startedAt, a.logger),
			Pool:     handler.NewPoolHandler(led, a.logger),
			Accounts: handler.NewAccountHandler(led, a.logger),
			Stake:    handler.NewStakeHandler(led, a.logger),
			Admin:    handler.NewAdminHandler(led, deps.AuditStore, deps.BlobReader, deps.BlobDeleter, a.logger),
			Events:   handler.NewEventHandler(deps.EventStore, a.logger),
		}

		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}
