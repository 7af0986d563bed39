package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/relay"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/handler"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/ws"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/service"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/snapshot"
)

// services are the components every mode shares.
type services struct {
	settle    *service.SettlementService
	markets   *service.MarketService
	processor *relay.Processor
	exporter  *snapshot.Exporter // nil without S3
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	sdeps := service.Deps{
		Engine:   settlement.NewEngine(deps.ProgramID, deps.Accounts),
		Accounts: deps.Accounts,
		Cache:    deps.MarketCache,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Logger:   a.logger,
	}
	lock := service.LockConfig{TTL: a.cfg.Ledger.LockTTL.Duration, Wait: a.cfg.Ledger.LockWait.Duration}

	settle, err := service.NewSettlementService(sdeps, lock)
	if err != nil {
		return nil, err
	}
	markets, err := service.NewMarketService(sdeps, lock)
	if err != nil {
		return nil, err
	}
	svcs := &services{
		settle:    settle,
		markets:   markets,
		processor: relay.NewProcessor(settle, deps.Verifier, deps.Metrics, a.logger),
	}
	if deps.BlobWriter != nil && deps.BlobReader != nil {
		svcs.exporter = snapshot.NewExporter(deps.Accounts, deps.BlobWriter, deps.BlobReader, snapshot.Config{
			ProgramID: deps.ProgramID,
			Retain:    a.cfg.Snapshot.Retain,
			PartSize:  int64(a.cfg.Snapshot.PartSizeMB) << 20,
			Metrics:   deps.Metrics,
		}, a.logger)
	}
	return svcs, nil
}

// ServerMode serves the HTTP API and WebSocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startSnapshots(ctx, g, svcs)
	return g.Wait()
}

// RelayMode consumes deliveries from the configured sources.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting relay mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startRelaySources(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("relay mode: %w", err)
	}
	a.startSnapshots(ctx, g, svcs)
	return g.Wait()
}

// FullMode runs the relay sources next to the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startRelaySources(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startSnapshots(ctx, g, svcs)
	return g.Wait()
}

func (a *App) startRelaySources(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	var sources []relay.Source

	if deps.JetStream != nil {
		ncfg := relay.DefaultNATSConfig()
		ncfg.URL = a.cfg.NATS.URL
		ncfg.Stream = a.cfg.NATS.Stream
		ncfg.Subject = a.cfg.NATS.Subject
		ncfg.Durable = a.cfg.NATS.Durable
		ncfg.AckWait = a.cfg.NATS.AckWait.Duration
		ncfg.MaxDeliver = a.cfg.NATS.MaxDeliver
		ncfg.NakDelay = a.cfg.NATS.NakDelay.Duration
		sources = append(sources, relay.NewNATSSource(deps.JetStream, ncfg, svcs.processor, a.logger))
	}

	if deps.Chain != nil {
		cp := deps.Checkpoint
		if cp == nil {
			a.logger.WarnContext(ctx, "app: evm cursor is kept in memory; restarts rescan from start_block")
			cp = &relay.MemoryCheckpoint{}
		}
		sources = append(sources, relay.NewEVMWatcher(deps.Chain, svcs.markets, svcs.processor, cp, relay.EVMConfig{
			Adapter:       common.HexToAddress(a.cfg.EVM.Adapter),
			StartBlock:    a.cfg.EVM.StartBlock,
			Confirmations: a.cfg.EVM.Confirmations,
			PollInterval:  a.cfg.EVM.PollInterval.Duration,
			BatchSize:     a.cfg.EVM.BatchSize,
		}, deps.Metrics, a.logger))
	}

	if len(sources) == 0 {
		return errors.New("no delivery source configured (enable nats or evm)")
	}
	for _, src := range sources {
		a.logger.InfoContext(ctx, "app: starting delivery source", slog.String("source", src.Name()))
		g.Go(func() error {
			if err := src.Run(ctx); err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	return nil
}

func (a *App) startSnapshots(ctx context.Context, g *errgroup.Group, svcs *services) {
	if !a.cfg.Snapshot.Enabled {
		return
	}
	if svcs.exporter == nil {
		a.logger.WarnContext(ctx, "app: snapshot.enabled without s3; periodic snapshots disabled")
		return
	}
	interval := a.cfg.Snapshot.Interval.Duration
	a.logger.InfoContext(ctx, "app: periodic snapshots enabled", slog.Duration("interval", interval))
	g.Go(func() error {
		return svcs.exporter.Run(ctx, interval)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		ProgramID: deps.ProgramID,
		StartedAt: time.Now().UTC(),
		Origins:   a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var exporter handler.SnapshotExporter
	if svcs.exporter != nil {
		exporter = svcs.exporter
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.ProgramID, a.cfg.Mode, deps.Probes, a.logger),
		Markets:     handler.NewMarketHandler(svcs.markets, a.logger),
		Settlements: handler.NewSettlementHandler(svcs.processor, deps.SignalBus, a.logger),
		Derive:      handler.NewDeriveHandler(deps.ProgramID, a.logger),
		Snapshots:   handler.NewSnapshotHandler(exporter, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
	}, server.Options{
		Hub:     hub,
		Limiter: deps.RateLimiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
