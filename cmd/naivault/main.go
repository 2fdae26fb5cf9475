package main

import (
	"NaiVault/internal/config"
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/ingestion"
	"NaiVault/internal/issuer"
	"NaiVault/internal/mint"
	"NaiVault/internal/observability"
	"NaiVault/internal/persistence"
	"NaiVault/internal/projection"
	"NaiVault/internal/query"
	"NaiVault/internal/server"
	"NaiVault/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(cfg.Log)
	logger := observability.NewLogger("main")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("naivault stopped")
	}
	logger.Info().Msg("naivault shutdown complete")
}

func run(cfg *config.Config) error {
	logger := observability.NewLogger("main")
	logger.Info().Strs("tokens", cfg.TokenIDs()).Msg("naivault starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, migrations.FS, observability.NewLogger("migrator")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Pending mint store ---
	store, err := mint.OpenLevelDBStore(cfg.Mint.StorePath)
	if err != nil {
		return fmt.Errorf("open pending mint store: %w", err)
	}
	defer store.Close()

	registry, err := mint.NewRegistry(store)
	if err != nil {
		return err
	}
	logger.Info().Int("pending", registry.Len()).Str("path", cfg.Mint.StorePath).Msg("pending mint store opened")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, "naivault", observability.NewLogger("nats"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	// --- Mint scheduler ---
	// Lives until every in-flight call has posted its outcome or given up.
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	settlements := make(chan event.Event, cfg.Core.InboxSize)
	natsIssuer := issuer.NewNATSIssuer(nc, cfg.NATS.IssuerSubject, metrics.MintCallDuration, observability.NewLogger("issuer"))
	scheduler := mint.NewAsyncScheduler(schedCtx, natsIssuer, cfg.Mint.Timeout, settlements, observability.NewLogger("scheduler"))

	// --- Core ---
	persistChan := make(chan core.CoreOutput, cfg.Persistence.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Persistence.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Persistence.PublishChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	vaultCore, err := core.NewVaultCore(core.Options{
		SupportedTokens:     cfg.TokenIDs(),
		IdempotencyCapacity: cfg.Core.IdempotencyCapacity,
		MintGas:             cfg.Mint.Gas,
		InvariantInterval:   cfg.Core.InvariantInterval,
		Registry:            registry,
		Scheduler:           scheduler,
		DBChecker:           dbChecker,
		PersistChan:         persistChan,
		ProjectionChan:      projectionChan,
		PublishChan:         publishChan,
		Metrics:             metrics,
		Logger:              observability.NewLogger("core"),
	})
	if err != nil {
		return err
	}

	// --- Workers ---
	// Stopped by closing their input once the core is done.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Persistence.BatchSize,
		cfg.Persistence.FlushTimeout, metrics, observability.NewLogger("persistence"))
	history := projection.NewBorrowHistory(cfg.Persistence.BorrowHistorySize)
	projWorker := projection.NewProjectionWorker(db, projectionChan, history, metrics, observability.NewLogger("projection"))

	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("persistence worker stopped")
		}
	}()
	go func() {
		defer workers.Done()
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("projection worker stopped")
		}
	}()

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(ctx, vaultCore, snapMgr, dbChecker, cfg.Core.IdempotencyCapacity, metrics, logger); err != nil {
		return err
	}

	loop := core.NewLoopWithSettlements(vaultCore, settlements, cfg.Core.InboxSize, observability.NewLogger("loop"))
	coreCtx, cancelCore := context.WithCancel(context.Background())
	defer cancelCore()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(coreCtx)
	}()

	if err := finalizeOrphans(ctx, loop, logger); err != nil {
		return err
	}

	// --- NATS streams, inbound and outbound ---
	if err := ingestion.EnsureStreams(ctx, js, cfg.NATS.StreamMaxAge); err != nil {
		return fmt.Errorf("ensure inbound streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, cfg.NATS.StreamMaxAge); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.Core.InboxSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("nats-subscriber"))
	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	// --- Services ---
	queryService := query.NewQueryService(db, loop, history, cfg.TokenDecimals())
	vaultService := server.NewVaultService(ingestion.NewAdminIngestService(loop), queryService, db, snapMgr,
		observability.NewLogger("vault-service"))
	limiter := server.NewLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateLimitBurst, metrics)

	g, gctx := errgroup.WithContext(ctx)

	if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	g.Go(func() error {
		ingestion.Pump(gctx, rawEventChan, ingestion.DefaultSubjects(), loop, metrics, observability.NewLogger("pump"))
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(publisher.Run(gctx))
	})
	g.Go(func() error {
		runPeriodicSnapshots(gctx, loop, snapMgr, cfg.Core.SnapshotInterval, metrics, observability.NewLogger("snapshot"))
		return nil
	})

	var grpcServer *server.GRPCServer
	if cfg.Server.GRPCAddr != "" {
		grpcServer = server.NewGRPCServer(cfg.Server.GRPCAddr, vaultService, cfg.Server.AdminToken, limiter, observability.NewLogger("grpc"))
		g.Go(func() error {
			return grpcServer.Start(gctx)
		})
	}
	if cfg.Server.HTTPAddr != "" {
		gateway, err := server.NewHTTPGateway(cfg.Server.HTTPAddr, vaultService, cfg.Server.AdminToken, limiter,
			healthChecker, observability.NewLogger("http"))
		if err != nil {
			return fmt.Errorf("build http gateway: %w", err)
		}
		g.Go(func() error {
			return gateway.Start(gctx)
		})
	}
	if cfg.Server.AdminToken == "" {
		logger.Warn().Msg("no admin token configured, admin methods are disabled")
	}

	healthChecker.SetReady(true)
	if grpcServer != nil {
		grpcServer.SetServing(true)
	}
	logger.Info().
		Int64("sequence", vaultCore.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("naivault ready")

	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error().Err(serveErr).Msg("service failed, shutting down")
	} else {
		logger.Info().Msg("shutting down")
	}

	// --- Graceful shutdown ---
	// Intake stops first, then outstanding mint calls drain into the core,
	// then the core stops and the persistence worker flushes what it emitted.
	healthChecker.SetReady(false)
	subscriber.Stop()

	drainSettlements(scheduler, cfg.Mint.Timeout, logger)
	cancelSched()
	scheduler.Wait()

	cancelCore()
	<-loopDone

	close(persistChan)
	close(projectionChan)
	close(publishChan)
	workers.Wait()

	// The loop has exited, so the core can be read directly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := takeSnapshot(shutdownCtx, vaultCore.CreateSnapshotState(), snapMgr, metrics, logger); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	return serveErr
}

// drainSettlements gives in-flight mint calls up to timeout to report back
// while the loop is still running. Calls still out after that are finalized as
// orphaned on the next start.
func drainSettlements(scheduler *mint.AsyncScheduler, timeout time.Duration, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("mint calls still in flight at shutdown")
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
