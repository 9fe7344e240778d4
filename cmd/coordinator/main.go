// Package main provides the entry point for the build coordinator.
package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/narvanalabs/buildgraph/internal/api"
	"github.com/narvanalabs/buildgraph/internal/api/health"
	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/executor"
	grpcserver "github.com/narvanalabs/buildgraph/internal/grpc"
	"github.com/narvanalabs/buildgraph/internal/metrics"
	"github.com/narvanalabs/buildgraph/internal/process"
	pgqueue "github.com/narvanalabs/buildgraph/internal/queue/postgres"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/internal/shutdown"
	"github.com/narvanalabs/buildgraph/internal/store"
	"github.com/narvanalabs/buildgraph/internal/store/memory"
	pgstore "github.com/narvanalabs/buildgraph/internal/store/postgres"
	"github.com/narvanalabs/buildgraph/pkg/config"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

const eventBufferSize = 256

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	api.Version = version()

	sd := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	checker := health.NewChecker(api.Version)

	// Initialize store
	var st store.Store
	var pg *pgstore.PostgresStore
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("using in-memory store, state is lost on restart")
		st = memory.New()
	default:
		pg, err = pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		st = pg
	}
	sd.Register(shutdown.NewCloserComponent("store", st))
	checker.Register("database", health.PingerFunc(st.Ping), true)

	// Initialize build executor
	remote := executor.NewRemoteExecutor(cfg.Executor.URL, cfg.Executor.Token, cfg.Executor.Timeout, log.Logger)
	var exec coordinator.Executor = remote
	if cfg.Executor.Mode == config.ExecutorQueued {
		exec = executor.NewQueuedExecutor(pgqueue.NewPostgresQueue(pg.DB(), log.Logger), remote, log.Logger)
	} else {
		checker.Register("executor", health.PingerFunc(remote.Ping), false)
	}

	// Events and metrics
	bus := events.NewBus(eventBufferSize, log.Logger)
	sd.Register(shutdown.NewFuncComponent("events", func(context.Context) error {
		bus.Close()
		return nil
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, bus.Dropped, log.Logger)

	// Build coordinator
	coord := coordinator.New(st, exec, bus, coordinator.Options{
		MaxConcurrentDispatches: cfg.Coordinator.MaxConcurrentDispatches,
		DispatchTimeout:         cfg.Coordinator.DispatchTimeout,
		RetainCompleted:         cfg.Coordinator.RetainCompleted,
		TemporaryBuildLifespan:  cfg.Coordinator.TemporaryBuildLifespan,
		CallbackBaseURL:         cfg.ExternalURL,
	}, log.Logger)
	sd.Register(shutdown.NewCloserComponent("coordinator", coord))

	// Milestone releases
	wf := cfg.Workflow
	releases, err := release.NewManager(st, bus, []release.Engine{
		{
			Name:      config.EngineREST,
			Connector: process.NewRESTConnector(wf.RESTURL, wf.ContainerID, wf.Timeout, log.Logger),
			ProcessID: wf.ReleaseProcessID,
		},
		{
			Name:      config.EngineLegacy,
			Connector: process.NewLegacyConnector(wf.LegacyURL, wf.Timeout, log.Logger),
			ProcessID: wf.LegacyReleaseProcessID,
		},
	}, release.Options{
		DefaultEngine: wf.Engine,
		CallbackURL:   strings.TrimSuffix(cfg.ExternalURL, "/") + "/v1/callbacks/milestone-release",
	}, log.Logger)
	if err != nil {
		log.Error("failed to create release manager", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	// Servers
	server := api.NewServer(cfg, api.Dependencies{
		Coordinator: coord,
		Releases:    releases,
		Bus:         bus,
		Auth:        authService,
		Health:      checker,
		Gatherer:    reg,
	}, log.Logger)

	grpcCfg := grpcserver.DefaultConfig()
	grpcCfg.Port = cfg.GRPCPort
	grpcSrv, err := grpcserver.NewServer(grpcCfg, checker, log.Logger)
	if err != nil {
		log.Error("failed to create gRPC server", "error", err)
		os.Exit(1)
	}
	sd.Register(shutdown.NewFuncComponent("grpc", grpcSrv.Stop))
	sd.Register(shutdown.NewFuncComponent("api", server.Shutdown))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return grpcSrv.Start(gctx) })
	g.Go(func() error {
		collector.Run(gctx, bus.Subscribe())
		return nil
	})
	g.Go(func() error {
		coord.RunPruner(gctx, cfg.Coordinator.PruneInterval)
		return nil
	})

	log.Info("build coordinator started",
		"store", cfg.StoreDriver,
		"executor", cfg.Executor.Mode,
		"workflow_engine", wf.Engine,
	)

	// Returns on SIGINT/SIGTERM or when a server fails.
	sd.WaitForSignal(gctx)
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("coordinator stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("build coordinator stopped")
	os.Exit(sd.ExitCode())
}

func version() string {
	if v := os.Getenv("BUILDGRAPH_VERSION"); v != "" {
		return v
	}
	return api.Version
}
