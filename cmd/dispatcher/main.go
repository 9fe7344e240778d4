// Package main provides the entry point for the dispatcher, which drains the
// queued dispatch requests into the remote build executor.
package main

import (
	"context"
	"os"

	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/internal/executor"
	pgqueue "github.com/narvanalabs/buildgraph/internal/queue/postgres"
	"github.com/narvanalabs/buildgraph/internal/shutdown"
	pgstore "github.com/narvanalabs/buildgraph/internal/store/postgres"
	"github.com/narvanalabs/buildgraph/pkg/config"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

// serviceUser is the subject of the token used to report completions.
const serviceUser = "dispatcher"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StorePostgres {
		logger.Default().Error("the dispatcher requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	// Initialize database store
	store, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := store.Migrate(context.Background()); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Completion callbacks go through the authenticated API.
	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	queue := pgqueue.NewPostgresQueue(store.DB(), log.Logger)
	remote := executor.NewRemoteExecutor(cfg.Executor.URL, cfg.Executor.Token, cfg.Executor.Timeout, log.Logger)
	reporter := executor.NewCompletionReporter("", cfg.Executor.Timeout).WithTokenSource(func() (string, error) {
		return authService.GenerateToken(serviceUser, "")
	})

	worker := executor.NewWorker(&executor.WorkerConfig{
		Concurrency:  cfg.Dispatcher.Concurrency,
		MaxAttempts:  cfg.Dispatcher.MaxAttempts,
		PollInterval: cfg.Dispatcher.PollInterval,
	}, queue, remote, reporter, log.Logger)

	sd := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	sd.Register(shutdown.NewCloserComponent("store", store))
	sd.Register(shutdown.NewWorkerComponent("dispatcher", worker))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	log.Info("dispatcher started",
		"executor", cfg.Executor.URL,
		"concurrency", cfg.Dispatcher.Concurrency,
	)

	sd.WaitForSignal(ctx)
	cancel()
	os.Exit(sd.ExitCode())
}
