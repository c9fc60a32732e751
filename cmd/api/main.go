package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/kerjalink/backend/internal/auth"
	"github.com/kerjalink/backend/internal/config"
	"github.com/kerjalink/backend/internal/embedding"
	"github.com/kerjalink/backend/internal/ledger"
	"github.com/kerjalink/backend/internal/middleware"
	"github.com/kerjalink/backend/internal/notify"
	"github.com/kerjalink/backend/internal/registry"
	"github.com/kerjalink/backend/internal/repository"
	"github.com/kerjalink/backend/internal/router"
	"github.com/kerjalink/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool. Ensure Postgres is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	taskRepo := repository.NewTaskRepo(pool)
	workerRepo := repository.NewWorkerRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)
	applicantRepo := ledger.NewRepository(pool)

	// Notifier: insert func is set after the River client exists (breaks the
	// init cycle between notifier consumers and the worker registry).
	var insertMu sync.Mutex
	var insertFn notify.InsertFunc
	enqueue := func(ctx context.Context, args notify.DeliverArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, args)
	}
	notifier := notify.NewNotifier(enqueue, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewDeliverWorker(notificationRepo, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.NotifyWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args notify.DeliverArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// Embedding service client
	embedder := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingModel,
		time.Duration(cfg.EmbeddingTimeoutMs)*time.Millisecond)

	// Worker registry
	registrySvc := registry.NewService(workerRepo, embedder, logger)
	registryHandler := registry.NewHandler(registrySvc, logger)

	// Core services
	ledgerSvc := ledger.NewService(pool, taskRepo, applicantRepo, notifier, logger)
	lifecycleSvc := services.NewTaskLifecycle(pool, taskRepo, applicantRepo, workerRepo, notifier, logger)
	escrowSvc := services.NewEscrowService(pool, taskRepo, workerRepo, notifier, logger)
	matcher := services.NewMatcher(workerRepo, embedder, logger)

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(authHandler))

	authMW := middleware.AuthRequired(authSvc)
	RegisterV1Routes(mux, taskRepo, notificationRepo,
		ledgerSvc, lifecycleSvc, escrowSvc, matcher, registryHandler,
		validator, authMW, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers notifications)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
