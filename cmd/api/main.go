package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/note-enricher/internal/adapter/postgres"
	redisadapter "github.com/user/note-enricher/internal/adapter/redis"
	"github.com/user/note-enricher/internal/bootstrap"
	"github.com/user/note-enricher/internal/delivery/http/handler"
	"github.com/user/note-enricher/internal/delivery/http/router"
	"github.com/user/note-enricher/internal/usecase"
	"github.com/user/note-enricher/pkg/config"
	"github.com/user/note-enricher/pkg/logger"
	"github.com/user/note-enricher/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		panic("could not load config: " + err.Error())
	}

	// --- Logger ---
	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		panic("could not build logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	log.Info("Logger initialized", zap.String("level", cfg.LogLevel))

	// --- Metrics ---
	metrics.Init()

	ctx := context.Background()

	// --- PostgreSQL ---
	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("Unable to connect to database", zap.Error(err))
	}
	defer dbpool.Close()
	if err := postgres.EnsureSchema(ctx, dbpool); err != nil {
		log.Fatal("Unable to prepare database schema", zap.Error(err))
	}
	log.Info("PostgreSQL connection pool established")

	// --- Redis job store ---
	rdb, err := redisadapter.NewClient(redisadapter.Config{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Fatal("Invalid Redis configuration", zap.Error(err))
	}
	store := redisadapter.NewJobStore(rdb, cfg.QueueName, redisadapter.JobStoreOptions{
		CompletedRetention: cfg.JobRetention,
		FailedRetention:    cfg.FailedRetention,
	})
	active := redisadapter.NewActiveJobRepo(rdb, cfg.QueueName)

	// --- Extraction ---
	extractor := bootstrap.NewExtractor(cfg, log)
	defer extractor.Close()
	defaults := bootstrap.DefaultOptions(cfg)

	// --- Queue and worker ---
	rt, err := usecase.Init(func() (*usecase.Runtime, error) {
		return usecase.NewRuntime(store, active,
			usecase.QueueOptions{
				Name:         cfg.QueueName,
				MaxAttempts:  cfg.MaxAttempts,
				ProbeTimeout: cfg.QueueProbeTimeout,
				Dedupe:       cfg.QueueDedupe,
			},
			usecase.WorkerOptions{
				Concurrency:  cfg.WorkerConcurrency,
				PollInterval: cfg.PollInterval,
				Policy: usecase.RetryPolicy{
					MaxAttempts: cfg.MaxAttempts,
					BackoffBase: cfg.BackoffBase,
					BackoffCap:  cfg.BackoffCap,
				},
				JobTimeout:   cfg.TotalTimeout + time.Minute,
				ReapInterval: cfg.ReapInterval,
			},
			log,
		), nil
	})
	if err != nil {
		log.Fatal("Unable to initialize job runtime", zap.Error(err))
	}

	processor := usecase.NewNoteProcessor(
		postgres.NewNoteRepo(dbpool),
		postgres.NewExtractionRepo(dbpool),
		extractor,
		defaults,
		log,
	)
	if _, err := rt.StartWorker(ctx, processor.Process); err != nil {
		// The API still answers; enqueue reports the store as unavailable.
		log.Error("Worker not started", zap.Error(err))
	}

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(rt.Queue(), extractor, defaults, map[string]handler.Pinger{
		"postgres": dbpool,
		"redis":    store,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(apiHandler, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Could not listen on port", zap.String("port", cfg.ServerPort), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := usecase.Teardown(shutdownCtx); err != nil {
		log.Error("Job runtime did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exiting")
}
