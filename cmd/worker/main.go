package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/congregate/congregate/internal/accounts"
	"github.com/congregate/congregate/internal/app"
	"github.com/congregate/congregate/internal/identity"
	jobmetrics "github.com/congregate/congregate/internal/jobs"
	"github.com/congregate/congregate/internal/platform/db"
	"github.com/congregate/congregate/internal/shared"
	"github.com/congregate/congregate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	verifier, err := identity.NewTokenVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTAudience)
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}
	identityClient, err := identity.NewClient(identity.ClientConfig{
		BaseURL:    cfg.IdentityURL,
		AnonKey:    cfg.IdentityAnonKey,
		ServiceKey: cfg.IdentityServiceKey,
		Timeout:    cfg.IdentityTimeout,
		Logger:     logger,
	}, verifier)
	if err != nil {
		logger.Error("init identity client", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	// Retries never enqueue further retries; the worker's own backoff covers them.
	accountService := accounts.NewService(accounts.NewRepository(pool), identityClient, nil, shared.NewAuditLogger(pool), nil, logger)
	repairJob := jobs.NewIdentityRepairJob(accountService, logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{Store: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: metrics}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(7 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: append(repairJob.Handlers(),
			jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle}),
		Cron: []jobs.CronRegistration{
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
