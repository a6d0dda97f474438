package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/shopledger/shopledger/internal/app"
	"github.com/shopledger/shopledger/internal/engine"
	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/observability"
	"github.com/shopledger/shopledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	deps, err := app.OpenDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close dependencies", slog.Any("error", err))
		}
	}()

	// The scheduler below drives reconciles; the engine does not poll.
	metrics := observability.NewMetrics()
	opts := deps.EngineOptions(cfg, logger, metrics)
	opts.PollInterval = -1
	eng := engine.New(opts)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	reconcileJob := jobs.NewReconcileJob(eng, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	cronTask, err := jobs.NewReconcileTask("schedule")
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSyncReconcile, Handler: reconcileJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.PollSpec(cfg.SyncPollInterval), Task: cronTask},
		},
	})
	if err != nil {
		return err
	}

	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueReconcile(ctx, "startup"); err != nil {
		logger.Warn("enqueue startup reconcile", slog.Any("error", err))
	}
	if err := client.Close(); err != nil {
		logger.Warn("asynq client close", slog.Any("error", err))
	}

	logger.Info("worker started", slog.String("schedule", jobs.PollSpec(cfg.SyncPollInterval)))
	return worker.Run(ctx)
}
