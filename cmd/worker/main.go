package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/app"
	jobmetrics "github.com/Taro112233/Thoen-Substock-sub000/internal/jobs"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/db"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/receiving"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
	"github.com/Taro112233/Thoen-Substock-sub000/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ledgerRepo := stockledger.NewRepository(pool)
	ledgerService := stockledger.NewService(ledgerRepo, idempotencyStore)

	requisitionRepo := requisition.NewRepository(pool)
	requisitionService := requisition.NewService(requisitionRepo, nil, approvalRecorder, auditLogger, nil)

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receivingRepo, ledgerService, requisitionService, idempotencyStore, auditLogger, nil)

	sweepTask, err := jobs.NewSessionSweepTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(time.Now())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: jobs.NewSessionSweepHandler(receivingService, cfg.SessionStaleAfter, metrics, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, cfg.IdempotencyRetention, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
