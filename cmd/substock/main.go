package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/app"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/catalog"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/observability"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/cache"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/db"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/receiving"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
	"github.com/Taro112233/Thoen-Substock-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// catalog lookups fall back to the database when redis is down
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(jobClient)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogCache := catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := catalog.NewService(catalogRepo, catalogCache)

	ledgerRepo := stockledger.NewRepository(dbpool)
	ledgerService := stockledger.NewService(ledgerRepo, idempotencyStore)

	requisitionRepo := requisition.NewRepository(dbpool)
	requisitionService := requisition.NewService(requisitionRepo, catalogService, approvalRecorder, auditLogger, notifier)

	shipmentRepo := shipment.NewRepository(dbpool)
	shipmentService := shipment.NewService(shipmentRepo, auditLogger, notifier)

	receivingRepo := receiving.NewRepository(dbpool)
	receivingService := receiving.NewService(receivingRepo, ledgerService, requisitionService, idempotencyStore, auditLogger, notifier)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RequisitionHandler: requisition.NewHandler(logger, requisitionService, approvalRecorder),
		ShipmentHandler:    shipment.NewHandler(logger, shipmentService),
		ReceivingHandler:   receiving.NewHandler(logger, receivingService),
		CatalogHandler:     catalog.NewHandler(logger, catalogService),
		LedgerHandler:      stockledger.NewHandler(logger, ledgerService),
		JobHandler:         jobHandler,
		Pool:               dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
