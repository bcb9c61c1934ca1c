package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendwatch/internal/amqp"
	"spendwatch/internal/backend"
	"spendwatch/internal/cache"
	"spendwatch/internal/cli"
	"spendwatch/internal/core"
	apphttp "spendwatch/internal/http"
	"spendwatch/internal/log"
	"spendwatch/internal/notify"
	"spendwatch/internal/ocr"
	"spendwatch/internal/receipts"
	"spendwatch/internal/services"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 10 * time.Minute
	sessionCacheSize     = 10000
)

func main() {
	cli.LoadEnvFile()
	boot := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx := context.Background()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldBackend, cfg.DataBackend, log.FieldError, err)
		os.Exit(1)
	}

	receiptStore, err := receipts.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize receipt storage", log.FieldError, err)
		os.Exit(1)
	}

	// Alerts go to RabbitMQ when configured, otherwise to the log.
	var (
		dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, budget alerts will only be logged", log.FieldError, err)
		} else {
			dispatcher = notify.NewQueueDispatcher(amqpClient)
			logger.Info("Publishing budget alerts", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	sessions := cache.NewLRUCache[core.Session](sessionCacheSize, cfg.SessionTTL)
	caches := cache.NewManager(logger)
	caches.Register(sessions)
	caches.StartCleanup(cacheCleanupInterval)

	loc := cfg.Location()
	st := be.Store
	deps := apphttp.Dependencies{
		Auth: services.NewAuthService(services.AuthServiceConfig{
			Users:      st,
			Sessions:   st,
			Cache:      sessions,
			SessionTTL: cfg.SessionTTL,
			Logger:     logger,
		}),
		Expenses: services.NewExpenseService(services.ExpenseServiceConfig{
			Expenses:      st,
			Receipts:      receiptStore,
			Evaluator:     services.NewBudgetEvaluator(st, st, loc, logger),
			Dispatcher:    dispatcher,
			Logger:        logger,
			NotifyTimeout: cfg.NotifyTimeout,
		}),
		Budgets: services.NewBudgetService(st),
		Reports: services.NewReportService(st, loc),
		Store:   st,
	}
	if cfg.OCREnabled() {
		deps.Scanner = ocr.NewClient(cfg.VeryfiURL, ocr.Credentials{
			ClientID: cfg.VeryfiClientID,
			Username: cfg.VeryfiUsername,
			APIKey:   cfg.VeryfiAPIKey,
		}, cfg.ScanTimeout, logger)
	} else {
		logger.Info("Receipt scanning disabled - Veryfi credentials not set")
	}

	srv, err := apphttp.NewServer(cfg, deps, logger)
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	_, done := cli.GracefulShutdown(logger, shutdownTimeout, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting spendwatch server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"receipts", cfg.ReceiptBackend,
		"timezone", loc.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
