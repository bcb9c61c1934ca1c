package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spendwatch/internal/amqp"
	"spendwatch/internal/backend"
	"spendwatch/internal/cli"
	"spendwatch/internal/config"
	"spendwatch/internal/log"
	"spendwatch/internal/notify"
	"spendwatch/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// consumer is the part of *amqp.Client the worker drives.
type consumer interface {
	ConsumeBudgetAlerts(ctx context.Context, handler amqp.AlertHandler) error
	Close() error
}

// deps builds the worker's collaborators; tests swap them for in-process fakes.
type deps struct {
	openBackend func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.BackendResult, error)
	newSender   func(token string) (notify.Sender, error)
	newConsumer func(cfg *config.Config, logger *log.Logger) (consumer, error)
}

func defaultDeps() deps {
	return deps{
		openBackend: func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.BackendResult, error) {
			bcfg, err := backend.FromAppConfig(cfg)
			if err != nil {
				return nil, err
			}
			return backend.NewFactory(logger).CreateBackend(ctx, bcfg)
		},
		newSender: func(token string) (notify.Sender, error) {
			return notify.NewTelegramSender(token)
		},
		newConsumer: func(cfg *config.Config, logger *log.Logger) (consumer, error) {
			return amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		},
	}
}

func main() {
	cli.LoadEnvFile()
	boot := cli.SetupLogger(nil, log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	ctx, cancel := context.WithCancel(context.Background())
	_, done := cli.GracefulShutdown(logger, shutdownTimeout, cancel)

	code := run(ctx, cfg, logger, defaultDeps())
	cancel()
	if code == 0 {
		<-done
		logger.Info("Alert worker stopped")
	}
	os.Exit(code)
}

// run consumes alerts until ctx ends and returns the process exit code.
// Everything it opens is closed before it returns.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger, d deps) int {
	logger.Info("Starting alert-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the alert worker")
		return 1
	}

	be, err := d.openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldBackend, cfg.DataBackend, log.FieldError, err)
		return 1
	}
	defer func() {
		if be.Cleanup == nil {
			return
		}
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	}()

	var sender notify.Sender
	if cfg.TelegramBotToken != "" {
		sender, err = d.newSender(cfg.TelegramBotToken)
		if err != nil {
			logger.Error("Failed to initialize Telegram bot", log.FieldError, err)
			return 1
		}
		logger.Info("Delivering alerts through Telegram")
	} else {
		logger.Info("TELEGRAM_BOT_TOKEN not set - alerts will only be logged")
	}

	client, err := d.newConsumer(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		return 1
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	}()

	alerts := worker.NewAlertWorker(be.Store, sender, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeBudgetAlerts(gctx, alerts.HandleBudgetAlert)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		return 1
	}
	return 0
}
