package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/casca-store/storefront/internal/config"
	"github.com/casca-store/storefront/internal/events"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	monitor, err := events.NewDLQMonitor(cfg.KafkaBrokers, "dlq-monitor-group", events.TopicNotificationsDLQ, cfg.DLQReplay, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ monitor")
	}
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := monitor.Run(ctx); err != nil {
			logger.WithError(err).Error("DLQ monitor stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
	}

	logger.Info("Shutting down DLQ monitor...")
	cancel()
}
