package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/casca-store/storefront/internal/config"
	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/notifier"
	"github.com/casca-store/storefront/internal/store"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without a shared database only events that carry an email can be
	// delivered.
	var users notifier.UserLookup
	if cfg.StoreDriver == config.DriverPostgres {
		db, err := store.OpenPostgres(ctx, store.PostgresConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()
		users = db
	}

	breakers := circuitbreaker.NewManager(logger)
	var sender mail.Sender = mail.NewNoopSender(logger)
	if cfg.ResendAPIKey != "" {
		sender = mail.NewResendClient(cfg.ResendAPIKey, cfg.MailAPIURL, cfg.MailFrom,
			breakers.GetOrCreate("mail", mail.BreakerConfig()), logger)
	} else {
		logger.Warn("RESEND_API_KEY not set. Notifications are only logged")
	}

	consumer, err := events.NewRetryingConsumer(events.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.NotifierGroupID,
		Topics:   notifier.Topics,
		DLQTopic: events.TopicNotificationsDLQ,
		Policy:   events.DefaultRetryPolicy(),
	}, notifier.New(mail.NewMailer(sender, logger), users, logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create consumer")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped")
		}
	}()

	logger.WithFields(logrus.Fields{
		"topics":   notifier.Topics,
		"group_id": cfg.NotifierGroupID,
	}).Info("Notifier started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
	}

	logger.Info("Shutting down notifier...")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("Consumer did not stop in time")
	}
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close consumer")
	}

	m := consumer.Metrics()
	logger.WithFields(logrus.Fields{
		"processed":     m.Processed,
		"succeeded":     m.Succeeded,
		"retries":       m.Retries,
		"dead_lettered": m.DeadLettered,
	}).Info("Notifier stopped")
}
