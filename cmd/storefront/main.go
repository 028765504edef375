package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/cart"
	"github.com/casca-store/storefront/internal/checkout"
	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/casca-store/storefront/internal/config"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/dashboard"
	"github.com/casca-store/storefront/internal/events"
	"github.com/casca-store/storefront/internal/feedback"
	"github.com/casca-store/storefront/internal/imagegen"
	"github.com/casca-store/storefront/internal/mail"
	"github.com/casca-store/storefront/internal/orders"
	"github.com/casca-store/storefront/internal/payments"
	"github.com/casca-store/storefront/internal/reviews"
	"github.com/casca-store/storefront/internal/server"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/internal/users"
	"github.com/casca-store/storefront/internal/webhooks"
	"github.com/casca-store/storefront/internal/websocket"
	"github.com/casca-store/storefront/internal/wishlist"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := openStore(ctx, cfg, logger)
	defer db.Close()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	publishers := []events.Publisher{hub}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publishers = append(publishers, producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set. Order events only reach websocket clients")
	}
	publisher := events.NewFanOut(logger, publishers...)

	breakers := circuitbreaker.NewManager(logger)

	var sender mail.Sender = mail.NewNoopSender(logger)
	if cfg.ResendAPIKey != "" {
		sender = mail.NewResendClient(cfg.ResendAPIKey, cfg.MailAPIURL, cfg.MailFrom,
			breakers.GetOrCreate("mail", mail.BreakerConfig()), logger)
	}
	mailer := mail.NewMailer(sender, logger)

	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set. Checkout session creation will fail")
	}
	gateway := payments.NewStripeGateway(cfg.StripeSecretKey, logger)

	authenticator := auth.NewAuthenticator(cfg.AuthJWTSecret, cfg.AdminEmail, logger)
	resolver := configuration.NewResolver(db, logger)
	orderService := orders.NewService(db, resolver, publisher, logger)
	builder := checkout.NewBuilder(gateway, checkout.Options{
		ServerURL:       cfg.ServerURL,
		Currency:        cfg.Currency,
		TaxRoundingUnit: cfg.TaxRoundingUnit,
	}, logger)

	sessions := cart.NewSessionStore(cfg.SessionKey, isHTTPS(cfg.ServerURL))
	bus := cart.NewBus()
	defer server.BridgeCart(bus, hub)()

	limiter := imagegen.NewIPLimiter(cfg.ImageRateRPS, cfg.ImageRateBurst)
	go limiter.Run(ctx, time.Minute)
	generator := imagegen.NewGenerator(cfg.ImageGenURL, breakers.GetOrCreate("imagegen", imagegen.BreakerConfig()), logger)

	handler := server.NewRouter(server.Handlers{
		Auth:          authenticator,
		Configuration: configuration.NewHandler(resolver, logger),
		Orders:        orders.NewHandler(orderService, logger),
		Checkout:      checkout.NewHandler(checkout.NewService(orderService, builder, logger), sessions, logger),
		Webhooks:      webhooks.NewHandler(payments.NewWebhookVerifier(cfg.StripeWebhookSecret), db, mailer, publisher, logger),
		Cart:          cart.NewHandler(sessions, resolver, bus, logger),
		Images:        imagegen.NewHandler(generator, limiter, logger),
		Dashboard:     dashboard.NewHandler(db, db, dashboard.NewAnalyzer(logger), breakers, hub, logger),
		Reviews:       reviews.NewHandler(db, logger),
		Feedback:      feedback.NewHandler(db, logger),
		Wishlist:      wishlist.NewHandler(db, logger),
		Users:         users.NewHandler(db, mailer, logger),
		Hub:           hub,
	}, cfg.ServerURL, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Port,
			"store_driver": cfg.StoreDriver,
		}).Info("Starting storefront")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) store.Store {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("Using in-memory store. Data is lost on restart")
		return store.NewMemoryStore()
	}
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
	return db
}

func isHTTPS(serverURL string) bool {
	return strings.HasPrefix(serverURL, "https://")
}
