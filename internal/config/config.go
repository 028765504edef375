package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string
	StoreDriver string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	KafkaBrokers []string

	StripeSecretKey     string
	StripeWebhookSecret string
	ServerURL           string
	Currency            string
	TaxRoundingUnit     int64

	AdminEmail    string
	AuthJWTSecret []byte
	SessionKey    []byte

	ResendAPIKey string
	MailAPIURL   string
	MailFrom     string

	ImageGenURL    string
	ImageRateRPS   float64
	ImageRateBurst int

	LogLevel        logrus.Level
	NotifierGroupID string
	DLQReplay       bool
}

// Load reads an optional .env file and then the process environment.
// Malformed numeric values fall back to their defaults with a warning.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to load .env file")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "casca"),
		DBPassword:          getEnv("DB_PASSWORD", "casca"),
		DBName:              getEnv("DB_NAME", "storefront"),
		DBSSLMode:           getEnv("DB_SSLMODE", "disable"),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ServerURL:           strings.TrimRight(getEnv("SERVER_URL", "http://localhost:3000"), "/"),
		Currency:            strings.ToLower(getEnv("CURRENCY", "inr")),
		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		ResendAPIKey:        getEnv("RESEND_API_KEY", ""),
		MailAPIURL:          getEnv("MAIL_API_URL", "https://api.resend.com"),
		MailFrom:            getEnv("MAIL_FROM", "Casca <onboarding@resend.dev>"),
		ImageGenURL:         getEnv("IMAGE_GEN_URL", "https://image.pollinations.ai/prompt/"),
		NotifierGroupID:     getEnv("NOTIFIER_GROUP_ID", "storefront-notifier"),
		DLQReplay:           getEnv("DLQ_REPLAY", "false") == "true",
	}

	cfg.TaxRoundingUnit = getInt(logger, "TAX_ROUNDING_UNIT", 1)
	if cfg.TaxRoundingUnit < 1 {
		logger.WithField("TAX_ROUNDING_UNIT", cfg.TaxRoundingUnit).Warn("Invalid tax rounding unit, using 1")
		cfg.TaxRoundingUnit = 1
	}
	cfg.ImageRateBurst = int(getInt(logger, "IMAGE_RATE_BURST", 5))
	cfg.ImageRateRPS = getFloat(logger, "IMAGE_RATE_RPS", 1)

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		logger.WithField("LOG_LEVEL", os.Getenv("LOG_LEVEL")).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	cfg.LogLevel = level

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		logger.WithField("PORT", cfg.Port).Warn("Invalid PORT, falling back to 8080")
		cfg.Port = "8080"
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	cfg.AuthJWTSecret = []byte(getEnv("AUTH_JWT_SECRET", ""))
	if len(cfg.AuthJWTSecret) == 0 {
		logger.Warn("AUTH_JWT_SECRET not set. Generating a random secret; issued tokens will not survive a restart")
		cfg.AuthJWTSecret = randomBytes(32)
	}
	cfg.SessionKey = []byte(getEnv("SESSION_KEY", ""))
	if len(cfg.SessionKey) < 32 {
		logger.Warn("SESSION_KEY not set or shorter than 32 bytes. Generating a random key; carts will not survive a restart")
		cfg.SessionKey = randomBytes(32)
	}

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set. Every webhook delivery will be rejected")
	}

	return cfg, nil
}

func (c *Config) IsAdmin(email string) bool {
	return c.AdminEmail != "" && strings.EqualFold(c.AdminEmail, email)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(logger *logrus.Logger, key string, defaultValue int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Invalid integer, using default")
		return defaultValue
	}
	return v
}

func getFloat(logger *logrus.Logger, key string, defaultValue float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		logger.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Invalid number, using default")
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return b
}
