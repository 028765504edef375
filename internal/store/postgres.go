package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type pgQueries struct {
	db dbtx
}

type PostgresStore struct {
	*pgQueries
	db     *sql.DB
	logger *logrus.Logger
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
}

// OpenPostgres connects, waits for the database to accept connections and
// creates the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var pingErr error
	for i := 0; i < 30; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("database not reachable: %w", pingErr)
	}

	s := NewPostgresStore(db, logger)
	if err := s.CreateTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		pgQueries: &pgQueries{db: db},
		db:        db,
		logger:    logger,
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			email VARCHAR(320) NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			picture TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS configurations (
			id VARCHAR(255) PRIMARY KEY,
			image_url TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			color VARCHAR(32),
			model VARCHAR(32),
			material VARCHAR(32),
			finish VARCHAR(32),
			cropped_image_url TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS addresses (
			id VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT NOT NULL,
			country TEXT NOT NULL,
			postal_code TEXT NOT NULL,
			state TEXT NOT NULL,
			phone_number TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			configuration_id VARCHAR(255) NOT NULL REFERENCES configurations(id),
			amount BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING'
				CHECK (status IN ('PENDING', 'PROCESSING', 'SHIPPED', 'DELIVERED', 'CANCELLED')),
			is_paid BOOLEAN NOT NULL DEFAULT FALSE,
			shipping_address_id VARCHAR(255) REFERENCES addresses(id),
			billing_address_id VARCHAR(255) REFERENCES addresses(id),
			cancel_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			user_name TEXT NOT NULL,
			user_role TEXT NOT NULL,
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			review_text TEXT NOT NULL,
			photos TEXT[] NOT NULL DEFAULT '{}',
			user_avatar TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id VARCHAR(255) PRIMARY KEY,
			category VARCHAR(64) NOT NULL,
			nps INTEGER CHECK (nps BETWEEN 0 AND 10),
			message TEXT NOT NULL,
			images TEXT[] NOT NULL DEFAULT '{}',
			email TEXT,
			ok_to_contact BOOLEAN NOT NULL DEFAULT FALSE,
			consent BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wishlist (
			id VARCHAR(255) PRIMARY KEY,
			configuration_id VARCHAR(255) NOT NULL,
			image_url TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			user_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_configurations_image_url ON configurations(image_url)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_paid_created_at ON orders(is_paid, created_at)`,
		// At most one open order per (user, configuration); backs the
		// conditional insert in CreateOrderIfAbsent.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_open_per_configuration
			ON orders(user_id, configuration_id)
			WHERE is_paid = FALSE AND status <> 'CANCELLED'`,
		`CREATE INDEX IF NOT EXISTS idx_wishlist_user_id ON wishlist(user_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func fromNullString[T ~string](ns sql.NullString) *T {
	if !ns.Valid {
		return nil
	}
	v := T(ns.String)
	return &v
}
