// Package store persists trades, settings, balance history and engine
// state in PostgreSQL, with a Redis cache in front of hot reads.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrPersistence marks storage failures. The trading cycle aborts the tick
// before any in-memory state changes when it sees this.
var ErrPersistence = errors.New("persistence failure")

// Config holds database configuration.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := logger.With().Str("component", "store").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to postgres")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates or updates the schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2) NOT NULL DEFAULT 1,
			profit DECIMAL(20, 8) NOT NULL,
			profit_percent DECIMAL(10, 4) NOT NULL,
			exit_reason VARCHAR(20) NOT NULL,
			sizing_reason TEXT,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			reason TEXT NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_generated_at ON signals(generated_at)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL,
			value_type VARCHAR(10) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			updated_by VARCHAR(100)
		)`,

		`CREATE TABLE IF NOT EXISTS balance_history (
			id SERIAL PRIMARY KEY,
			equity DECIMAL(20, 8) NOT NULL,
			peak DECIMAL(20, 8) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_history_recorded_at ON balance_history(recorded_at)`,

		`CREATE TABLE IF NOT EXISTS engine_state (
			name VARCHAR(50) PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("migrations completed")
	return nil
}
