package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			email              TEXT NOT NULL UNIQUE,
			password           TEXT NOT NULL,
			role               TEXT NOT NULL DEFAULT 'user',
			subscription_type  TEXT NOT NULL DEFAULT 'free',
			activated_at       TIMESTAMPTZ,
			expires_at         TIMESTAMPTZ,
			card_authorization TEXT,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS transactions (
			reference     TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			plan_type     TEXT NOT NULL,
			amount        BIGINT NOT NULL,
			currency      TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'initialized',
			gateway_tx_id TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			verified_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions(status, created_at);

		CREATE TABLE IF NOT EXISTS webhook_events (
			id          TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			reference   TEXT NOT NULL DEFAULT '',
			result      TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_reference ON webhook_events(reference);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
