package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations runs database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payment_requests (
			id BIGSERIAL PRIMARY KEY,
			batch_id UUID NOT NULL,
			session_id TEXT NOT NULL,
			participant_index INT NOT NULL,
			participant_count INT NOT NULL,
			merchant TEXT NOT NULL DEFAULT '',
			fiat_amount NUMERIC(38, 8) NOT NULL,
			currency TEXT NOT NULL,
			crypto_amount NUMERIC(60, 30) NOT NULL,
			asset TEXT NOT NULL,
			rate NUMERIC(38, 8) NOT NULL,
			quoted_at TIMESTAMPTZ NOT NULL,
			chain_id BIGINT NOT NULL,
			address TEXT NOT NULL,
			uri TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (batch_id, participant_index)
		);
		CREATE INDEX IF NOT EXISTS idx_payment_requests_session ON payment_requests(session_id, created_at DESC);
	`)
	return err
}
