package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool configures and returns a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS identity_keys (
    field    TEXT NOT NULL,
    value    TEXT NOT NULL,
    owner_id UUID NOT NULL,
    PRIMARY KEY (field, value)
);
CREATE INDEX IF NOT EXISTS identity_keys_owner_idx ON identity_keys (owner_id);

CREATE TABLE IF NOT EXISTS users (
    id                  UUID PRIMARY KEY,
    username            TEXT NOT NULL UNIQUE,
    password_hash       BYTEA NOT NULL,
    email               TEXT NOT NULL UNIQUE,
    mobile              TEXT NOT NULL UNIQUE,
    first_name          TEXT NOT NULL,
    last_name           TEXT NOT NULL,
    age                 INTEGER NOT NULL,
    role                TEXT NOT NULL DEFAULT 'normal',
    status              TEXT NOT NULL DEFAULT 'pending',
    policyholder_synced BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_users (
    id              UUID PRIMARY KEY,
    username        TEXT NOT NULL UNIQUE,
    password_hash   BYTEA NOT NULL,
    email           TEXT NOT NULL UNIQUE,
    mobile          TEXT NOT NULL UNIQUE,
    first_name      TEXT NOT NULL,
    last_name       TEXT NOT NULL,
    age             INTEGER NOT NULL,
    email_code      TEXT NOT NULL DEFAULT '',
    email_verified  BOOLEAN NOT NULL DEFAULT FALSE,
    mobile_code     TEXT NOT NULL DEFAULT '',
    mobile_verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pending_users_created_idx ON pending_users (created_at);
`

// Migrate creates the identity tables when they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
