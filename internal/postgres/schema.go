package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so Migrate can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id UUID PRIMARY KEY,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		response_body JSONB NOT NULL DEFAULT '{}'::jsonb,
		payment_intent_id UUID NULL REFERENCES payment_intents (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (key, endpoint)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempt_count INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		claimed_until TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		delivered_at TIMESTAMPTZ NULL,
		failed_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_undelivered
		ON outbox_events (created_at)
		WHERE delivered_at IS NULL AND failed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the persisted layout if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	return nil
}
