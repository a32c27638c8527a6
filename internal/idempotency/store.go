package idempotency

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store persists idempotency records. All methods run inside the caller's
// transaction so record state commits atomically with the guarded operation.
type Store interface {
	// Reserve inserts a placeholder record and reports whether this caller
	// won the (key, endpoint) slot.
	Reserve(ctx context.Context, tx pgx.Tx, key, endpoint, requestHash string) (bool, error)
	// Find returns the record for (key, endpoint).
	Find(ctx context.Context, tx pgx.Tx, key, endpoint string) (Record, error)
	// Complete stores the produced response and resource link on a reserved record.
	Complete(ctx context.Context, tx pgx.Tx, key, endpoint string, body json.RawMessage, resourceID *uuid.UUID) error
	// FillResponse repairs a record whose response was lost to a crash.
	FillResponse(ctx context.Context, tx pgx.Tx, key, endpoint string, body json.RawMessage) error
}

// PgStore is the Postgres-backed Store.
type PgStore struct{}

var _ Store = PgStore{}

// NewStore constructs the Postgres idempotency store.
func NewStore() PgStore {
	return PgStore{}
}

// Reserve claims (key, endpoint) via the table's primary key. A concurrent
// loser gets zero rows back once the winner commits and falls through to the
// read path.
func (PgStore) Reserve(ctx context.Context, tx pgx.Tx, key, endpoint, requestHash string) (bool, error) {
	tag, err := tx.Exec(
		ctx,
		`INSERT INTO idempotency_keys (key, endpoint, request_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key, endpoint) DO NOTHING`,
		key,
		endpoint,
		requestHash,
	)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Find returns the stored record for (key, endpoint).
func (PgStore) Find(ctx context.Context, tx pgx.Tx, key, endpoint string) (Record, error) {
	record := Record{Key: key, Endpoint: endpoint}
	err := tx.QueryRow(
		ctx,
		`SELECT request_hash, response_body, payment_intent_id, created_at
		 FROM idempotency_keys
		 WHERE key = $1 AND endpoint = $2`,
		key,
		endpoint,
	).Scan(&record.RequestHash, &record.ResponseBody, &record.ResourceID, &record.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("find idempotency key: %w", err)
	}

	return record, nil
}

// Complete stores the response and the created resource id.
func (PgStore) Complete(ctx context.Context, tx pgx.Tx, key, endpoint string, body json.RawMessage, resourceID *uuid.UUID) error {
	_, err := tx.Exec(
		ctx,
		`UPDATE idempotency_keys
		 SET response_body = $3, payment_intent_id = $4
		 WHERE key = $1 AND endpoint = $2`,
		key,
		endpoint,
		body,
		resourceID,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}

	return nil
}

// FillResponse stores a reconstructed response so future retries replay fast.
func (PgStore) FillResponse(ctx context.Context, tx pgx.Tx, key, endpoint string, body json.RawMessage) error {
	_, err := tx.Exec(
		ctx,
		`UPDATE idempotency_keys
		 SET response_body = $3
		 WHERE key = $1 AND endpoint = $2`,
		key,
		endpoint,
		body,
	)
	if err != nil {
		return fmt.Errorf("fill idempotency response: %w", err)
	}

	return nil
}
