// Package postgres implements the outbox writer and relay store on top of a
// pgx pool, using SKIP LOCKED claiming with lease expiry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/karpay/payments/internal/outbox"
)

const maxErrorLen = 1024

// ErrPoolRequired indicates the store was built without a pool.
var ErrPoolRequired = errors.New("outbox postgres: pool is required")

const eventColumns = "id, event_type, payload, attempt_count, COALESCE(last_error, ''), created_at, delivered_at"

// claimQuery selects due, unleased, undelivered events oldest first. SKIP
// LOCKED keeps concurrent claiming transactions off each other's rows; the
// lease written afterwards keeps the claim exclusive once the transaction
// commits.
const claimQuery = `SELECT ` + eventColumns + `
	FROM outbox_events
	WHERE delivered_at IS NULL
	  AND failed_at IS NULL
	  AND next_attempt_at <= $1
	  AND (claimed_until IS NULL OR claimed_until < $1)
	ORDER BY created_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

// Store is a Postgres-backed outbox.
type Store struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

var _ outbox.Writer = (*Store)(nil)
var _ outbox.Store = (*Store)(nil)
var _ outbox.PendingCounter = (*Store)(nil)

// NewStore constructs a Postgres outbox store.
func NewStore(pool *pgxpool.Pool, clock clockwork.Clock) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Store{pool: pool, clock: clock}, nil
}

// Append writes a fresh event inside the caller's transaction and returns
// its id. The event becomes visible only if that transaction commits.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, eventType string, payload json.RawMessage) (uuid.UUID, error) {
	if err := outbox.ValidateEvent(eventType, payload); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := tx.Exec(
		ctx,
		`INSERT INTO outbox_events (id, event_type, payload, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		id,
		eventType,
		payload,
		s.clock.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox postgres: insert failed: %w", err)
	}

	return id, nil
}

// Claim leases up to limit due events for the relay.
func (s *Store) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: begin claim tx failed: %w", err)
	}

	now := s.clock.Now().UTC()

	events, err := s.selectClaimable(ctx, tx, now, limit)
	if err != nil {
		_ = tx.Rollback(ctx)

		return nil, err
	}
	if len(events) == 0 {
		_ = tx.Rollback(ctx)

		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}

	if _, err := tx.Exec(
		ctx,
		`UPDATE outbox_events SET claimed_until = $1 WHERE id = ANY($2)`,
		now.Add(lease),
		ids,
	); err != nil {
		_ = tx.Rollback(ctx)

		return nil, fmt.Errorf("outbox postgres: lease update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox postgres: claim commit failed: %w", err)
	}

	return events, nil
}

func (s *Store) selectClaimable(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]outbox.Event, error) {
	rows, err := tx.Query(ctx, claimQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: claim select failed: %w", err)
	}
	defer rows.Close()

	events := make([]outbox.Event, 0, limit)
	for rows.Next() {
		var event outbox.Event
		if err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.Payload,
			&event.AttemptCount,
			&event.LastError,
			&event.CreatedAt,
			&event.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("outbox postgres: claim scan failed: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox postgres: claim rows failed: %w", err)
	}

	return events, nil
}

// MarkDelivered sets the delivery timestamp exactly once and releases the lease.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	_, err := s.pool.Exec(
		ctx,
		`UPDATE outbox_events
		 SET delivered_at = $2, claimed_until = NULL, last_error = NULL
		 WHERE id = $1 AND delivered_at IS NULL`,
		id,
		deliveredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("outbox postgres: mark delivered failed: %w", err)
	}

	return nil
}

// MarkFailed records a retryable failure and schedules the next attempt.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	_, err := s.pool.Exec(
		ctx,
		`UPDATE outbox_events
		 SET attempt_count = attempt_count + 1,
		     last_error = $2,
		     next_attempt_at = $3,
		     claimed_until = NULL
		 WHERE id = $1`,
		id,
		truncateError(lastError),
		nextAttemptAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("outbox postgres: mark failed update failed: %w", err)
	}

	return nil
}

// MarkPermanentlyFailed takes the event out of rotation. delivered_at stays
// NULL so the row remains visible for manual intervention.
func (s *Store) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, lastError string, failedAt time.Time) error {
	_, err := s.pool.Exec(
		ctx,
		`UPDATE outbox_events
		 SET attempt_count = attempt_count + 1,
		     last_error = $2,
		     failed_at = $3,
		     claimed_until = NULL
		 WHERE id = $1`,
		id,
		truncateError(lastError),
		failedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("outbox postgres: mark permanent failure failed: %w", err)
	}

	return nil
}

// ReleaseClaims clears leases without touching retry state.
func (s *Store) ReleaseClaims(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(
		ctx,
		`UPDATE outbox_events SET claimed_until = NULL WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("outbox postgres: release claims failed: %w", err)
	}

	return nil
}

// PendingCount returns the number of undelivered, non-dead events.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE delivered_at IS NULL AND failed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("outbox postgres: pending count failed: %w", err)
	}

	return count, nil
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
