package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists payment intents in Postgres. Mutations take the caller's
// transaction so they commit together with idempotency records and outbox
// events.
type Store struct {
	pool *pgxpool.Pool
}

var _ IntentStore = (*Store)(nil)

// NewStore constructs a Store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes a new intent inside tx.
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, intent Intent) error {
	_, err := tx.Exec(
		ctx,
		`INSERT INTO payment_intents (id, amount, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		intent.ID,
		intent.Amount,
		intent.Currency,
		intent.Status,
		intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}

	return nil
}

// Get returns the intent by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Intent, error) {
	return scanIntent(s.pool.QueryRow(
		ctx,
		`SELECT id, amount, currency, status, created_at
		 FROM payment_intents
		 WHERE id = $1`,
		id,
	))
}

// GetTx returns the intent by id inside the caller's transaction.
func (s *Store) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Intent, error) {
	return scanIntent(tx.QueryRow(
		ctx,
		`SELECT id, amount, currency, status, created_at
		 FROM payment_intents
		 WHERE id = $1`,
		id,
	))
}

// Confirm transitions the intent from requires_confirmation to succeeded.
// The status check and the update are one conditional statement, so a
// concurrent confirm cannot transition the same intent twice.
func (s *Store) Confirm(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Intent, error) {
	intent, err := scanIntent(tx.QueryRow(
		ctx,
		`UPDATE payment_intents
		 SET status = $3
		 WHERE id = $1 AND status = $2
		 RETURNING id, amount, currency, status, created_at`,
		id,
		StatusRequiresConfirmation,
		StatusSucceeded,
	))
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Intent{}, err
	}

	// Zero rows updated: distinguish a missing intent from one in the wrong
	// status.
	if _, err := s.GetTx(ctx, tx, id); err != nil {
		return Intent{}, err
	}

	return Intent{}, ErrNotConfirmable
}

func scanIntent(row pgx.Row) (Intent, error) {
	var intent Intent
	err := row.Scan(&intent.ID, &intent.Amount, &intent.Currency, &intent.Status, &intent.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrNotFound
		}

		return Intent{}, fmt.Errorf("scan payment intent: %w", err)
	}

	return intent, nil
}
