package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/karpay/payments/internal/postgres"
)

const (
	// lookupRetries bounds the local retry loop for records reserved by a
	// concurrent winner that has not committed its response yet.
	lookupRetries = 3
	retryDelay    = 50 * time.Millisecond
)

// Result is what a guarded operation produces on first execution.
type Result struct {
	Body       json.RawMessage
	ResourceID *uuid.UUID
}

// Operation is the business side effect guarded by an idempotency key.
//
// Run executes inside the same transaction that records the key, so the side
// effect and the record commit or roll back together. Rebuild reconstructs
// the response from the linked resource when a crash lost the stored
// response; it may be nil for operations without a resource link.
type Operation struct {
	Run     func(ctx context.Context, tx pgx.Tx) (Result, error)
	Rebuild func(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (json.RawMessage, error)
}

// Guard deduplicates retried requests by (key, endpoint) and replays stored
// responses instead of re-executing side effects.
type Guard struct {
	run    func(ctx context.Context, fn func(tx pgx.Tx) error) error
	store  Store
	logger zerolog.Logger
}

// NewGuard constructs a Guard executing against the given pool.
func NewGuard(pool *pgxpool.Pool, store Store, logger zerolog.Logger) *Guard {
	return &Guard{
		run: func(ctx context.Context, fn func(tx pgx.Tx) error) error {
			return postgres.WithinTx(ctx, pool, fn)
		},
		store:  store,
		logger: logger,
	}
}

// Execute runs op at most once for (key, endpoint, body).
//
// A first attempt reserves the key, runs op, and stores its response; a
// retry with the same body replays that response without re-executing op; a
// retry with a different body fails with ErrKeyConflict.
func (g *Guard) Execute(ctx context.Context, key, endpoint string, body []byte, op Operation) (json.RawMessage, error) {
	requestHash := Fingerprint(body)

	var lastErr error
	for attempt := 0; attempt <= lookupRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return nil, err
			}
		}

		response, err := g.attempt(ctx, key, endpoint, requestHash, op)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, errRecordIncomplete) {
			return nil, err
		}

		g.logger.Debug().
			Str("idempotency_key", key).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Msg("idempotency record incomplete; retrying lookup")
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrTransient, lastErr)
}

func (g *Guard) attempt(ctx context.Context, key, endpoint, requestHash string, op Operation) (json.RawMessage, error) {
	var response json.RawMessage

	err := g.run(ctx, func(tx pgx.Tx) error {
		reserved, err := g.store.Reserve(ctx, tx, key, endpoint, requestHash)
		if err != nil {
			return err
		}

		if reserved {
			result, err := op.Run(ctx, tx)
			if err != nil {
				return err
			}
			if err := g.store.Complete(ctx, tx, key, endpoint, result.Body, result.ResourceID); err != nil {
				return err
			}

			response = result.Body

			return nil
		}

		record, err := g.store.Find(ctx, tx, key, endpoint)
		if err != nil {
			// The reservation lost but the row is not visible yet; converge by
			// retrying the lookup.
			if errors.Is(err, pgx.ErrNoRows) {
				return errRecordIncomplete
			}

			return err
		}

		if record.RequestHash != requestHash {
			return ErrKeyConflict
		}

		if record.Complete() {
			response = record.ResponseBody

			return nil
		}

		// Crash fallback: the winner reserved the key and created the resource
		// but never stored the response. Rebuild it and repair the record.
		if record.ResourceID != nil && op.Rebuild != nil {
			rebuilt, err := op.Rebuild(ctx, tx, *record.ResourceID)
			if err != nil {
				return err
			}
			if err := g.store.FillResponse(ctx, tx, key, endpoint, rebuilt); err != nil {
				return err
			}

			response = rebuilt

			return nil
		}

		return errRecordIncomplete
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
