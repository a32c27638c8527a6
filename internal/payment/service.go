package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/karpay/payments/internal/idempotency"
	"github.com/karpay/payments/internal/outbox"
	"github.com/karpay/payments/internal/postgres"
)

// Event types appended to the outbox by the service.
const (
	EventIntentCreated   = "payment_intent.created"
	EventIntentSucceeded = "payment_intent.succeeded"
)

// endpointCreateIntent scopes idempotency keys to the creation operation.
const endpointCreateIntent = "POST /v1/payment_intents"

// IntentStore is the persistence surface the service needs.
type IntentStore interface {
	Insert(ctx context.Context, tx pgx.Tx, intent Intent) error
	Get(ctx context.Context, id uuid.UUID) (Intent, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Intent, error)
	Confirm(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Intent, error)
}

type guardExecutor interface {
	Execute(ctx context.Context, key, endpoint string, body []byte, op idempotency.Operation) (json.RawMessage, error)
}

// Service implements the payment-intent operations. Every mutation appends
// its outbox event in the same transaction as the row change.
type Service struct {
	run     func(ctx context.Context, fn func(tx pgx.Tx) error) error
	intents IntentStore
	events  outbox.Writer
	guard   guardExecutor
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewService constructs a Service executing against the given pool.
func NewService(
	pool *pgxpool.Pool,
	intents IntentStore,
	events outbox.Writer,
	guard *idempotency.Guard,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		run: func(ctx context.Context, fn func(tx pgx.Tx) error) error {
			return postgres.WithinTx(ctx, pool, fn)
		},
		intents: intents,
		events:  events,
		guard:   guard,
		clock:   clock,
		logger:  logger,
	}
}

// Create creates a payment intent from the raw request body. When
// idempotencyKey is non-empty the creation runs through the idempotency
// guard; a blank key skips deduplication entirely, matching clients that
// never send the header.
func (s *Service) Create(ctx context.Context, idempotencyKey string, body []byte) (json.RawMessage, error) {
	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrMalformedBody
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	op := idempotency.Operation{
		Run: func(ctx context.Context, tx pgx.Tx) (idempotency.Result, error) {
			intent, err := s.createIntent(ctx, tx, req)
			if err != nil {
				return idempotency.Result{}, err
			}

			response, err := json.Marshal(intent)
			if err != nil {
				return idempotency.Result{}, fmt.Errorf("marshal intent: %w", err)
			}

			id := intent.ID

			return idempotency.Result{Body: response, ResourceID: &id}, nil
		},
		Rebuild: func(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (json.RawMessage, error) {
			intent, err := s.intents.GetTx(ctx, tx, resourceID)
			if err != nil {
				return nil, err
			}

			return json.Marshal(intent)
		},
	}

	if idempotencyKey == "" {
		var response json.RawMessage
		err := s.run(ctx, func(tx pgx.Tx) error {
			result, err := op.Run(ctx, tx)
			if err != nil {
				return err
			}

			response = result.Body

			return nil
		})
		if err != nil {
			return nil, err
		}

		return response, nil
	}

	return s.guard.Execute(ctx, idempotencyKey, endpointCreateIntent, body, op)
}

// Get returns the intent by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Intent, error) {
	return s.intents.Get(ctx, id)
}

// Confirm transitions the intent to succeeded and appends the succeeded
// event atomically with the status change.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (Intent, error) {
	var confirmed Intent

	err := s.run(ctx, func(tx pgx.Tx) error {
		intent, err := s.intents.Confirm(ctx, tx, id)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(intent)
		if err != nil {
			return fmt.Errorf("marshal intent: %w", err)
		}

		eventID, err := s.events.Append(ctx, tx, EventIntentSucceeded, payload)
		if err != nil {
			return err
		}

		s.logger.Debug().
			Stringer("payment_intent_id", intent.ID).
			Stringer("event_id", eventID).
			Msg("payment intent confirmed")
		confirmed = intent

		return nil
	})
	if err != nil {
		return Intent{}, err
	}

	return confirmed, nil
}

func (s *Service) createIntent(ctx context.Context, tx pgx.Tx, req CreateRequest) (Intent, error) {
	intent := Intent{
		ID:        uuid.New(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    StatusRequiresConfirmation,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.intents.Insert(ctx, tx, intent); err != nil {
		return Intent{}, err
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return Intent{}, fmt.Errorf("marshal intent: %w", err)
	}

	eventID, err := s.events.Append(ctx, tx, EventIntentCreated, payload)
	if err != nil {
		return Intent{}, err
	}

	s.logger.Debug().
		Stringer("payment_intent_id", intent.ID).
		Stringer("event_id", eventID).
		Msg("payment intent created")

	return intent, nil
}
