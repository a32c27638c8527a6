package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/karpay/payments/internal/webhook"
)

// Writer appends an event inside the caller's transaction. The event becomes
// visible if and only if that transaction commits; the writer never touches
// the network.
type Writer interface {
	// Append writes a fresh event with a null delivery timestamp and returns
	// its id.
	Append(ctx context.Context, tx pgx.Tx, eventType string, payload json.RawMessage) (uuid.UUID, error)
}

// Store provides claimed batches of undelivered events to the relay.
//
// Claims are leases, not locks: a claim expires after the lease duration so
// a crashed worker never strands an event.
type Store interface {
	// Claim selects up to limit undelivered events that are due and not
	// currently leased, oldest first, and leases them for the given duration.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Event, error)
	// MarkDelivered sets the delivery timestamp and releases the claim.
	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error
	// MarkFailed increments the attempt count, records the error, schedules
	// the next attempt, and releases the claim.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error
	// MarkPermanentlyFailed takes the event out of rotation after the attempt
	// ceiling; the delivery timestamp stays null for manual intervention.
	MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, lastError string, failedAt time.Time) error
	// ReleaseClaims clears leases without changing retry state, used on
	// graceful shutdown.
	ReleaseClaims(ctx context.Context, ids []uuid.UUID) error
}

// PendingCounter optionally reports the undelivered event backlog.
type PendingCounter interface {
	// PendingCount returns the current number of undelivered events.
	PendingCount(ctx context.Context) (int, error)
}

// EndpointSource supplies the fan-out snapshot for a delivery attempt.
type EndpointSource interface {
	// ListEnabled returns the endpoints currently eligible for fan-out.
	ListEnabled(ctx context.Context) ([]webhook.Endpoint, error)
}

// Sender delivers one event to one endpoint.
type Sender interface {
	// Send delivers the payload and returns an error on rejection or timeout.
	Send(ctx context.Context, endpoint webhook.Endpoint, delivery webhook.Delivery) error
}
