package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a stored outbox event. It is created in the same transaction as
// the business mutation it describes and mutated once, by the relay, when
// delivery to every enabled endpoint has succeeded.
type Event struct {
	ID           uuid.UUID
	EventType    string
	Payload      json.RawMessage
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	DeliveredAt  *time.Time
}

// ValidateEvent checks the fields required before an event may be appended.
func ValidateEvent(eventType string, payload json.RawMessage) error {
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if len(payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}

	return nil
}
