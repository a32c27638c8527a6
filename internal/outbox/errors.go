package outbox

import "errors"

var (
	// ErrStoreRequired indicates the relay was built without a store.
	ErrStoreRequired = errors.New("outbox store is required")
	// ErrEndpointSourceRequired indicates the relay was built without an endpoint source.
	ErrEndpointSourceRequired = errors.New("outbox endpoint source is required")
	// ErrSenderRequired indicates the relay was built without a sender.
	ErrSenderRequired = errors.New("outbox sender is required")
	// ErrEventTypeRequired is returned when an appended event has no type.
	ErrEventTypeRequired = errors.New("outbox event type is required")
	// ErrPayloadRequired is returned when an appended event has no payload.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when an appended payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrWorkerPanic indicates a relay worker panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
)
