package idempotency

import "errors"

var (
	// ErrKeyConflict is returned when a key is reused with a materially
	// different request body. Surfaced to the API caller, never retried.
	ErrKeyConflict = errors.New("idempotency key reused with different request")
	// ErrTransient indicates a store race that did not converge within the
	// local retry budget; the caller may retry the whole request.
	ErrTransient = errors.New("transient idempotency store conflict")

	// errRecordIncomplete marks a reserved record whose winner has not stored
	// a response yet; the lookup is retried locally.
	errRecordIncomplete = errors.New("idempotency record has no stored response yet")
)
