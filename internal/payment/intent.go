// Package payment holds the payment-intent domain: the intent lifecycle and
// the service wiring intents to idempotent creation and outbox events.
package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intent statuses. An intent starts at requires_confirmation and moves to
// succeeded exactly once.
const (
	StatusRequiresConfirmation = "requires_confirmation"
	StatusSucceeded            = "succeeded"
)

// Intent is a payment intent as stored and as returned by the API.
type Intent struct {
	ID        uuid.UUID `json:"id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the body of a payment-intent creation call. Amount is in
// minor units.
type CreateRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Validate checks the request and normalizes the currency to lower case.
func (r *CreateRequest) Validate() error {
	if r.Amount <= 0 {
		return ErrAmountInvalid
	}

	r.Currency = strings.ToLower(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		return ErrCurrencyRequired
	}

	return nil
}
