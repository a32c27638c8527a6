package payment

import "errors"

var (
	// ErrMalformedBody is returned when the request body is not valid JSON.
	ErrMalformedBody = errors.New("request body is not valid JSON")
	// ErrAmountInvalid is returned when the amount is not a positive number
	// of minor units.
	ErrAmountInvalid = errors.New("amount must be a positive integer of minor units")
	// ErrCurrencyRequired is returned when the currency is blank.
	ErrCurrencyRequired = errors.New("currency is required")
	// ErrNotFound is returned when no payment intent exists for the id.
	ErrNotFound = errors.New("payment intent not found")
	// ErrNotConfirmable is returned when confirming an intent that is not in
	// the requires_confirmation status.
	ErrNotConfirmable = errors.New("payment intent is not awaiting confirmation")
)
