package outbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEventAcceptsValidInput(t *testing.T) {
	err := ValidateEvent("payment_intent.created", json.RawMessage(`{"amount":2500}`))
	require.NoError(t, err)
}

func TestValidateEventRequiresType(t *testing.T) {
	err := ValidateEvent("", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrEventTypeRequired)
}

func TestValidateEventRequiresPayload(t *testing.T) {
	err := ValidateEvent("payment_intent.created", nil)
	assert.ErrorIs(t, err, ErrPayloadRequired)
}

func TestValidateEventRejectsInvalidJSON(t *testing.T) {
	err := ValidateEvent("payment_intent.created", json.RawMessage(`{"amount":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
