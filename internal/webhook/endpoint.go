// Package webhook holds the outbound delivery side: endpoint records, payload
// signing, and the HTTP sender used by the outbox relay.
package webhook

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const secretLength = 32

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Endpoint is a registered webhook destination. Disabled endpoints keep
// their history but are excluded from relay fan-out.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEndpoint builds an enabled endpoint with a fresh signing secret.
func NewEndpoint(url string) (Endpoint, error) {
	secret, err := newSecret()
	if err != nil {
		return Endpoint{}, err
	}

	return Endpoint{
		ID:      uuid.New(),
		URL:     url,
		Secret:  secret,
		Enabled: true,
	}, nil
}

// newSecret returns a 32-character alphanumeric shared secret.
func newSecret() (string, error) {
	buf := make([]byte, secretLength)
	alphabetLen := big.NewInt(int64(len(secretAlphabet)))

	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		buf[i] = secretAlphabet[n.Int64()]
	}

	return string(buf), nil
}
