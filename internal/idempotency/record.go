// Package idempotency makes mutating API operations safely retriable: a
// client-supplied key scopes request deduplication so retried requests
// replay the stored response instead of re-executing side effects.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// placeholder body written when a key is reserved, before the operation's
// real response is stored.
var emptyResponse = []byte("{}")

// Record is the stored outcome of a keyed request. Identified by
// (key, endpoint); at most one record ever exists per pair and it is never
// mutated after completion.
type Record struct {
	Key          string
	Endpoint     string
	RequestHash  string
	ResponseBody json.RawMessage
	// ResourceID links to the domain resource the request created, so the
	// response can be reconstructed if the process crashed after reserving
	// the key but before storing the response.
	ResourceID *uuid.UUID
	CreatedAt  time.Time
}

// Complete reports whether the record holds a stored response rather than
// the reservation placeholder.
func (r Record) Complete() bool {
	trimmed := bytes.TrimSpace(r.ResponseBody)

	return len(trimmed) > 0 && !bytes.Equal(trimmed, emptyResponse)
}

// Fingerprint hashes the canonicalized request body. JSON bodies are
// re-marshalled first so key order does not affect the hash; non-JSON bodies
// hash as raw bytes.
func Fingerprint(body []byte) string {
	canonical := body

	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		if normalized, err := json.Marshal(decoded); err == nil {
			canonical = normalized
		}
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:])
}
