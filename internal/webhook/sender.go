package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultSendTimeout = 10 * time.Second

// EventIDHeader exposes the stable event id so receivers can deduplicate
// redelivered events.
const EventIDHeader = "Karpay-Event-Id"

var (
	// ErrDeliveryTimeout indicates the endpoint did not answer in time or the
	// connection failed.
	ErrDeliveryTimeout = errors.New("webhook delivery timed out")
	// ErrDeliveryRejected indicates the endpoint answered with a non-2xx status.
	ErrDeliveryRejected = errors.New("webhook delivery rejected")
)

// Delivery is the wire payload POSTed to an endpoint.
type Delivery struct {
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sender delivers signed payloads to webhook endpoints over HTTP.
type Sender struct {
	client *http.Client
}

// NewSender constructs a Sender with a per-call timeout. A non-positive
// timeout falls back to the default.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send POSTs the delivery to the endpoint, signed with the endpoint secret.
// Deliveries are at-least-once: a retried event reaches the endpoint with
// the same event id, and receivers are expected to deduplicate on it.
func (s *Sender) Send(ctx context.Context, endpoint Endpoint, delivery Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(endpoint.Secret, body))
	req.Header.Set(EventIDHeader, delivery.EventID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: endpoint returned %d", ErrDeliveryRejected, resp.StatusCode)
	}

	return nil
}
