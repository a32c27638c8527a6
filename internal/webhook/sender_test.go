package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery() Delivery {
	return Delivery{
		EventID:   uuid.New(),
		EventType: "payment_intent.created",
		Payload:   json.RawMessage(`{"payment_intent":{"amount":2500}}`),
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestSenderSignsAndPostsDelivery(t *testing.T) {
	delivery := testDelivery()

	var (
		gotBody      []byte
		gotSignature string
		gotEventID   string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		gotSignature = r.Header.Get(SignatureHeader)
		gotEventID = r.Header.Get(EventIDHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := Endpoint{ID: uuid.New(), URL: server.URL, Secret: "topsecret", Enabled: true}

	err := NewSender(time.Second).Send(context.Background(), endpoint, delivery)
	require.NoError(t, err)

	assert.True(t, Verify(endpoint.Secret, gotBody, gotSignature))
	assert.Equal(t, delivery.EventID.String(), gotEventID)

	var decoded Delivery
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, delivery.EventID, decoded.EventID)
	assert.Equal(t, delivery.EventType, decoded.EventType)
	assert.JSONEq(t, string(delivery.Payload), string(decoded.Payload))
	assert.True(t, delivery.CreatedAt.Equal(decoded.CreatedAt))
}

func TestSenderRejectedOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoint := Endpoint{ID: uuid.New(), URL: server.URL, Secret: "topsecret"}

	err := NewSender(time.Second).Send(context.Background(), endpoint, testDelivery())
	require.ErrorIs(t, err, ErrDeliveryRejected)
}

func TestSenderTimesOutOnSlowEndpoint(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	endpoint := Endpoint{ID: uuid.New(), URL: server.URL, Secret: "topsecret"}

	err := NewSender(50 * time.Millisecond).Send(context.Background(), endpoint, testDelivery())
	require.ErrorIs(t, err, ErrDeliveryTimeout)
}

func TestSenderTimeoutOnUnreachableEndpoint(t *testing.T) {
	endpoint := Endpoint{ID: uuid.New(), URL: "http://127.0.0.1:1", Secret: "topsecret"}

	err := NewSender(200 * time.Millisecond).Send(context.Background(), endpoint, testDelivery())
	require.ErrorIs(t, err, ErrDeliveryTimeout)
}
