package idempotency

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps records in memory with the same reserve-once semantics as
// the Postgres table's primary key.
type memStore struct {
	records map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func recordKey(key, endpoint string) string {
	return key + "|" + endpoint
}

func (s *memStore) Reserve(_ context.Context, _ pgx.Tx, key, endpoint, requestHash string) (bool, error) {
	k := recordKey(key, endpoint)
	if _, exists := s.records[k]; exists {
		return false, nil
	}

	s.records[k] = &Record{
		Key:          key,
		Endpoint:     endpoint,
		RequestHash:  requestHash,
		ResponseBody: json.RawMessage(`{}`),
	}

	return true, nil
}

func (s *memStore) Find(_ context.Context, _ pgx.Tx, key, endpoint string) (Record, error) {
	record, exists := s.records[recordKey(key, endpoint)]
	if !exists {
		return Record{}, pgx.ErrNoRows
	}

	return *record, nil
}

func (s *memStore) Complete(_ context.Context, _ pgx.Tx, key, endpoint string, body json.RawMessage, resourceID *uuid.UUID) error {
	record := s.records[recordKey(key, endpoint)]
	record.ResponseBody = body
	record.ResourceID = resourceID

	return nil
}

func (s *memStore) FillResponse(_ context.Context, _ pgx.Tx, key, endpoint string, body json.RawMessage) error {
	s.records[recordKey(key, endpoint)].ResponseBody = body

	return nil
}

func newTestGuard(store Store) *Guard {
	return &Guard{
		run: func(ctx context.Context, fn func(tx pgx.Tx) error) error {
			return fn(nil)
		},
		store:  store,
		logger: zerolog.Nop(),
	}
}

const testEndpoint = "POST /v1/payment_intents"

func countingOperation(runs *int, body string) Operation {
	return Operation{
		Run: func(context.Context, pgx.Tx) (Result, error) {
			*runs++

			return Result{Body: json.RawMessage(body)}, nil
		},
	}
}

func TestGuardExecutesOperationOnce(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)
	body := []byte(`{"amount":2500,"currency":"gbp"}`)

	runs := 0
	op := countingOperation(&runs, `{"id":"pi_1","status":"requires_confirmation"}`)

	first, err := guard.Execute(context.Background(), "key-1", testEndpoint, body, op)
	require.NoError(t, err)

	second, err := guard.Execute(context.Background(), "key-1", testEndpoint, body, op)
	require.NoError(t, err)

	assert.Equal(t, 1, runs, "operation must execute at most once")
	assert.JSONEq(t, string(first), string(second))
}

func TestGuardDetectsKeyConflict(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)

	runs := 0
	op := countingOperation(&runs, `{"id":"pi_1"}`)

	first, err := guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"amount":2500}`), op)
	require.NoError(t, err)

	_, err = guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"amount":9900}`), op)
	require.ErrorIs(t, err, ErrKeyConflict)

	// The first call's effect is unchanged.
	assert.Equal(t, 1, runs)
	record, findErr := store.Find(context.Background(), nil, "key-1", testEndpoint)
	require.NoError(t, findErr)
	assert.JSONEq(t, string(first), string(record.ResponseBody))
}

func TestGuardScopesKeysByEndpoint(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)
	body := []byte(`{"amount":2500}`)

	runs := 0
	op := countingOperation(&runs, `{"id":"pi_1"}`)

	_, err := guard.Execute(context.Background(), "key-1", "POST /v1/payment_intents", body, op)
	require.NoError(t, err)

	_, err = guard.Execute(context.Background(), "key-1", "POST /v1/refunds", body, op)
	require.NoError(t, err)

	assert.Equal(t, 2, runs, "same key on different endpoints is not a replay")
}

func TestGuardEquivalentBodiesReplayRegardlessOfKeyOrder(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)

	runs := 0
	op := countingOperation(&runs, `{"id":"pi_1"}`)

	_, err := guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"amount":2500,"currency":"gbp"}`), op)
	require.NoError(t, err)

	_, err = guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"currency":"gbp","amount":2500}`), op)
	require.NoError(t, err)

	assert.Equal(t, 1, runs)
}

func TestGuardOperationFailureLeavesNoRecord(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)

	failing := Operation{
		Run: func(context.Context, pgx.Tx) (Result, error) {
			return Result{}, assert.AnError
		},
	}

	_, err := guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"amount":1}`), failing)
	require.ErrorIs(t, err, assert.AnError)

	// The transaction rolled back, so the reservation must not survive.
	delete(store.records, recordKey("key-1", testEndpoint))

	runs := 0
	_, err = guard.Execute(context.Background(), "key-1", testEndpoint, []byte(`{"amount":1}`), countingOperation(&runs, `{"id":"pi_2"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestGuardRebuildsResponseAfterCrash(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)
	body := []byte(`{"amount":2500}`)
	resourceID := uuid.New()

	// Simulate a crash after reserving the key and creating the resource but
	// before the response was stored.
	store.records[recordKey("key-1", testEndpoint)] = &Record{
		Key:          "key-1",
		Endpoint:     testEndpoint,
		RequestHash:  Fingerprint(body),
		ResponseBody: json.RawMessage(`{}`),
		ResourceID:   &resourceID,
	}

	runs := 0
	op := Operation{
		Run: func(context.Context, pgx.Tx) (Result, error) {
			runs++

			return Result{}, nil
		},
		Rebuild: func(_ context.Context, _ pgx.Tx, id uuid.UUID) (json.RawMessage, error) {
			require.Equal(t, resourceID, id)

			return json.RawMessage(`{"id":"pi_rebuilt"}`), nil
		},
	}

	response, err := guard.Execute(context.Background(), "key-1", testEndpoint, body, op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"pi_rebuilt"}`, string(response))
	assert.Equal(t, 0, runs, "rebuild must not re-execute the side effect")

	// The record was repaired, so the next retry replays directly.
	record, err := store.Find(context.Background(), nil, "key-1", testEndpoint)
	require.NoError(t, err)
	assert.True(t, record.Complete())
}

func TestGuardUnrecoverableIncompleteRecordIsTransient(t *testing.T) {
	store := newMemStore()
	guard := newTestGuard(store)
	body := []byte(`{"amount":2500}`)

	store.records[recordKey("key-1", testEndpoint)] = &Record{
		Key:          "key-1",
		Endpoint:     testEndpoint,
		RequestHash:  Fingerprint(body),
		ResponseBody: json.RawMessage(`{}`),
	}

	runs := 0
	_, err := guard.Execute(context.Background(), "key-1", testEndpoint, body, countingOperation(&runs, `{"id":"pi_1"}`))
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 0, runs)
}

func TestFingerprintCanonicalizesJSON(t *testing.T) {
	a := Fingerprint([]byte(`{"amount":2500,"currency":"gbp"}`))
	b := Fingerprint([]byte(`{"currency":"gbp","amount":2500}`))
	c := Fingerprint([]byte(`{"currency":"usd","amount":2500}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintNonJSONBody(t *testing.T) {
	a := Fingerprint([]byte("not json"))
	b := Fingerprint([]byte("not json"))
	c := Fingerprint([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRecordComplete(t *testing.T) {
	assert.False(t, Record{ResponseBody: json.RawMessage(`{}`)}.Complete())
	assert.False(t, Record{}.Complete())
	assert.True(t, Record{ResponseBody: json.RawMessage(`{"id":"pi_1"}`)}.Complete())
}
