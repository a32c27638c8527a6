//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	outboxpg "github.com/karpay/payments/internal/outbox/postgres"
	pgdb "github.com/karpay/payments/internal/postgres"
)

func TestStoreAppendClaimDeliverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 3)

	first, err := store.Claim(ctx, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, first[0].CreatedAt.Before(first[1].CreatedAt) || first[0].CreatedAt.Equal(first[1].CreatedAt),
		"claims come oldest first")

	for _, event := range first {
		require.NoError(t, store.MarkDelivered(ctx, event.ID, time.Now()))
	}

	second, err := store.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NoError(t, store.MarkDelivered(ctx, second[0].ID, time.Now()))

	empty, err := store.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, empty)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStoreClaimLeaseExcludesSecondClaimerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 2)

	first, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.Claim(ctx, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].ID, second[0].ID)
}

func TestStoreLeaseExpiryAllowsReclaimIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 1)

	first, err := store.Claim(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	held, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, held, "lease still held")

	time.Sleep(150 * time.Millisecond)

	reclaimed, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, first[0].ID, reclaimed[0].ID)
}

func TestStoreMarkFailedSchedulesRetryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 1)

	claimed, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	id := claimed[0].ID

	longErr := strings.Repeat("a", 1100)
	require.NoError(t, store.MarkFailed(ctx, id, longErr, time.Now().Add(time.Hour)))

	notDue, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, notDue, "backoff keeps the event out of claims")

	require.NoError(t, rescheduleNow(ctx, pool, id))

	due, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, 1, due[0].AttemptCount)
	require.Len(t, due[0].LastError, 1024, "stored error is truncated")
}

func TestStoreMarkPermanentlyFailedIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 1)

	claimed, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.MarkPermanentlyFailed(ctx, claimed[0].ID, "boom", time.Now()))

	empty, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, empty, "dead events are never claimed again")

	var deliveredAt, failedAt *time.Time
	require.NoError(t, pool.QueryRow(
		ctx,
		`SELECT delivered_at, failed_at FROM outbox_events WHERE id = $1`,
		claimed[0].ID,
	).Scan(&deliveredAt, &failedAt))
	require.Nil(t, deliveredAt)
	require.NotNil(t, failedAt)
}

func TestStoreReleaseClaimsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := newStore(t, pool)

	appendEvents(t, ctx, pool, store, 1)

	claimed, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.ReleaseClaims(ctx, []uuid.UUID{claimed[0].ID}))

	reclaimed, err := store.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, claimed[0].ID, reclaimed[0].ID)
}

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	port := nat.Port("5432/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "karpay",
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_DB":       "karpay",
		},
		WaitingFor: wait.ForSQL(port, "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://karpay:secret@%s:%s/karpay?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://karpay:secret@%s:%s/karpay?sslmode=disable", host, mappedPort.Port())
	pool, err := pgdb.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pgdb.Migrate(ctx, pool))

	return pool
}

func newStore(t *testing.T, pool *pgxpool.Pool) *outboxpg.Store {
	t.Helper()

	store, err := outboxpg.NewStore(pool, clockwork.NewRealClock())
	require.NoError(t, err)

	return store
}

func appendEvents(t *testing.T, ctx context.Context, pool *pgxpool.Pool, store *outboxpg.Store, n int) {
	t.Helper()

	err := pgdb.WithinTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < n; i++ {
			payload, _ := json.Marshal(map[string]int{"seq": i})
			if _, err := store.Append(ctx, tx, "payment_intent.created", payload); err != nil {
				return err
			}
		}

		return nil
	})
	require.NoError(t, err)
}

func rescheduleNow(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) error {
	_, err := pool.Exec(
		ctx,
		`UPDATE outbox_events SET next_attempt_at = now() WHERE id = $1`,
		id,
	)

	return err
}
