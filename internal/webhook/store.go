package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEndpointNotFound is returned when an endpoint id does not exist.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

const endpointColumns = "id, url, secret, enabled, created_at"

// Store persists webhook endpoints. The relay only ever reads from it.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a webhook endpoint store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts the endpoint and returns it with the stored creation time.
func (s *Store) Create(ctx context.Context, endpoint Endpoint) (Endpoint, error) {
	row := s.pool.QueryRow(
		ctx,
		`INSERT INTO webhook_endpoints (id, url, secret, enabled)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+endpointColumns,
		endpoint.ID,
		endpoint.URL,
		endpoint.Secret,
		endpoint.Enabled,
	)

	created, err := scanEndpoint(row)
	if err != nil {
		return Endpoint{}, fmt.Errorf("insert webhook endpoint: %w", err)
	}

	return created, nil
}

// List returns all endpoints, newest first.
func (s *Store) List(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

// ListEnabled returns the snapshot of endpoints eligible for fan-out.
func (s *Store) ListEnabled(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE enabled ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhook endpoints: %w", err)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

// SetEnabled flips the enabled flag for an endpoint.
func (s *Store) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (Endpoint, error) {
	row := s.pool.QueryRow(
		ctx,
		`UPDATE webhook_endpoints SET enabled = $2 WHERE id = $1 RETURNING `+endpointColumns,
		id,
		enabled,
	)

	endpoint, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrEndpointNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("update webhook endpoint: %w", err)
	}

	return endpoint, nil
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	var endpoints []Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook endpoints: %w", err)
	}

	return endpoints, nil
}

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var endpoint Endpoint
	err := row.Scan(
		&endpoint.ID,
		&endpoint.URL,
		&endpoint.Secret,
		&endpoint.Enabled,
		&endpoint.CreatedAt,
	)

	return endpoint, err
}
