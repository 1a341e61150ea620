package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrClientNotFound signals that the client does not exist.
	ErrClientNotFound = errors.New("auth: client not found")
	// ErrDuplicateClientID signals that the client id is already registered.
	ErrDuplicateClientID = errors.New("auth: client id already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateClient(ctx context.Context, params CreateClientParams) (Client, error)
	GetClientByClientID(ctx context.Context, clientID string) (Client, error)
	GetClientByID(ctx context.Context, id string) (Client, error)
}

// CreateClientParams contains write parameters for creating clients.
type CreateClientParams struct {
	ClientID    string
	Name        string
	SecretHash  string
	ConnectorID string
	Role        Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateClient inserts a new client with hashed secret.
func (r *PGRepository) CreateClient(ctx context.Context, params CreateClientParams) (Client, error) {
	const insertSQL = `
		INSERT INTO connector_clients (client_id, name, secret_hash, connector_id, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, client_id, name, secret_hash, connector_id, role, created_at, updated_at
	`

	client, err := scanClient(r.pool.QueryRow(ctx, insertSQL,
		params.ClientID, params.Name, params.SecretHash, params.ConnectorID, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Client{}, ErrDuplicateClientID
		}
		return Client{}, fmt.Errorf("auth: create client: %w", err)
	}

	return client, nil
}

// GetClientByClientID retrieves a client by its external client id.
func (r *PGRepository) GetClientByClientID(ctx context.Context, clientID string) (Client, error) {
	const selectSQL = `
		SELECT id, client_id, name, secret_hash, connector_id, role, created_at, updated_at
		FROM connector_clients
		WHERE client_id = $1
	`

	client, err := scanClient(r.pool.QueryRow(ctx, selectSQL, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, fmt.Errorf("auth: get client by client id: %w", err)
	}

	return client, nil
}

// GetClientByID retrieves a client by primary key.
func (r *PGRepository) GetClientByID(ctx context.Context, id string) (Client, error) {
	const selectSQL = `
		SELECT id, client_id, name, secret_hash, connector_id, role, created_at, updated_at
		FROM connector_clients
		WHERE id = $1
	`

	client, err := scanClient(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, fmt.Errorf("auth: get client by id: %w", err)
	}

	return client, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var client Client
	err := row.Scan(
		&client.ID,
		&client.ClientID,
		&client.Name,
		&client.SecretHash,
		&client.ConnectorID,
		&client.Role,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err != nil {
		return Client{}, err
	}
	return client, nil
}
