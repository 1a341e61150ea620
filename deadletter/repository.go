package deadletter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("deadletter: not found")
	ErrBadStatus = errors.New("deadletter: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, connectorID string, onlyOpen bool) ([]Record, error) {
	query := `
		SELECT id, connector_id, permission_id, kind::text, detail, status::text, created_at, updated_at, resolved_at
		FROM dead_letters
		WHERE 1 = 1
	`
	args := []any{}
	if connectorID != "" {
		args = append(args, connectorID)
		query += fmt.Sprintf(" AND connector_id = $%d", len(args))
	}
	if onlyOpen {
		query += " AND status = 'open'"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ConnectorID, &rec.PermissionID, &rec.Kind, &rec.Detail,
			&rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("deadletter: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deadletter: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, connectorID, permissionID string, kind Kind, detail string) (Record, error) {
	const query = `
		INSERT INTO dead_letters (connector_id, permission_id, kind, detail, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id, connector_id, permission_id, kind::text, detail, status::text, created_at, updated_at, resolved_at
	`

	var rec Record
	err := r.pool.QueryRow(ctx, query, connectorID, permissionID, string(kind), detail).
		Scan(&rec.ID, &rec.ConnectorID, &rec.PermissionID, &rec.Kind, &rec.Detail,
			&rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	if err != nil {
		return Record{}, fmt.Errorf("deadletter: create: %w", err)
	}
	return rec, nil
}

func (r *Repository) Resolve(ctx context.Context, id string) (Record, error) {
	const query = `
		UPDATE dead_letters
		SET status = 'resolved', resolved_at = now()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING id, connector_id, permission_id, kind::text, detail, status::text, created_at, updated_at, resolved_at
	`

	var rec Record
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&rec.ID, &rec.ConnectorID, &rec.PermissionID, &rec.Kind, &rec.Detail,
			&rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("deadletter: resolve: %w", err)
	}

	const check = `SELECT status::text FROM dead_letters WHERE id = $1`
	var status Status
	if err := r.pool.QueryRow(ctx, check, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("deadletter: resolve fetch: %w", err)
	}
	if status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	return Record{}, ErrNotFound
}
