package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that no permission request exists for the identifier.
var ErrNotFound = errors.New("permission: not found")

// EventStore is the append-only store keyed by (permissionId, seq). Append
// validates the transition and updates the projection in the same
// transaction, serialized per aggregate, so the staleness query and the
// commit always agree on the current status.
type EventStore interface {
	Append(ctx context.Context, graph Graph, ev Event) (int, error)
	FindByPermissionID(ctx context.Context, permissionID string) (Request, error)
	History(ctx context.Context, permissionID string) ([]StoredEvent, error)
	ListStale(ctx context.Context, before time.Time, statuses ...Status) ([]Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
}

// PGStore implements EventStore backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgxpool-backed event store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append persists the event with the next sequence for its permission id and
// updates the projection row transactionally. Events for the same permission
// id are serialized through a per-id advisory lock, so concurrent commits
// with conflicting statuses cannot both succeed.
func (s *PGStore) Append(ctx context.Context, graph Graph, ev Event) (int, error) {
	if ev.PermissionID == "" {
		return 0, fmt.Errorf("permission: event missing permission id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("permission: begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ev.PermissionID); err != nil {
		return 0, fmt.Errorf("permission: acquire aggregate lock: %w", err)
	}

	req, current, err := loadProjection(ctx, tx, ev.PermissionID)
	if err != nil {
		return 0, err
	}

	if err := graph.Check(ev.PermissionID, current, ev.Status); err != nil {
		return 0, err
	}

	var seq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM permission_events WHERE permission_id = $1`,
		ev.PermissionID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("permission: next sequence: %w", err)
	}

	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO permission_events (permission_id, seq, status, occurred_at, payload)
        VALUES ($1, $2, $3, $4, $5)
    `, ev.PermissionID, seq, ev.Status, ev.OccurredAt, payload); err != nil {
		return 0, fmt.Errorf("permission: insert event: %w", err)
	}

	apply(&req, ev)

	if _, err := tx.Exec(ctx, `
        INSERT INTO permission_requests (
            permission_id, connection_id, data_need_id, status,
            start_date, end_date, granularity, data_source, latest_event_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (permission_id) DO UPDATE SET
            connection_id   = EXCLUDED.connection_id,
            data_need_id    = EXCLUDED.data_need_id,
            status          = EXCLUDED.status,
            start_date      = EXCLUDED.start_date,
            end_date        = EXCLUDED.end_date,
            granularity     = EXCLUDED.granularity,
            data_source     = EXCLUDED.data_source,
            latest_event_at = EXCLUDED.latest_event_at,
            updated_at      = get_tx_timestamp()
    `, req.PermissionID, req.ConnectionID, req.DataNeedID, req.Status,
		req.Start, req.End, req.Granularity, req.DataSource, req.LatestEventAt,
	); err != nil {
		return 0, fmt.Errorf("permission: update projection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("permission: commit append tx: %w", err)
	}

	return seq, nil
}

// FindByPermissionID fetches the projection for a single request.
func (s *PGStore) FindByPermissionID(ctx context.Context, permissionID string) (Request, error) {
	row := s.pool.QueryRow(ctx, selectProjection+` WHERE permission_id = $1`, permissionID)
	req, err := scanProjection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("permission: find by id: %w", err)
	}
	return req, nil
}

// History returns the persisted events of a request in commit order.
func (s *PGStore) History(ctx context.Context, permissionID string) ([]StoredEvent, error) {
	const query = `
		SELECT permission_id, seq, status, occurred_at, payload
		FROM permission_events
		WHERE permission_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, permissionID)
	if err != nil {
		return nil, fmt.Errorf("permission: query history: %w", err)
	}
	defer rows.Close()

	events := make([]StoredEvent, 0, 8)
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.PermissionID, &ev.Seq, &ev.Status, &ev.OccurredAt, &ev.Payload); err != nil {
			return nil, fmt.Errorf("permission: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("permission: iterate history: %w", err)
	}
	return events, nil
}

// ListStale returns requests whose latest event predates before and whose
// status is one of the given intermediate statuses. It reads the persisted
// projection so the sweeper works across restarts and processes.
func (s *PGStore) ListStale(ctx context.Context, before time.Time, statuses ...Status) ([]Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := selectProjection + ` WHERE latest_event_at < $1 AND status = ANY($2) ORDER BY latest_event_at ASC`
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, query, before, names)
	if err != nil {
		return nil, fmt.Errorf("permission: query stale: %w", err)
	}
	defer rows.Close()

	stale := make([]Request, 0, 16)
	for rows.Next() {
		req, err := scanProjection(rows)
		if err != nil {
			return nil, fmt.Errorf("permission: scan stale: %w", err)
		}
		stale = append(stale, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("permission: iterate stale: %w", err)
	}
	return stale, nil
}

// List pages through the projection with optional filters.
func (s *PGStore) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "createdAt"
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.ConnectionID != "" {
		where = append(where, fmt.Sprintf("connection_id=$%d", len(args)+1))
		args = append(args, filters.ConnectionID)
	}
	if filters.DataNeedID != "" {
		where = append(where, fmt.Sprintf("data_need_id=$%d", len(args)+1))
		args = append(args, filters.DataNeedID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		selectProjection, whereClause, mapSortKey(filters.SortKey), sortOrder, limit, offset)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("permission: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanProjection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("permission: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("permission: iterate list: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM permission_requests" + whereClause
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("permission: count list: %w", err)
	}

	return list, total, nil
}

const selectProjection = `
	SELECT permission_id, connection_id, data_need_id, status,
	       start_date, end_date, granularity, data_source,
	       latest_event_at, created_at, updated_at
	FROM permission_requests`

func loadProjection(ctx context.Context, tx pgx.Tx, permissionID string) (Request, Status, error) {
	row := tx.QueryRow(ctx, selectProjection+` WHERE permission_id = $1`, permissionID)
	req, err := scanProjection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, "", nil
		}
		return Request{}, "", fmt.Errorf("permission: load projection: %w", err)
	}
	return req, req.Status, nil
}

func scanProjection(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.PermissionID,
		&req.ConnectionID,
		&req.DataNeedID,
		&req.Status,
		&req.Start,
		&req.End,
		&req.Granularity,
		&req.DataSource,
		&req.LatestEventAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("permission: marshal payload: %w", err)
	}
	return b, nil
}

func mapSortKey(key string) string {
	switch key {
	case "status":
		return "status"
	case "latestEventAt":
		return "latest_event_at"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
