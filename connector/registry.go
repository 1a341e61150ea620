package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested connector is not registered.
var ErrNotFound = errors.New("connector: not found")

// Record mirrors the connectors table: the durable registration of a region
// connector and the metadata its lifecycle engine runs with.
type Record struct {
	ID            string
	Name          string
	TimeZone      string
	EarliestStart time.Time
	LatestEnd     time.Time
	StaleAfter    time.Duration
	CreatedAt     time.Time
}

// Registry provides read access to registered region connectors.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry wires a pgxpool-backed registry implementation.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// GetByID fetches a connector registration by its identifier.
func (r *Registry) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `
		SELECT id, name, time_zone, earliest_start, latest_end, stale_after_hours, created_at
		FROM connectors
		WHERE id = $1
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("connector: query by id: %w", err)
	}

	return rec, nil
}

// List fetches up to limit connector registrations ordered by id.
func (r *Registry) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, time_zone, earliest_start, latest_end, stale_after_hours, created_at
		FROM connectors
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("connector: list: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("connector: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector: iterate records: %w", err)
	}

	return records, nil
}

// Config materializes a registration into a runtime Config value.
func (rec Record) Config() (Config, error) {
	loc, err := time.LoadLocation(rec.TimeZone)
	if err != nil {
		return Config{}, fmt.Errorf("connector %s: load time zone %q: %w", rec.ID, rec.TimeZone, err)
	}
	cfg := Config{
		ID:            rec.ID,
		Name:          rec.Name,
		TimeZone:      loc,
		EarliestStart: rec.EarliestStart,
		LatestEnd:     rec.LatestEnd,
		StaleAfter:    rec.StaleAfter,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		staleHours int
	)
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.TimeZone,
		&rec.EarliestStart,
		&rec.LatestEnd,
		&staleHours,
		&rec.CreatedAt,
	)
	rec.StaleAfter = time.Duration(staleHours) * time.Hour
	return rec, err
}
