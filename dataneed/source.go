package dataneed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"permitflow/timeframe"
)

// PGSource reads stored data needs from the data_needs table.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource wires a pgxpool-backed data-need source.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// GetByID fetches one data need, including its possibly-relative duration.
func (s *PGSource) GetByID(ctx context.Context, id string) (Need, error) {
	const query = `
		SELECT id, kind, enabled,
		       start_date, end_date,
		       start_offset_days, end_offset_days,
		       start_sticky, end_sticky,
		       granularities, allowed_connectors
		FROM data_needs
		WHERE id = $1
	`

	var (
		need          Need
		startDate     *time.Time
		endDate       *time.Time
		startOffset   *int
		endOffset     *int
		startSticky   *string
		endSticky     *string
		granularities []string
		connectors    []string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&need.ID,
		&need.Kind,
		&need.Enabled,
		&startDate,
		&endDate,
		&startOffset,
		&endOffset,
		&startSticky,
		&endSticky,
		&granularities,
		&connectors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Need{}, ErrNotFound
		}
		return Need{}, fmt.Errorf("dataneed: query by id: %w", err)
	}

	need.Duration = timeframe.Duration{
		Start: bound(startDate, startOffset, startSticky),
		End:   bound(endDate, endOffset, endSticky),
	}
	for _, g := range granularities {
		need.Granularities = append(need.Granularities, Granularity(g))
	}
	need.AllowedConnectors = connectors

	return need, nil
}

func bound(absolute *time.Time, offsetDays *int, sticky *string) timeframe.Bound {
	b := timeframe.Bound{Absolute: absolute, OffsetDays: offsetDays}
	if sticky != nil {
		b.Sticky = timeframe.Unit(*sticky)
	}
	return b
}
