package dataneed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"permitflow/connector"
	"permitflow/timeframe"
)

// Source resolves stored data needs. It is the boundary to the upstream
// data-need collaborator.
type Source interface {
	GetByID(ctx context.Context, id string) (Need, error)
}

// CalculationService turns a data need into concrete calendar bounds for one
// region connector and decides whether the connector can serve it at all.
type CalculationService struct {
	source Source
	cfg    connector.Config
	now    func() time.Time
}

// NewCalculationService builds the service for one connector's metadata.
func NewCalculationService(source Source, cfg connector.Config) *CalculationService {
	return &CalculationService{
		source: source,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock replaces the reference-time source, for tests.
func (s *CalculationService) WithClock(now func() time.Time) *CalculationService {
	s.now = now
	return s
}

// Calculate resolves the need's duration against the connector bounds and
// returns the tagged result the permission service folds into VALIDATED or
// MALFORMED. An error is returned only for source failures; every domain
// outcome is a CalculationResult.
func (s *CalculationService) Calculate(ctx context.Context, dataNeedID string) (CalculationResult, error) {
	need, err := s.source.GetByID(ctx, dataNeedID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundResult{DataNeedID: dataNeedID}, nil
		}
		return nil, fmt.Errorf("dataneed: resolve %s: %w", dataNeedID, err)
	}

	if !need.Enabled {
		return NotSupportedResult{Reason: "data need is disabled"}, nil
	}
	if len(need.AllowedConnectors) > 0 && !allows(need.AllowedConnectors, s.cfg.ID) {
		return NotSupportedResult{
			Reason: fmt.Sprintf("region connector %s is not in the allowlist", s.cfg.ID),
		}, nil
	}

	reference := s.now().In(s.cfg.TimeZone)
	tf, err := timeframe.Resolve(need.Duration, reference, s.cfg.Bounds())
	if err != nil {
		return NotSupportedResult{
			Reason: fmt.Sprintf("could not calculate timeframe: %v", err),
		}, nil
	}

	switch need.Kind {
	case KindAccountingPoint:
		return AccountingPointResult{Permission: tf}, nil
	case KindValidatedHistorical:
		if len(need.Granularities) == 0 {
			return NotSupportedResult{Reason: "data need declares no granularity"}, nil
		}
		return ValidatedHistoricalResult{
			Granularities: append([]Granularity(nil), need.Granularities...),
			Timeframe:     tf,
		}, nil
	default:
		return NotSupportedResult{
			Reason: fmt.Sprintf("unknown data need kind %q", need.Kind),
		}, nil
	}
}

func allows(connectors []string, id string) bool {
	for _, c := range connectors {
		if c == id {
			return true
		}
	}
	return false
}
