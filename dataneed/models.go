package dataneed

import (
	"errors"

	"permitflow/timeframe"
)

// ErrNotFound signals the data need does not exist upstream.
var ErrNotFound = errors.New("dataneed: not found")

// Granularity is an ISO-8601 reading resolution offered by a data need.
type Granularity string

const (
	GranularityQuarterHour Granularity = "PT15M"
	GranularityHour        Granularity = "PT1H"
	GranularityDay         Granularity = "P1D"
	GranularityMonth       Granularity = "P1M"
)

// Kind distinguishes the supported data-need families.
type Kind string

const (
	// KindAccountingPoint asks for master data of an accounting point.
	KindAccountingPoint Kind = "accounting_point"
	// KindValidatedHistorical asks for validated historical metering data.
	KindValidatedHistorical Kind = "validated_historical"
)

// Need is the raw, possibly-relative description of the data an application
// wants, as resolved from the upstream data-need collaborator.
type Need struct {
	ID            string
	Kind          Kind
	Enabled       bool
	Duration      timeframe.Duration
	Granularities []Granularity

	// AllowedConnectors restricts the need to specific region connectors.
	// Empty means every connector may serve it.
	AllowedConnectors []string
}

// CalculationResult is the tagged outcome of resolving a data need for one
// connector. Exactly one of the concrete types below is returned.
type CalculationResult interface {
	calculationResult()
}

// AccountingPointResult grants master-data access for the permission window.
type AccountingPointResult struct {
	Permission timeframe.Timeframe
}

// ValidatedHistoricalResult grants metering data in the calculated timeframe.
type ValidatedHistoricalResult struct {
	Granularities []Granularity
	Timeframe     timeframe.Timeframe
}

// NotFoundResult reports an unknown data-need id.
type NotFoundResult struct {
	DataNeedID string
}

// NotSupportedResult reports a need this connector cannot serve.
type NotSupportedResult struct {
	Reason string
}

func (AccountingPointResult) calculationResult()     {}
func (ValidatedHistoricalResult) calculationResult() {}
func (NotFoundResult) calculationResult()            {}
func (NotSupportedResult) calculationResult()        {}
