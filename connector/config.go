package connector

import (
	"fmt"
	"time"

	"permitflow/timeframe"
)

// Config carries the static metadata of one region connector. It is built
// once at startup and passed to every collaborator that needs it; there is
// no process-wide singleton.
type Config struct {
	ID       string
	Name     string
	TimeZone *time.Location

	// EarliestStart and LatestEnd are the absolute floor and ceiling for any
	// timeframe this connector exposes outward.
	EarliestStart time.Time
	LatestEnd     time.Time

	// StaleAfter is how long a request may sit in an intermediate status
	// before the sweeper forces it out.
	StaleAfter time.Duration

	// ExtraTransitions widens the shared transition graph for connectors
	// whose national process has additional legal edges.
	ExtraTransitions map[string][]string
}

// Validate checks the config is complete enough to run a connector.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connector: missing id")
	}
	if c.TimeZone == nil {
		return fmt.Errorf("connector %s: missing time zone", c.ID)
	}
	if c.EarliestStart.IsZero() || c.LatestEnd.IsZero() {
		return fmt.Errorf("connector %s: missing timeframe bounds", c.ID)
	}
	if !c.EarliestStart.Before(c.LatestEnd) {
		return fmt.Errorf("connector %s: earliest start must precede latest end", c.ID)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("connector %s: stale window must be positive", c.ID)
	}
	return nil
}

// Bounds exposes the floor/ceiling pair in the calculator's terms.
func (c Config) Bounds() timeframe.Bounds {
	return timeframe.Bounds{EarliestStart: c.EarliestStart, LatestEnd: c.LatestEnd}
}
