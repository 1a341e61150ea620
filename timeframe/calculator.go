package timeframe

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvertedRange signals a resolved start date strictly after the end date.
	// The calculator never clamps an inverted range; the data need itself is broken.
	ErrInvertedRange = errors.New("timeframe: start is after end")
)

// Unit is a calendar unit a relative bound can stick to. A sticky bound is
// rounded down to the start of its unit; weeks start on Monday.
type Unit string

const (
	UnitNone  Unit = ""
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// Timeframe holds inclusive calendar dates, normalized to UTC midnight.
type Timeframe struct {
	Start time.Time
	End   time.Time
}

// Bound describes one side of a data-need duration. Exactly one of the
// following applies: an absolute date, a signed day offset from the reference
// date, or open (neither set), which resolves to the connector floor/ceiling.
type Bound struct {
	Absolute   *time.Time
	OffsetDays *int
	Sticky     Unit
}

// Open reports whether the bound carries neither an absolute date nor an offset.
func (b Bound) Open() bool {
	return b.Absolute == nil && b.OffsetDays == nil
}

// Duration is the raw, possibly-relative duration of a data need.
type Duration struct {
	Start Bound
	End   Bound
}

// Bounds are the connector-declared absolute floor and ceiling for resolved
// timeframes. They are fixed constants of the connector (e.g. 2000-01-01 and
// 9999-12-31), never inferred from data.
type Bounds struct {
	EarliestStart time.Time
	LatestEnd     time.Time
}

// Absolute builds a duration with fixed calendar bounds.
func Absolute(start, end time.Time) Duration {
	s, e := Date(start), Date(end)
	return Duration{
		Start: Bound{Absolute: &s},
		End:   Bound{Absolute: &e},
	}
}

// Relative builds a duration from signed day offsets around the reference date.
func Relative(startOffsetDays, endOffsetDays int) Duration {
	s, e := startOffsetDays, endOffsetDays
	return Duration{
		Start: Bound{OffsetDays: &s},
		End:   Bound{OffsetDays: &e},
	}
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Resolve translates a duration into concrete calendar bounds relative to
// reference, clipped to the connector bounds. Open bounds resolve to the
// floor/ceiling exactly. An inverted result is rejected, not clamped.
func Resolve(d Duration, reference time.Time, b Bounds) (Timeframe, error) {
	if b.EarliestStart.IsZero() || b.LatestEnd.IsZero() {
		return Timeframe{}, fmt.Errorf("timeframe: connector bounds not configured")
	}

	start, err := resolveBound(d.Start, reference, b.EarliestStart)
	if err != nil {
		return Timeframe{}, fmt.Errorf("timeframe: resolve start: %w", err)
	}
	end, err := resolveBound(d.End, reference, b.LatestEnd)
	if err != nil {
		return Timeframe{}, fmt.Errorf("timeframe: resolve end: %w", err)
	}

	start = clip(start, b)
	end = clip(end, b)

	if start.After(end) {
		return Timeframe{}, ErrInvertedRange
	}
	return Timeframe{Start: start, End: end}, nil
}

func resolveBound(bound Bound, reference, fallback time.Time) (time.Time, error) {
	switch {
	case bound.Absolute != nil:
		return Date(*bound.Absolute), nil
	case bound.OffsetDays != nil:
		resolved := Date(reference).AddDate(0, 0, *bound.OffsetDays)
		return stickTo(resolved, bound.Sticky)
	default:
		return Date(fallback), nil
	}
}

func stickTo(date time.Time, unit Unit) (time.Time, error) {
	switch unit {
	case UnitNone:
		return date, nil
	case UnitWeek:
		// time.Weekday starts the week on Sunday; shift so Monday is day zero.
		offset := (int(date.Weekday()) + 6) % 7
		return date.AddDate(0, 0, -offset), nil
	case UnitMonth:
		return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case UnitYear:
		return time.Date(date.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("unknown sticky unit %q", unit)
	}
}

func clip(date time.Time, b Bounds) time.Time {
	floor, ceiling := Date(b.EarliestStart), Date(b.LatestEnd)
	if date.Before(floor) {
		return floor
	}
	if date.After(ceiling) {
		return ceiling
	}
	return date
}
