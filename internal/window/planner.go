package window

import (
	"fmt"
	"time"
)

// DateLayout is the format of the default start date.
const DateLayout = "2006-01-02"

// Window is the half-open UTC range [Start, End) requested from the source.
type Window struct {
	Start time.Time
	End   time.Time
}

// HasNewData reports whether the window covers at least one new, fully
// elapsed day. Dates are compared in UTC.
func (w Window) HasNewData() bool {
	if !w.Start.Before(w.End) {
		return false
	}
	sy, sm, sd := w.Start.UTC().Date()
	ey, em, ed := w.End.UTC().Date()
	return sy != ey || sm != em || sd != ed
}

func (w Window) String() string {
	return fmt.Sprintf("%s ~ %s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

type Planner struct {
	location     *time.Location
	defaultStart time.Time
}

// NewPlanner builds a planner for the given source timezone. defaultStart is
// a calendar date (YYYY-MM-DD) used when no training data exists yet.
func NewPlanner(loc *time.Location, defaultStart string) (*Planner, error) {
	if loc == nil {
		return nil, fmt.Errorf("source timezone is required")
	}
	start, err := time.ParseInLocation(DateLayout, defaultStart, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid default start date %q: %w", defaultStart, err)
	}
	return &Planner{location: loc, defaultStart: start}, nil
}

func (p *Planner) Location() *time.Location {
	return p.location
}

// Plan computes the next query window. last is the last stored timestamp and
// is only used when ok is true; its wall clock is read in the source timezone.
func (p *Planner) Plan(last time.Time, ok bool, now time.Time) Window {
	start := p.defaultStart
	if ok {
		start = p.asLocal(last)
	}

	today := now.In(p.location)
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, p.location)

	return Window{Start: start.UTC(), End: end.UTC()}
}

func (p *Planner) asLocal(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), p.location)
}
