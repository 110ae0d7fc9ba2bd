package models

import (
	"math"
	"time"
)

// Point is a single raw observation. A NaN value marks a missing reading.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

type Row struct {
	Time   time.Time `json:"time"`
	Values []float64 `json:"values"`
}

// Table is a wide, time-keyed table with one value column per signal.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func NewTable(columns ...string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

func (t Table) Len() int {
	return len(t.Rows)
}

func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's values.
func (t Table) Column(name string) ([]float64, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row.Values[idx]
	}
	return values, true
}

func (t Table) Times() []time.Time {
	times := make([]time.Time, len(t.Rows))
	for i, row := range t.Rows {
		times[i] = row.Time
	}
	return times
}

// LastTime reports the timestamp of the last row in storage order.
func (t Table) LastTime() (time.Time, bool) {
	if len(t.Rows) == 0 {
		return time.Time{}, false
	}
	return t.Rows[len(t.Rows)-1].Time, true
}

// Clone deep-copies the table so callers can mutate values freely.
func (t Table) Clone() Table {
	out := Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = Row{Time: row.Time, Values: append([]float64(nil), row.Values...)}
	}
	return out
}

// Select projects the table onto the named columns, in the given order.
func (t Table) Select(columns ...string) (Table, bool) {
	idx := make([]int, len(columns))
	for i, name := range columns {
		idx[i] = t.ColumnIndex(name)
		if idx[i] < 0 {
			return Table{}, false
		}
	}
	out := Table{Columns: append([]string(nil), columns...), Rows: make([]Row, len(t.Rows))}
	for i, row := range t.Rows {
		values := make([]float64, len(idx))
		for j, k := range idx {
			values[j] = row.Values[k]
		}
		out.Rows[i] = Row{Time: row.Time, Values: values}
	}
	return out, true
}

func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

type Prediction struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// PredictionBatch is a set of predictions tagged for the output sink.
type PredictionBatch struct {
	Measurement string       `json:"measurement"`
	Field       string       `json:"field"`
	Bucket      string       `json:"bucket"`
	Org         string       `json:"org"`
	Points      []Prediction `json:"points"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type RunReport struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      RunStatus `json:"status"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	RowsFetched int       `json:"rows_fetched"`
	Reconciled  bool      `json:"reconciled"`
	Predictions int       `json:"predictions"`
	Error       string    `json:"error,omitempty"`
}
