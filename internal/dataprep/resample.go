package dataprep

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// Reducer selects how raw observations are folded into hourly buckets.
type Reducer int

const (
	// PassThrough keeps the observations as they are and only renames the
	// value column. The source is expected to already be hourly.
	PassThrough Reducer = iota
	Sum
	Mean
)

const roundingScale = 1000

func (r Reducer) String() string {
	switch r {
	case Sum:
		return "sum"
	case Mean:
		return "mean"
	default:
		return "none"
	}
}

// ParseReducer accepts sum, mean, or none (also "not" and empty) for PassThrough.
func ParseReducer(s string) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "not", "passthrough":
		return PassThrough, nil
	case "sum":
		return Sum, nil
	case "mean":
		return Mean, nil
	default:
		return PassThrough, fmt.Errorf("unknown reducer %q", s)
	}
}

// UnmarshalText lets reducers be named in YAML/env configuration.
func (r *Reducer) UnmarshalText(text []byte) error {
	parsed, err := ParseReducer(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText writes the name ParseReducer reads back.
func (r Reducer) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Align turns a raw series into a single-column hourly table named column.
// Buckets are computed on the wall clock of loc. Missing values are
// backward-filled and everything is rounded to three decimals.
func Align(raw models.Series, column string, reducer Reducer, loc *time.Location) (models.Table, error) {
	if loc == nil {
		loc = time.UTC
	}

	points := make([]models.Point, len(raw.Points))
	for i, p := range raw.Points {
		points[i] = models.Point{Time: p.Time.In(loc), Value: p.Value}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})

	var rows []models.Row
	switch reducer {
	case PassThrough:
		for i, p := range points {
			if i > 0 && p.Time.Equal(points[i-1].Time) {
				return models.Table{}, fmt.Errorf("%w: series %q has duplicate timestamp %s",
					ErrNotOneToOne, raw.Name, p.Time.Format(time.DateTime))
			}
			rows = append(rows, models.Row{Time: p.Time, Values: []float64{p.Value}})
		}
	case Sum, Mean:
		rows = resampleHourly(points, reducer, loc)
	default:
		return models.Table{}, fmt.Errorf("unsupported reducer %d", reducer)
	}

	backfill(rows)
	for _, row := range rows {
		row.Values[0] = round3(row.Values[0])
	}

	return models.Table{Columns: []string{column}, Rows: rows}, nil
}

type bucket struct {
	sum   float64
	count int
}

func resampleHourly(points []models.Point, reducer Reducer, loc *time.Location) []models.Row {
	if len(points) == 0 {
		return nil
	}

	buckets := make(map[int64]*bucket)
	for _, p := range points {
		key := floorHour(p.Time, loc).Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		if models.IsMissing(p.Value) {
			continue
		}
		b.sum += p.Value
		b.count++
	}

	first := floorHour(points[0].Time, loc)
	last := floorHour(points[len(points)-1].Time, loc)

	var rows []models.Row
	for t := first; !t.After(last); t = t.Add(time.Hour) {
		value := math.NaN()
		b := buckets[t.Unix()]
		switch {
		case reducer == Sum && b == nil:
			value = 0
		case reducer == Sum:
			value = b.sum
		case b != nil && b.count > 0:
			value = b.sum / float64(b.count)
		}
		rows = append(rows, models.Row{Time: t.In(loc), Values: []float64{value}})
	}
	return rows
}

func floorHour(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
}

// backfill replaces missing values with the next observed value in each column.
func backfill(rows []models.Row) {
	if len(rows) == 0 {
		return
	}
	width := len(rows[0].Values)
	for col := 0; col < width; col++ {
		next := math.NaN()
		for i := len(rows) - 1; i >= 0; i-- {
			if models.IsMissing(rows[i].Values[col]) {
				rows[i].Values[col] = next
				continue
			}
			next = rows[i].Values[col]
		}
	}
}

func round3(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.RoundToEven(v*roundingScale) / roundingScale
}
