package dataprep

import (
	"math"
	"sort"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

const iqrFactor = 1.5

// Bounds returns the IQR fences of values, ignoring missing entries.
func Bounds(values []float64) (lower, upper float64, ok bool) {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !models.IsMissing(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return 0, 0, false
	}
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1

	return q1 - iqrFactor*iqr, q3 + iqrFactor*iqr, true
}

// quantile interpolates linearly between the order statistics around
// (n-1)·p, the default estimator of R and pandas (Hyndman-Fan type 7).
// sorted must be non-empty and ascending.
func quantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Clamp winsorizes every value column to its IQR fences. Row count,
// timestamps and missing values are preserved.
func Clamp(t models.Table) models.Table {
	out := t.Clone()
	for col, name := range out.Columns {
		values, _ := out.Column(name)
		lower, upper, ok := Bounds(values)
		if !ok {
			continue
		}
		for i := range out.Rows {
			v := out.Rows[i].Values[col]
			switch {
			case models.IsMissing(v):
			case v < lower:
				out.Rows[i].Values[col] = lower
			case v > upper:
				out.Rows[i].Values[col] = upper
			}
		}
	}
	return out
}
