package dataprep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

func tableOf(column string, values ...float64) models.Table {
	t := models.NewTable(column)
	for i, v := range values {
		t.Rows = append(t.Rows, models.Row{Time: at(0, 0).Add(hours(i)), Values: []float64{v}})
	}
	return t
}

func TestClamp_WinsorizesOutliers(t *testing.T) {
	in := tableOf("v", 1, 2, 3, 4, 5, 6, 7, 8, 9, 100, -80)

	out := Clamp(in)

	values, _ := in.Column("v")
	lower, upper, ok := Bounds(values)
	require.True(t, ok)
	require.Less(t, upper, 100.0)
	require.Greater(t, lower, -80.0)

	got, _ := out.Column("v")
	assert.Equal(t, upper, got[9])
	assert.Equal(t, lower, got[10])
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, got[:9])
}

func TestBounds_LinearQuantiles(t *testing.T) {
	tests := []struct {
		name         string
		values       []float64
		lower, upper float64
	}{
		{"odd count with outlier", []float64{1, 2, 3, 4, 100}, -1, 7},
		{"even count", []float64{1, 2, 3, 4}, -0.5, 5.5},
		{"unsorted with gaps", []float64{4, math.NaN(), 1, 3, 2}, -0.5, 5.5},
		{"single value", []float64{5}, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper, ok := Bounds(tt.values)
			require.True(t, ok)
			assert.InDelta(t, tt.lower, lower, 1e-12)
			assert.InDelta(t, tt.upper, upper, 1e-12)
		})
	}

	_, _, ok := Bounds([]float64{math.NaN()})
	assert.False(t, ok)
}

func TestClamp_PinsOutlierToUpperFence(t *testing.T) {
	got, _ := Clamp(tableOf("v", 1, 2, 3, 4, 100)).Column("v")
	assert.Equal(t, []float64{1, 2, 3, 4, 7}, got)
}

func TestClamp_PreservesShapeAndBounds(t *testing.T) {
	in := models.NewTable("a", "b")
	for i := 0; i < 50; i++ {
		a := float64(i % 7)
		b := math.Sin(float64(i)) * 10
		if i%13 == 0 {
			b = 1000
		}
		in.Rows = append(in.Rows, models.Row{Time: at(0, 0).Add(hours(i)), Values: []float64{a, b}})
	}

	out := Clamp(in)

	require.Equal(t, in.Len(), out.Len())
	assert.Equal(t, in.Times(), out.Times())
	for _, name := range in.Columns {
		before, _ := in.Column(name)
		after, _ := out.Column(name)
		lower, upper, _ := Bounds(before)
		for _, v := range after {
			assert.GreaterOrEqual(t, v, lower)
			assert.LessOrEqual(t, v, upper)
		}
	}
}

func TestClamp_ZeroIQRCollapsesToConstant(t *testing.T) {
	in := tableOf("v", 5, 5, 5, 5, 5, 5, 5, 42, -3)

	got, _ := Clamp(in).Column("v")

	for _, v := range got {
		assert.Equal(t, 5.0, v)
	}
}

func TestClamp_KeepsMissingValues(t *testing.T) {
	in := tableOf("v", 1, math.NaN(), 2, 3)

	got, _ := Clamp(in).Column("v")

	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 1.0, got[0])
}

func TestClamp_DoesNotMutateInput(t *testing.T) {
	in := tableOf("v", 1, 2, 3, 4, 1000)

	_ = Clamp(in)

	assert.Equal(t, 1000.0, in.Rows[4].Values[0])
}
