package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/dataprep"
	"github.com/bobby-s-dev/power-forecaster/internal/models"
	"github.com/bobby-s-dev/power-forecaster/internal/store"
)

var kst = time.FixedZone("KST", 9*60*60)

var signals = []Signal{
	{Key: "PowerSocketData", Column: "socket_power(Wh)", Reducer: dataprep.Sum},
	{Key: "CO2Data", Column: "average_co2(ppm)", Reducer: dataprep.PassThrough},
	{Key: "IlluminationData", Column: "average_illumination(lux)", Reducer: dataprep.PassThrough},
}

func hourly(start time.Time, n int, value func(i int) float64) models.Series {
	s := models.Series{}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, models.Point{Time: start.Add(time.Duration(i) * time.Hour), Value: value(i)})
	}
	return s
}

func minutely(start time.Time, n int, value float64) models.Series {
	s := models.Series{}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, models.Point{Time: start.Add(time.Duration(i) * time.Minute), Value: value})
	}
	return s
}

func rawData(start time.Time) map[string]models.Series {
	return map[string]models.Series{
		"PowerSocketData":  minutely(start, 3*60, 1),
		"CO2Data":          hourly(start, 3, func(i int) float64 { return 400 + float64(i) }),
		"IlluminationData": hourly(start.Add(time.Hour), 3, func(i int) float64 { return 100 }),
	}
}

func TestReconcile_AlignsAndJoins(t *testing.T) {
	p := New(signals, kst, zap.NewNop())
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, kst)

	table, err := p.Reconcile(rawData(start))
	require.NoError(t, err)

	assert.Equal(t, []string{"socket_power(Wh)", "average_co2(ppm)", "average_illumination(lux)"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, start.Add(time.Hour), table.Rows[0].Time)
	assert.Equal(t, []float64{60, 401, 100}, table.Rows[0].Values)
	assert.Equal(t, []float64{60, 402, 100}, table.Rows[1].Values)
}

func TestReconcile_MissingSignal(t *testing.T) {
	p := New(signals, kst, zap.NewNop())
	raw := rawData(time.Date(2024, 6, 1, 0, 0, 0, 0, kst))
	delete(raw, "CO2Data")

	_, err := p.Reconcile(raw)
	assert.Error(t, err)
}

func TestReconcile_DuplicateHourIsFatal(t *testing.T) {
	p := New(signals, kst, zap.NewNop())
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, kst)
	raw := rawData(start)
	co2 := raw["CO2Data"]
	co2.Points = append(co2.Points, co2.Points[0])
	raw["CO2Data"] = co2

	_, err := p.Reconcile(raw)
	assert.ErrorIs(t, err, dataprep.ErrNotOneToOne)
}

func TestPatch_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := New(signals, kst, zap.NewNop())
	s := store.NewMemoryStore()
	raw := rawData(time.Date(2024, 6, 1, 0, 0, 0, 0, kst))

	first, err := p.Patch(ctx, s, raw)
	require.NoError(t, err)
	second, err := p.Patch(ctx, s, raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, second.Len())
}
