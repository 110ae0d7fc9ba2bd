package forecast

import (
	"context"
	"errors"
	"sync"
)

// seasonalNaive repeats the last observed season.
type seasonalNaive struct {
	period int
	values []float64
}

func (m *seasonalNaive) Fit(_ context.Context, values []float64) error {
	m.values = append([]float64(nil), values...)
	return nil
}

func (m *seasonalNaive) Predict(steps int) ([]float64, error) {
	if len(m.values) < m.period {
		return nil, errors.New("not fitted")
	}
	season := m.values[len(m.values)-m.period:]
	out := make([]float64, steps)
	for i := range out {
		out[i] = season[i%m.period]
	}
	return out, nil
}

type truncating struct {
	SeriesModel
	drop int
}

func (m *truncating) Predict(steps int) ([]float64, error) {
	return m.SeriesModel.Predict(steps - m.drop)
}

type failing struct{ err error }

func (m failing) Fit(context.Context, []float64) error { return m.err }
func (m failing) Predict(int) ([]float64, error)       { return nil, m.err }

type blocking struct{}

func (blocking) Fit(ctx context.Context, _ []float64) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blocking) Predict(int) ([]float64, error) { return nil, errors.New("not fitted") }

// factoryFor hands out naive models, letting a test override the ones built
// for a particular spec.
type factoryFor struct {
	mu        sync.Mutex
	primary   func() SeriesModel
	exogenous func() SeriesModel
	built     map[ModelSpec]int
}

func (f *factoryFor) build(spec ModelSpec) SeriesModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil {
		f.built = map[ModelSpec]int{}
	}
	f.built[spec]++

	if spec == PrimarySpec && f.primary != nil {
		return f.primary()
	}
	if spec == ExogenousSpec && f.exogenous != nil {
		return f.exogenous()
	}
	return &seasonalNaive{period: spec.Seasonal.Period}
}
