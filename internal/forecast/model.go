package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sartorproj/goarima/sarima"
	"github.com/sartorproj/goarima/timeseries"
	"gonum.org/v1/gonum/floats"
)

type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

type SeasonalOrder struct {
	P      int `json:"p"`
	D      int `json:"d"`
	Q      int `json:"q"`
	Period int `json:"period"`
}

// ModelSpec fixes the orders of a seasonal ARIMA model.
type ModelSpec struct {
	Order    Order         `json:"order"`
	Seasonal SeasonalOrder `json:"seasonal_order"`
}

func (s ModelSpec) String() string {
	return fmt.Sprintf("SARIMA(%d,%d,%d)(%d,%d,%d)[%d]",
		s.Order.P, s.Order.D, s.Order.Q,
		s.Seasonal.P, s.Seasonal.D, s.Seasonal.Q, s.Seasonal.Period)
}

// MinObservations is the shortest history the spec can be fitted on: the
// rows consumed by differencing plus what the ARMA fit needs afterwards.
func (s ModelSpec) MinObservations() int {
	period := max(s.Seasonal.Period, 1)
	arma := s.Order.P + s.Order.Q + (s.Seasonal.P+s.Seasonal.Q)*period + minFitRows
	return s.Order.D + s.Seasonal.D*period + arma
}

// minFitRows is the slack goarima requires beyond the lags it estimates.
const minFitRows = 20

// The seasonal orders follow the production model. The non-seasonal part is
// AR(1) on the seasonally differenced series: combining regular and seasonal
// differencing with MA terms leaves goarima's CSS fit non-invertible.
var (
	PrimarySpec = ModelSpec{
		Order:    Order{P: 1, D: 0, Q: 0},
		Seasonal: SeasonalOrder{P: 0, D: 1, Q: 1, Period: 24},
	}
	ExogenousSpec = ModelSpec{
		Order:    Order{P: 1, D: 0, Q: 0},
		Seasonal: SeasonalOrder{P: 1, D: 1, Q: 1, Period: 24},
	}
)

// ErrUnstableForecast means a fitted model produced values that are not
// finite or lie far outside anything it was trained on.
var ErrUnstableForecast = errors.New("forecast is unstable")

// maxSpans bounds forecasts to the training range widened by this many
// multiples of its width.
const maxSpans = 10

// SeriesModel is a univariate forecaster.
type SeriesModel interface {
	Fit(ctx context.Context, values []float64) error
	Predict(steps int) ([]float64, error)
}

type ModelFactory func(spec ModelSpec) SeriesModel

type sarimaFitter interface {
	Fit(series *timeseries.Series) error
	Predict(steps int) ([]float64, error)
}

// SARIMA adapts goarima's seasonal model to SeriesModel. Differencing and its
// inverse are done here; goarima only fits the ARMA part of the
// differenced series.
type SARIMA struct {
	spec  ModelSpec
	model sarimaFitter

	// tails[k] holds the end of the series before the k-th differencing pass,
	// enough to undo it: one value for a regular pass, a period for a
	// seasonal one.
	tails [][]float64
	lags  []int
	low   float64
	high  float64
}

func NewSARIMA(spec ModelSpec) SeriesModel {
	return &SARIMA{spec: spec}
}

// Fit blocks until the model is fitted or ctx is done. goarima cannot be
// interrupted: on cancellation Fit returns at once but the abandoned fit
// keeps its goroutine until it converges, and its result is discarded.
// A context that is already done never starts one.
func (m *SARIMA) Fit(ctx context.Context, values []float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fitting %s: %w", m.spec, err)
	}
	if len(values) < m.spec.MinObservations() {
		return fmt.Errorf("fitting %s: have %d values, need %d", m.spec, len(values), m.spec.MinObservations())
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("fitting %s: value %d is not finite", m.spec, i)
		}
	}

	period := m.spec.Seasonal.Period
	if m.spec.Seasonal.D > 0 && period < 2 {
		return fmt.Errorf("fitting %s: seasonal differencing needs a period of at least 2", m.spec)
	}

	var lags []int
	for i := 0; i < m.spec.Order.D; i++ {
		lags = append(lags, 1)
	}
	for i := 0; i < m.spec.Seasonal.D; i++ {
		lags = append(lags, period)
	}
	diffed, tails := difference(values, lags)

	model := sarima.New(
		m.spec.Order.P, 0, m.spec.Order.Q,
		m.spec.Seasonal.P, 0, m.spec.Seasonal.Q,
		period,
	)
	series := &timeseries.Series{Values: diffed}

	done := make(chan error, 1)
	go func() {
		done <- model.Fit(series)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fitting %s: %w", m.spec, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("fitting %s: %w", m.spec, err)
		}
	}

	m.model = model
	m.lags = lags
	m.tails = tails
	m.low, m.high = floats.Min(values), floats.Max(values)
	return nil
}

// Predict forecasts steps values on the original scale.
func (m *SARIMA) Predict(steps int) ([]float64, error) {
	if m.model == nil {
		return nil, fmt.Errorf("%s has not been fitted", m.spec)
	}
	diffed, err := m.model.Predict(steps)
	if err != nil {
		return nil, fmt.Errorf("forecasting %s: %w", m.spec, err)
	}
	if len(diffed) != steps {
		return nil, fmt.Errorf("forecasting %s: got %d values for %d steps", m.spec, len(diffed), steps)
	}

	out := integrate(diffed, m.lags, m.tails)
	if err := m.checkBounds(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *SARIMA) checkBounds(values []float64) error {
	span := m.high - m.low
	if span == 0 {
		span = math.Max(math.Abs(m.high), 1)
	}
	lower, upper := m.low-maxSpans*span, m.high+maxSpans*span
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < lower || v > upper {
			return fmt.Errorf("%w: %s step %d is %g, training range [%g, %g]",
				ErrUnstableForecast, m.spec, i+1, v, m.low, m.high)
		}
	}
	return nil
}

// difference applies one differencing pass per lag, in order, and returns the
// result with the tail of each intermediate series.
func difference(values []float64, lags []int) ([]float64, [][]float64) {
	cur := append([]float64(nil), values...)
	tails := make([][]float64, len(lags))
	for k, lag := range lags {
		tails[k] = append([]float64(nil), cur[len(cur)-lag:]...)
		next := make([]float64, len(cur)-lag)
		for i := range next {
			next[i] = cur[i+lag] - cur[i]
		}
		cur = next
	}
	return cur, tails
}

// integrate undoes difference on a forecast, last pass first.
func integrate(forecast []float64, lags []int, tails [][]float64) []float64 {
	cur := append([]float64(nil), forecast...)
	for k := len(lags) - 1; k >= 0; k-- {
		lag, tail := lags[k], tails[k]
		for i := range cur {
			if i < lag {
				cur[i] += tail[i]
			} else {
				cur[i] += cur[i-lag]
			}
		}
	}
	return cur
}
