package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

var (
	// ErrHorizonMismatch means the exogenous forecasts and the primary model
	// disagree on how many steps ahead they cover.
	ErrHorizonMismatch  = errors.New("forecast horizon mismatch")
	ErrInsufficientData = errors.New("not enough training data")
)

type State int

const (
	Idle State = iota
	FitPrimary
	ForecastExogenous
	AssembleFutureExog
	PredictPrimary
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FitPrimary:
		return "fit_primary"
	case ForecastExogenous:
		return "forecast_exogenous"
	case AssembleFutureExog:
		return "assemble_future_exog"
	case PredictPrimary:
		return "predict_primary"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const DefaultHorizon = 24

type Config struct {
	Target        string
	Exogenous     []string
	Horizon       int
	Step          time.Duration
	PrimarySpec   ModelSpec
	ExogenousSpec ModelSpec
	FitTimeout    time.Duration
}

func DefaultConfig(target string, exogenous []string) Config {
	return Config{
		Target:        target,
		Exogenous:     exogenous,
		Horizon:       DefaultHorizon,
		Step:          time.Hour,
		PrimarySpec:   PrimarySpec,
		ExogenousSpec: ExogenousSpec,
		FitTimeout:    10 * time.Minute,
	}
}

// StageObserver is told how long each stage took and whether it failed.
type StageObserver func(stage State, elapsed time.Duration, err error)

// Orchestrator refreshes the primary model and produces the next forecast.
// It is not safe for concurrent Runs.
type Orchestrator struct {
	cfg       Config
	factory   ModelFactory
	artifacts ArtifactStore
	logger    *zap.Logger
	observer  StageObserver
	now       func() time.Time

	mu      sync.RWMutex
	state   State
	history []State
}

func NewOrchestrator(cfg Config, factory ModelFactory, artifacts ArtifactStore, logger *zap.Logger) *Orchestrator {
	if factory == nil {
		factory = NewSARIMA
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Hour
	}
	return &Orchestrator{
		cfg:       cfg,
		factory:   factory,
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
		state:     Idle,
	}
}

func (o *Orchestrator) OnStage(observer StageObserver) {
	o.observer = observer
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Transitions returns the states visited by the last run.
func (o *Orchestrator) Transitions() []State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]State(nil), o.history...)
}

func (o *Orchestrator) enter(s State) {
	o.mu.Lock()
	o.state = s
	o.history = append(o.history, s)
	o.mu.Unlock()
	o.logger.Info("Forecast stage", zap.Stringer("state", s))
}

func (o *Orchestrator) stage(s State, fn func() error) error {
	o.enter(s)
	started := time.Now()
	err := fn()
	if o.observer != nil {
		o.observer(s, time.Since(started), err)
	}
	if err != nil {
		o.logger.Error("Forecast stage failed", zap.Stringer("state", s), zap.Error(err))
		o.enter(Failed)
		return fmt.Errorf("%s: %w", s, err)
	}
	return nil
}

// Run fits and persists the primary model on the whole training table,
// forecasts every exogenous variable, and feeds those forecasts to the
// reloaded primary model. Nothing is returned unless every stage succeeds.
func (o *Orchestrator) Run(ctx context.Context, training models.Table) (Forecast, error) {
	o.mu.Lock()
	o.state = Idle
	o.history = []State{Idle}
	o.mu.Unlock()

	data, err := o.prepare(training)
	if err != nil {
		o.enter(Failed)
		return Forecast{}, err
	}

	if err := o.stage(FitPrimary, func() error {
		return o.fitPrimary(ctx, data)
	}); err != nil {
		return Forecast{}, err
	}

	var exogForecasts [][]float64
	if err := o.stage(ForecastExogenous, func() error {
		exogForecasts, err = o.forecastExogenous(ctx, data)
		return err
	}); err != nil {
		return Forecast{}, err
	}

	var future models.Table
	if err := o.stage(AssembleFutureExog, func() error {
		future, err = o.assemble(ctx, data.origin, exogForecasts)
		return err
	}); err != nil {
		return Forecast{}, err
	}

	var result Forecast
	if err := o.stage(PredictPrimary, func() error {
		result, err = o.predict(ctx, future)
		return err
	}); err != nil {
		return Forecast{}, err
	}

	o.enter(Done)
	return result, nil
}

type trainingData struct {
	target    []float64
	exogenous [][]float64
	origin    time.Time
}

func (o *Orchestrator) prepare(training models.Table) (trainingData, error) {
	origin, ok := training.LastTime()
	if !ok {
		return trainingData{}, fmt.Errorf("%w: training table is empty", ErrInsufficientData)
	}
	minObs := max(o.cfg.PrimarySpec.MinObservations(), o.cfg.ExogenousSpec.MinObservations())
	if training.Len() < minObs {
		return trainingData{}, fmt.Errorf("%w: have %d rows, need at least %d", ErrInsufficientData, training.Len(), minObs)
	}

	data := trainingData{origin: origin}
	target, err := o.column(training, o.cfg.Target)
	if err != nil {
		return trainingData{}, err
	}
	data.target = target
	for _, name := range o.cfg.Exogenous {
		values, err := o.column(training, name)
		if err != nil {
			return trainingData{}, err
		}
		data.exogenous = append(data.exogenous, values)
	}
	return data, nil
}

// column extracts a column with any missing tail carried forward. Leading
// and interior gaps are already backward-filled upstream.
func (o *Orchestrator) column(training models.Table, name string) ([]float64, error) {
	values, ok := training.Column(name)
	if !ok {
		return nil, fmt.Errorf("training table has no column %q", name)
	}
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = last
			continue
		}
		last = v
	}
	for _, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: column %q has no observations", ErrInsufficientData, name)
		}
	}
	return values, nil
}

func (o *Orchestrator) withFitTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.FitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.FitTimeout)
}

func (o *Orchestrator) fitPrimary(ctx context.Context, data trainingData) error {
	ctx, cancel := o.withFitTimeout(ctx)
	defer cancel()

	reg, err := FitRegression(data.target, data.exogenous)
	if err != nil {
		return fmt.Errorf("regression on exogenous variables: %w", err)
	}

	model := o.factory(o.cfg.PrimarySpec)
	if err := model.Fit(ctx, reg.Residuals(data.target, data.exogenous)); err != nil {
		return err
	}
	errorPath, err := model.Predict(o.cfg.Horizon)
	if err != nil {
		return fmt.Errorf("forecasting regression errors: %w", err)
	}

	artifact := Artifact{
		Target:        o.cfg.Target,
		Exogenous:     append([]string(nil), o.cfg.Exogenous...),
		Spec:          o.cfg.PrimarySpec,
		Horizon:       o.cfg.Horizon,
		Regression:    reg,
		ErrorForecast: errorPath,
		LastObserved:  data.origin,
		Step:          o.cfg.Step,
		Observations:  len(data.target),
		TrainedAt:     o.now(),
	}
	if err := o.artifacts.Save(ctx, artifact); err != nil {
		return fmt.Errorf("failed to persist primary model: %w", err)
	}

	o.logger.Info("Primary model saved",
		zap.String("target", o.cfg.Target),
		zap.Stringer("spec", o.cfg.PrimarySpec),
		zap.Int("observations", artifact.Observations))
	return nil
}

// forecastExogenous fits one model per exogenous variable concurrently. The
// result is indexed like cfg.Exogenous regardless of completion order.
func (o *Orchestrator) forecastExogenous(ctx context.Context, data trainingData) ([][]float64, error) {
	ctx, cancel := o.withFitTimeout(ctx)
	defer cancel()

	results := make([][]float64, len(o.cfg.Exogenous))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range o.cfg.Exogenous {
		g.Go(func() error {
			model := o.factory(o.cfg.ExogenousSpec)
			if err := model.Fit(gctx, data.exogenous[i]); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			values, err := model.Predict(o.cfg.Horizon)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = values
			o.logger.Debug("Exogenous forecast ready", zap.String("variable", name), zap.Int("steps", len(values)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// assemble lays the exogenous forecasts side by side. Every column must cover
// exactly the persisted primary model's horizon.
func (o *Orchestrator) assemble(ctx context.Context, origin time.Time, forecasts [][]float64) (models.Table, error) {
	artifact, err := o.artifacts.Load(ctx)
	if err != nil {
		return models.Table{}, err
	}

	rows := 0
	for _, f := range forecasts {
		rows = max(rows, len(f))
	}
	for i, f := range forecasts {
		if len(f) != artifact.Horizon {
			return models.Table{}, fmt.Errorf("%w: %s forecast has %d rows, model horizon is %d",
				ErrHorizonMismatch, o.cfg.Exogenous[i], len(f), artifact.Horizon)
		}
	}
	if len(forecasts) == 0 {
		rows = artifact.Horizon
	}

	future := models.NewTable(o.cfg.Exogenous...)
	for r := 0; r < rows; r++ {
		values := make([]float64, len(forecasts))
		for c, f := range forecasts {
			values[c] = f[r]
		}
		future.Rows = append(future.Rows, models.Row{
			Time:   origin.Add(time.Duration(r+1) * artifact.Step),
			Values: values,
		})
	}
	return future, nil
}

func (o *Orchestrator) predict(ctx context.Context, future models.Table) (Forecast, error) {
	artifact, err := o.artifacts.Load(ctx)
	if err != nil {
		return Forecast{}, err
	}
	if future.Len() != artifact.Horizon {
		return Forecast{}, fmt.Errorf("%w: %d future rows for horizon %d", ErrHorizonMismatch, future.Len(), artifact.Horizon)
	}

	exog, ok := future.Select(artifact.Exogenous...)
	if !ok {
		return Forecast{}, fmt.Errorf("future covariates %v do not match model covariates %v", future.Columns, artifact.Exogenous)
	}

	values := make([]float64, artifact.Horizon)
	for i, row := range exog.Rows {
		values[i] = artifact.Regression.Apply(row.Values) + artifact.ErrorForecast[i]
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return Forecast{}, fmt.Errorf("%w: step %d of %s is %g", ErrUnstableForecast, i+1, artifact.Target, values[i])
		}
	}

	o.logger.Info("Primary forecast ready",
		zap.String("target", artifact.Target),
		zap.Int("steps", len(values)))
	return Forecast{
		Target: artifact.Target,
		Origin: artifact.LastObserved,
		Step:   artifact.Step,
		Values: values,
	}, nil
}
