package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobby-s-dev/power-forecaster/internal/forecast"
	"github.com/bobby-s-dev/power-forecaster/internal/metrics"
	"github.com/bobby-s-dev/power-forecaster/internal/models"
	"github.com/bobby-s-dev/power-forecaster/internal/pipeline"
	"github.com/bobby-s-dev/power-forecaster/internal/store"
	"github.com/bobby-s-dev/power-forecaster/internal/window"
)

// SensorSource runs one query against the time-series database.
type SensorSource interface {
	Query(ctx context.Context, query string) ([]models.Point, error)
}

type PredictionSink interface {
	WritePredictions(ctx context.Context, batch models.PredictionBatch) error
}

// RunRecorder persists run reports.
type RunRecorder interface {
	Record(ctx context.Context, report models.RunReport) error
	Recent(ctx context.Context, limit int) ([]models.RunReport, error)
}

// Archiver snapshots written predictions.
type Archiver interface {
	Write(runID string, batch models.PredictionBatch, loc *time.Location) (string, error)
}

type JobConfig struct {
	Signals      []pipeline.Signal
	Location     *time.Location
	DefaultStart string
	Forecast     forecast.Config
	Sink         forecast.SinkFormat
	QueryTimeout time.Duration
	WriteTimeout time.Duration
}

// Dependencies are the collaborators of a Job. History, Archive, Metrics and
// Cache are optional.
type Dependencies struct {
	Source    SensorSource
	Sink      PredictionSink
	Store     store.TrainingStore
	Artifacts forecast.ArtifactStore
	Factory   forecast.ModelFactory
	History   RunRecorder
	Archive   Archiver
	Metrics   *metrics.Metrics
	Cache     *PredictionCache
}

// Job runs one ETL and forecast cycle: plan the window, refresh the training
// store if a new day has elapsed, fit and forecast, write the predictions.
// Runs must not overlap; the scheduler serializes them.
type Job struct {
	cfg          JobConfig
	deps         Dependencies
	planner      *window.Planner
	pipeline     *pipeline.Pipeline
	orchestrator *forecast.Orchestrator
	queries      map[string]*template.Template
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.RWMutex
	lastReport   *models.RunReport
	successCount int
	failureCount int
}

type queryWindow struct {
	Start string
	Stop  string
}

func NewJob(cfg JobConfig, deps Dependencies, logger *zap.Logger) (*Job, error) {
	if deps.Source == nil || deps.Sink == nil || deps.Store == nil || deps.Artifacts == nil {
		return nil, errors.New("job needs a source, a sink, a training store and an artifact store")
	}

	planner, err := window.NewPlanner(cfg.Location, cfg.DefaultStart)
	if err != nil {
		return nil, err
	}

	queries := make(map[string]*template.Template, len(cfg.Signals))
	for _, sig := range cfg.Signals {
		tmpl, err := template.New(sig.Key).Option("missingkey=error").Parse(sig.Query)
		if err != nil {
			return nil, fmt.Errorf("invalid query template for %s: %w", sig.Key, err)
		}
		queries[sig.Key] = tmpl
	}

	orchestrator := forecast.NewOrchestrator(cfg.Forecast, deps.Factory, deps.Artifacts, logger)
	if deps.Metrics != nil {
		orchestrator.OnStage(func(stage forecast.State, elapsed time.Duration, err error) {
			deps.Metrics.ObserveStage(stage.String(), elapsed, err)
		})
	}

	return &Job{
		cfg:          cfg,
		deps:         deps,
		planner:      planner,
		pipeline:     pipeline.New(cfg.Signals, cfg.Location, logger),
		orchestrator: orchestrator,
		queries:      queries,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Run executes one cycle. The returned report is filled in even on failure.
func (j *Job) Run(ctx context.Context) (models.RunReport, error) {
	started := j.now()
	report := models.RunReport{
		ID:        uuid.NewString(),
		StartedAt: started,
	}
	logger := j.logger.With(zap.String("run_id", report.ID))
	logger.Info("Forecast run started")

	err := j.run(ctx, logger, &report)
	j.finish(ctx, logger, &report, err)
	return report, err
}

func (j *Job) run(ctx context.Context, logger *zap.Logger, report *models.RunReport) error {
	last, ok, err := store.LastTimestamp(ctx, j.deps.Store)
	if err != nil {
		return fmt.Errorf("failed to read last stored timestamp: %w", err)
	}

	w := j.planner.Plan(last, ok, j.now())
	report.WindowStart = w.Start
	report.WindowEnd = w.End
	logger.Info("Query window (UTC)", zap.Stringer("window", w))

	var training models.Table
	if w.HasNewData() {
		logger.Info("Refreshing training data")
		raw, rows, err := j.fetch(ctx, w)
		report.RowsFetched = rows
		if err != nil {
			return err
		}
		training, err = j.pipeline.Patch(ctx, j.deps.Store, raw)
		if err != nil {
			return fmt.Errorf("failed to patch training data: %w", err)
		}
		report.Reconciled = true
	} else {
		logger.Info("Training data is up to date")
		training, _, err = j.deps.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load training data: %w", err)
		}
	}
	if j.deps.Metrics != nil {
		j.deps.Metrics.TrainingRows.Set(float64(training.Len()))
	}

	result, err := j.orchestrator.Run(ctx, training)
	if err != nil {
		return fmt.Errorf("forecast failed: %w", err)
	}

	batch := forecast.Shape(result, j.cfg.Sink, j.cfg.Location)
	batch.GeneratedAt = j.now()

	writeCtx, cancel := withTimeout(ctx, j.cfg.WriteTimeout)
	defer cancel()
	if err := j.deps.Sink.WritePredictions(writeCtx, batch); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	report.Predictions = len(batch.Points)
	if j.deps.Metrics != nil {
		j.deps.Metrics.PredictionsWritten.Add(float64(len(batch.Points)))
	}

	// The predictions are already in the sink, so a local snapshot failure
	// does not fail the run.
	if j.deps.Archive != nil {
		if _, err := j.deps.Archive.Write(report.ID, batch, j.cfg.Location); err != nil {
			logger.Warn("Failed to archive predictions", zap.Error(err))
		}
	}
	if j.deps.Cache != nil {
		j.deps.Cache.Set(report.ID, batch)
	}
	return nil
}

// fetch runs every signal query concurrently under the query timeout.
func (j *Job) fetch(ctx context.Context, w window.Window) (map[string]models.Series, int, error) {
	bounds := queryWindow{
		Start: w.Start.UTC().Format(time.RFC3339),
		Stop:  w.End.UTC().Format(time.RFC3339),
	}

	queries := make([]string, len(j.cfg.Signals))
	for i, sig := range j.cfg.Signals {
		var buf bytes.Buffer
		if err := j.queries[sig.Key].Execute(&buf, bounds); err != nil {
			return nil, 0, fmt.Errorf("failed to render query %s: %w", sig.Key, err)
		}
		queries[i] = buf.String()
	}

	queryCtx, cancel := withTimeout(ctx, j.cfg.QueryTimeout)
	defer cancel()

	results := make([]models.Series, len(j.cfg.Signals))
	g, gctx := errgroup.WithContext(queryCtx)
	for i, sig := range j.cfg.Signals {
		g.Go(func() error {
			points, err := j.deps.Source.Query(gctx, queries[i])
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", sig.Key, err)
			}
			results[i] = models.Series{Name: sig.Key, Points: points}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	raw := make(map[string]models.Series, len(results))
	rows := 0
	for _, series := range results {
		raw[series.Name] = series
		rows += len(series.Points)
		if j.deps.Metrics != nil {
			j.deps.Metrics.RowsFetched.WithLabelValues(series.Name).Add(float64(len(series.Points)))
		}
		j.logger.Info("Signal fetched",
			zap.String("signal", series.Name),
			zap.Int("rows", len(series.Points)))
	}
	return raw, rows, nil
}

func (j *Job) finish(ctx context.Context, logger *zap.Logger, report *models.RunReport, runErr error) {
	report.FinishedAt = j.now()
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	report.Status = models.RunSucceeded
	if runErr != nil {
		report.Status = models.RunFailed
		report.Error = runErr.Error()
		logger.Error("Forecast run failed", zap.Error(runErr), zap.Duration("duration", elapsed))
	} else {
		logger.Info("Forecast run completed",
			zap.Bool("reconciled", report.Reconciled),
			zap.Int("predictions", report.Predictions),
			zap.Duration("duration", elapsed))
	}

	if m := j.deps.Metrics; m != nil {
		m.RunsTotal.WithLabelValues(string(report.Status)).Inc()
		m.RunDuration.Observe(elapsed.Seconds())
		if runErr == nil {
			m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
		}
	}

	if j.deps.History != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := j.deps.History.Record(recordCtx, *report); err != nil {
			logger.Warn("Failed to record run history", zap.Error(err))
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	saved := *report
	j.lastReport = &saved
	if runErr != nil {
		j.failureCount++
	} else {
		j.successCount++
	}
}

// LastReport returns the report of the most recent run in this process.
func (j *Job) LastReport() (models.RunReport, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.lastReport == nil {
		return models.RunReport{}, false
	}
	return *j.lastReport, true
}

// RecentRuns reads the run history, falling back to the in-process report.
func (j *Job) RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if j.deps.History != nil {
		return j.deps.History.Recent(ctx, limit)
	}
	if r, ok := j.LastReport(); ok {
		return []models.RunReport{r}, nil
	}
	return nil, nil
}

func (j *Job) LatestPredictions() (CacheItem, bool) {
	if j.deps.Cache == nil {
		return CacheItem{}, false
	}
	return j.deps.Cache.Latest()
}

func (j *Job) Predictions(runID string) (CacheItem, bool) {
	if j.deps.Cache == nil {
		return CacheItem{}, false
	}
	return j.deps.Cache.Get(runID)
}

func (j *Job) GetStats() map[string]interface{} {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := map[string]interface{}{
		"success_count":  j.successCount,
		"failure_count":  j.failureCount,
		"forecast_stage": j.orchestrator.State().String(),
		"signals":        len(j.cfg.Signals),
	}
	if j.lastReport != nil {
		stats["last_run"] = *j.lastReport
	}
	if j.deps.Cache != nil {
		stats["cache_stats"] = j.deps.Cache.GetStats()
	}
	return stats
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
