package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/archive"
	"github.com/bobby-s-dev/power-forecaster/internal/config"
	"github.com/bobby-s-dev/power-forecaster/internal/forecast"
	"github.com/bobby-s-dev/power-forecaster/internal/history"
	"github.com/bobby-s-dev/power-forecaster/internal/metrics"
	"github.com/bobby-s-dev/power-forecaster/internal/services"
	"github.com/bobby-s-dev/power-forecaster/internal/store"
	"github.com/bobby-s-dev/power-forecaster/pkg/client"
)

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	influx  *client.InfluxClient
	history *history.Store
	metrics *metrics.Metrics
	job     *services.Job
}

// setup loads configuration, swaps in the configured logger and wires the job.
func setup() (*app, error) {
	bootstrap, _ := zap.NewProduction()
	zap.ReplaceGlobals(bootstrap)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap.Error("Failed to load configuration", zap.Error(err))
		return nil, err
	}

	logger, err := newLogger(cfg.Server.LogLevel, cfg.Server.LogFile)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	_ = bootstrap.Sync()

	hist, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		logger.Error("Failed to open run history", zap.Error(err))
		return nil, err
	}

	cache, err := services.NewPredictionCache(cfg.Cache.Duration, cfg.Cache.MaxSize, logger)
	if err != nil {
		_ = hist.Close()
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}

	influx := client.NewInfluxClient(cfg.Influx, cfg.Forecast.Location, cfg.ClientConfig(), logger)
	m := metrics.New()

	job, err := services.NewJob(services.JobConfig{
		Signals:      cfg.Signals,
		Location:     cfg.Forecast.Location,
		DefaultStart: cfg.Forecast.DefaultStart,
		Forecast:     cfg.ForecastConfig(),
		Sink:         cfg.Sink,
		QueryTimeout: cfg.Timeouts.Query,
		WriteTimeout: cfg.Timeouts.Write,
	}, services.Dependencies{
		Source:    influx,
		Sink:      influx,
		Store:     store.NewCSVStore(cfg.Paths.TrainingCSV, cfg.Forecast.Location, logger),
		Artifacts: forecast.NewFileArtifactStore(cfg.Paths.ModelArtifact),
		Factory:   forecast.NewSARIMA,
		History:   hist,
		Archive:   archive.NewWriter(cfg.Paths.PredictionDir, logger),
		Metrics:   m,
		Cache:     cache,
	}, logger)
	if err != nil {
		influx.Close()
		_ = hist.Close()
		return nil, fmt.Errorf("failed to initialize job: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		influx:  influx,
		history: hist,
		metrics: m,
		job:     job,
	}, nil
}

func (a *app) Close() {
	a.influx.Close()
	if err := a.history.Close(); err != nil {
		a.logger.Warn("Failed to close run history", zap.Error(err))
	}
	_ = a.logger.Sync()
}
