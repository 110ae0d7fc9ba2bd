package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the forecasting job
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	RowsFetched        *prometheus.CounterVec
	TrainingRows       prometheus.Gauge
	PredictionsWritten prometheus.Counter
	LastSuccess        prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_runs_total",
				Help: "Forecast runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecaster_run_duration_seconds",
			Help:    "Wall time of a full ETL and forecast run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecaster_stage_duration_seconds",
				Help:    "Wall time of each forecast stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage", "outcome"},
		),
		RowsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_rows_fetched_total",
				Help: "Raw rows returned by source queries",
			},
			[]string{"signal"},
		),
		TrainingRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecaster_training_rows",
			Help: "Rows in the training store after the last reconcile",
		}),
		PredictionsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecaster_predictions_written_total",
			Help: "Prediction points written to the sink",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forecaster_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
