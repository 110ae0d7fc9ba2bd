package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/metrics"
	"github.com/bobby-s-dev/power-forecaster/internal/models"
	"github.com/bobby-s-dev/power-forecaster/internal/scheduler"
	"github.com/bobby-s-dev/power-forecaster/internal/services"
)

type fakeJob struct {
	runs      []models.RunReport
	runsErr   error
	latest    *services.CacheItem
	lastLimit int
}

func (f *fakeJob) GetStats() map[string]interface{} {
	return map[string]interface{}{"success_count": 2}
}

func (f *fakeJob) RecentRuns(_ context.Context, limit int) ([]models.RunReport, error) {
	f.lastLimit = limit
	return f.runs, f.runsErr
}

func (f *fakeJob) LatestPredictions() (services.CacheItem, bool) {
	if f.latest == nil {
		return services.CacheItem{}, false
	}
	return *f.latest, true
}

func (f *fakeJob) Predictions(runID string) (services.CacheItem, bool) {
	if f.latest == nil || f.latest.RunID != runID {
		return services.CacheItem{}, false
	}
	return *f.latest, true
}

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) ForceRun() error {
	f.calls++
	return f.err
}

func (f *fakeTrigger) GetStatus() map[string]interface{} {
	return map[string]interface{}{"schedule": "30 0 * * *"}
}

func newApp(job JobService, trigger RunTrigger) *fiber.App {
	return newAppWithInterval(job, trigger, 0)
}

func newAppWithInterval(job JobService, trigger RunTrigger, interval time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupRoutes(app, NewHandler(job, trigger, metrics.New().Handler(), interval, zap.NewNop()))
	return app
}

func do(t *testing.T, app *fiber.App, method, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func TestHealthAndStatus(t *testing.T) {
	app := newApp(&fakeJob{}, &fakeTrigger{})

	code, body := do(t, app, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = do(t, app, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"schedule": "30 0 * * *"}, body["scheduler"])
	assert.Equal(t, map[string]interface{}{"success_count": float64(2)}, body["job"])
}

func TestListRuns(t *testing.T) {
	job := &fakeJob{runs: []models.RunReport{{ID: "run-1", Status: models.RunSucceeded}}}
	app := newApp(job, &fakeTrigger{})

	code, body := do(t, app, http.MethodGet, "/api/v1/runs?limit=5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 5, job.lastLimit)

	code, _ = do(t, app, http.MethodGet, "/api/v1/runs?limit=0")
	assert.Equal(t, http.StatusBadRequest, code)

	job.runsErr = errors.New("disk I/O error")
	code, body = do(t, app, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "disk I/O error", body["details"])
}

func TestTriggerRun(t *testing.T) {
	trigger := &fakeTrigger{}
	app := newApp(&fakeJob{}, trigger)

	code, body := do(t, app, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, 1, trigger.calls)

	trigger.err = scheduler.ErrRunInProgress
	code, _ = do(t, app, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusConflict, code)

	trigger.err = errors.New("boom")
	code, body = do(t, app, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
}

func TestLatestPredictions(t *testing.T) {
	job := &fakeJob{}
	app := newApp(job, &fakeTrigger{})

	code, _ := do(t, app, http.MethodGet, "/api/v1/predictions/latest")
	assert.Equal(t, http.StatusNotFound, code)

	job.latest = &services.CacheItem{
		RunID: "run-1",
		Batch: models.PredictionBatch{
			Measurement: "power_usage",
			Points:      []models.Prediction{{Time: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Value: 12.5}},
		},
	}
	code, body := do(t, app, http.MethodGet, "/api/v1/predictions/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-1", body["run_id"])

	code, _ = do(t, app, http.MethodGet, "/api/v1/predictions/run-1")
	assert.Equal(t, http.StatusOK, code)
	code, body = do(t, app, http.MethodGet, "/api/v1/predictions/run-9")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "run-9", body["run_id"])
}

func TestTriggerRun_RateLimited(t *testing.T) {
	trigger := &fakeTrigger{}
	app := newAppWithInterval(&fakeJob{}, trigger, time.Hour)

	code, _ := do(t, app, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = do(t, app, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, 1, trigger.calls)
}

func TestMetricsAndNotFound(t *testing.T) {
	app := newApp(&fakeJob{}, &fakeTrigger{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "forecaster_training_rows")

	code, body2 := do(t, app, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "/api/v1/nope", body2["path"])
}
