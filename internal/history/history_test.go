package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

func TestStore_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	base := time.Date(2024, 6, 3, 0, 30, 0, 0, time.UTC)
	ok := models.RunReport{
		ID:          "run-1",
		StartedAt:   base,
		FinishedAt:  base.Add(time.Minute),
		Status:      models.RunSucceeded,
		WindowStart: time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
		RowsFetched: 3000,
		Reconciled:  true,
		Predictions: 24,
	}
	failed := models.RunReport{
		ID:         "run-2",
		StartedAt:  base.Add(24 * time.Hour),
		FinishedAt: base.Add(24*time.Hour + time.Second),
		Status:     models.RunFailed,
		Error:      "assemble_future_exog: forecast horizon mismatch",
	}
	require.NoError(t, s.Record(ctx, ok))
	require.NoError(t, s.Record(ctx, failed))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed, runs[0])
	assert.Equal(t, ok, runs[1])

	runs, err = s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_RecordUpsertsByID(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	r := models.RunReport{ID: "run-1", StartedAt: time.Unix(100, 0).UTC(), FinishedAt: time.Unix(100, 0).UTC(), Status: models.RunFailed}
	require.NoError(t, s.Record(ctx, r))
	r.Status = models.RunSucceeded
	r.Predictions = 24
	require.NoError(t, s.Record(ctx, r))

	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSucceeded, runs[0].Status)
	assert.Equal(t, 24, runs[0].Predictions)
}

func TestOpen_ReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, models.RunReport{ID: "run-1", StartedAt: time.Unix(1, 0).UTC(), FinishedAt: time.Unix(2, 0).UTC(), Status: models.RunSucceeded}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	runs, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}
