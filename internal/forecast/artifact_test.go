package forecast

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact() Artifact {
	return Artifact{
		Target:        target,
		Exogenous:     []string{co2, lux},
		Spec:          PrimarySpec,
		Horizon:       3,
		Regression:    Regression{Intercept: 1.5, Coefficients: []float64{2, 0.5}},
		ErrorForecast: []float64{0.1, -0.2, 0.3},
		LastObserved:  time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC),
		Step:          time.Hour,
		Observations:  120,
		TrainedAt:     time.Date(2024, 6, 3, 0, 30, 0, 0, time.UTC),
	}
}

func TestFileArtifactStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileArtifactStore(filepath.Join(t.TempDir(), "model", "final_model.json"))

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrNoArtifact)

	require.NoError(t, s.Save(ctx, sampleArtifact()))
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleArtifact(), loaded)
}

func TestFileArtifactStore_InvalidSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	s := NewFileArtifactStore(filepath.Join(t.TempDir(), "final_model.json"))
	require.NoError(t, s.Save(ctx, sampleArtifact()))

	broken := sampleArtifact()
	broken.ErrorForecast = broken.ErrorForecast[:2]
	assert.ErrorIs(t, s.Save(ctx, broken), ErrHorizonMismatch)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleArtifact(), loaded)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileArtifactStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "final_model.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileArtifactStore(path).Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoArtifact)
}
