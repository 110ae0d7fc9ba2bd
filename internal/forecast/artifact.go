package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrNoArtifact = errors.New("no model artifact has been saved")

// Artifact is the persisted primary model: the regression on the exogenous
// variables plus the forecast path of its SARIMA errors.
type Artifact struct {
	Target        string        `json:"target"`
	Exogenous     []string      `json:"exogenous"`
	Spec          ModelSpec     `json:"spec"`
	Horizon       int           `json:"horizon"`
	Regression    Regression    `json:"regression"`
	ErrorForecast []float64     `json:"error_forecast"`
	LastObserved  time.Time     `json:"last_observed"`
	Step          time.Duration `json:"step"`
	Observations  int           `json:"observations"`
	TrainedAt     time.Time     `json:"trained_at"`
}

func (a Artifact) validate() error {
	if a.Horizon <= 0 {
		return fmt.Errorf("artifact horizon must be positive, got %d", a.Horizon)
	}
	if len(a.ErrorForecast) != a.Horizon {
		return fmt.Errorf("%w: artifact carries %d error steps for horizon %d", ErrHorizonMismatch, len(a.ErrorForecast), a.Horizon)
	}
	if len(a.Regression.Coefficients) != len(a.Exogenous) {
		return fmt.Errorf("artifact has %d coefficients for %d exogenous variables", len(a.Regression.Coefficients), len(a.Exogenous))
	}
	if a.Step <= 0 {
		return fmt.Errorf("artifact step must be positive")
	}
	return nil
}

type ArtifactStore interface {
	Save(ctx context.Context, artifact Artifact) error
	Load(ctx context.Context) (Artifact, error)
}

// FileArtifactStore keeps the artifact as JSON at a stable path. Saves go
// through a temporary file so a failed save leaves the previous model intact.
type FileArtifactStore struct {
	path string
}

func NewFileArtifactStore(path string) *FileArtifactStore {
	return &FileArtifactStore{path: path}
}

func (s *FileArtifactStore) Path() string {
	return s.path
}

func (s *FileArtifactStore) Save(_ context.Context, artifact Artifact) error {
	if err := artifact.validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileArtifactStore) Load(_ context.Context) (Artifact, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, ErrNoArtifact
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("failed to decode artifact %s: %w", s.path, err)
	}
	if err := artifact.validate(); err != nil {
		return Artifact{}, fmt.Errorf("invalid artifact %s: %w", s.path, err)
	}
	return artifact, nil
}

type MemoryArtifactStore struct {
	mu       sync.RWMutex
	artifact *Artifact
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{}
}

func (s *MemoryArtifactStore) Save(_ context.Context, artifact Artifact) error {
	if err := artifact.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = &artifact
	return nil
}

func (s *MemoryArtifactStore) Load(_ context.Context) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return Artifact{}, ErrNoArtifact
	}
	return *s.artifact, nil
}
