// Package archive keeps a Parquet snapshot of every prediction batch written
// to the sink.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// PredictionRecord is one archived prediction row.
type PredictionRecord struct {
	RunID       string    `parquet:"run_id,snappy"`
	Measurement string    `parquet:"measurement,snappy"`
	Field       string    `parquet:"field,snappy"`
	Time        time.Time `parquet:"time,snappy"`
	Value       float64   `parquet:"value,snappy"`
	GeneratedAt time.Time `parquet:"generated_at,snappy"`
}

type Writer struct {
	dir    string
	logger *zap.Logger
}

func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// FileName is predictions_<YYYYMMDD>.parquet for the first predicted day in loc.
func FileName(batch models.PredictionBatch, loc *time.Location) string {
	day := batch.GeneratedAt
	if len(batch.Points) > 0 {
		day = batch.Points[0].Time
	}
	if loc != nil {
		day = day.In(loc)
	}
	return fmt.Sprintf("predictions_%s.parquet", day.Format("20060102"))
}

// Write stores the batch and returns the written file path. A rerun for the
// same day replaces the previous snapshot.
func (w *Writer) Write(runID string, batch models.PredictionBatch, loc *time.Location) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	records := make([]PredictionRecord, len(batch.Points))
	for i, p := range batch.Points {
		records[i] = PredictionRecord{
			RunID:       runID,
			Measurement: batch.Measurement,
			Field:       batch.Field,
			Time:        p.Time.UTC(),
			Value:       p.Value,
			GeneratedAt: batch.GeneratedAt.UTC(),
		}
	}

	path := filepath.Join(w.dir, FileName(batch, loc))
	tmp, err := os.CreateTemp(w.dir, ".predictions-*.parquet")
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	writer := parquet.NewGenericWriter[PredictionRecord](tmp)
	if _, err := writer.Write(records); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write predictions to parquet: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}

	w.logger.Info("Prediction snapshot archived",
		zap.String("path", path),
		zap.Int("rows", len(records)))
	return path, nil
}

// Read loads an archived snapshot.
func Read(path string) ([]PredictionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := parquet.NewGenericReader[PredictionRecord](file)
	defer func() { _ = reader.Close() }()

	records := make([]PredictionRecord, reader.NumRows())
	n, err := reader.Read(records)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return records[:n], nil
}
