package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

const (
	TimeColumn = "time"
	TimeLayout = "2006-01-02 15:04:05"
)

// CSVStore keeps the training table in a CSV file with a leading time column.
// Timestamps are written as naive wall clock in the source timezone.
type CSVStore struct {
	path     string
	location *time.Location
	logger   *zap.Logger
}

func NewCSVStore(path string, loc *time.Location, logger *zap.Logger) *CSVStore {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVStore{path: path, location: loc, logger: logger}
}

func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) Load(_ context.Context) (models.Table, bool, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Table{}, false, nil
	}
	if err != nil {
		return models.Table{}, false, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	table, err := s.decode(f)
	if err != nil {
		return models.Table{}, true, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	return table, true, nil
}

func (s *CSVStore) decode(r io.Reader) (models.Table, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return models.Table{}, fmt.Errorf("reading header: %w", err)
	}
	if len(header) == 0 || header[0] != TimeColumn {
		return models.Table{}, fmt.Errorf("first column must be %q", TimeColumn)
	}

	table := models.NewTable(header[1:]...)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.Table{}, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.ParseInLocation(TimeLayout, record[0], s.location)
		if err != nil {
			return models.Table{}, fmt.Errorf("line %d: %w", line, err)
		}
		values := make([]float64, len(record)-1)
		for i, cell := range record[1:] {
			if cell == "" {
				values[i] = math.NaN()
				continue
			}
			if values[i], err = strconv.ParseFloat(cell, 64); err != nil {
				return models.Table{}, fmt.Errorf("line %d column %q: %w", line, header[i+1], err)
			}
		}
		table.Rows = append(table.Rows, models.Row{Time: ts, Values: values})
	}
	return table, nil
}

// Save rewrites the file through a temporary sibling so a failed write never
// leaves a truncated store behind.
func (s *CSVStore) Save(_ context.Context, table models.Table) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	if s.logger != nil {
		s.logger.Debug("Training store written",
			zap.String("path", s.path),
			zap.Int("rows", table.Len()))
	}
	return nil
}

func (s *CSVStore) encode(w io.Writer, table models.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(append([]string{TimeColumn}, table.Columns...)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(table.Columns)+1)
	for _, row := range table.Rows {
		record[0] = row.Time.In(s.location).Format(TimeLayout)
		for i, v := range row.Values {
			if models.IsMissing(v) {
				record[i+1] = ""
				continue
			}
			record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
