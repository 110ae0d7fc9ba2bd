package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// ErrMalformed is returned when a training store exists but cannot be read.
var ErrMalformed = errors.New("training store is malformed")

// TrainingStore persists the reconciled training table. Save always rewrites
// the whole table.
type TrainingStore interface {
	Load(ctx context.Context) (models.Table, bool, error)
	Save(ctx context.Context, table models.Table) error
}

// LastTimestamp returns the timestamp of the last stored row. A store that
// exists but holds no rows is treated as malformed.
func LastTimestamp(ctx context.Context, s TrainingStore) (time.Time, bool, error) {
	table, exists, err := s.Load(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if !exists {
		return time.Time{}, false, nil
	}
	last, ok := table.LastTime()
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: store has no rows", ErrMalformed)
	}
	return last, true, nil
}

// Update merges rows into the store. Rows are appended after the existing
// data and duplicate timestamps keep their last occurrence, so incoming
// values win on collision. The merged table is returned.
func Update(ctx context.Context, s TrainingStore, rows models.Table) (models.Table, error) {
	existing, exists, err := s.Load(ctx)
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to load training store: %w", err)
	}
	if !exists && rows.Len() == 0 {
		return models.Table{}, nil
	}

	merged := dedupeKeepLast(concat(existing, rows))
	if err := s.Save(ctx, merged); err != nil {
		return models.Table{}, fmt.Errorf("failed to save training store: %w", err)
	}
	return merged, nil
}

// concat stacks b under a, aligning columns by name. Cells absent from one
// side are missing.
func concat(a, b models.Table) models.Table {
	columns := append([]string(nil), a.Columns...)
	for _, name := range b.Columns {
		if a.ColumnIndex(name) < 0 {
			columns = append(columns, name)
		}
	}

	out := models.Table{Columns: columns, Rows: make([]models.Row, 0, a.Len()+b.Len())}
	for _, src := range []models.Table{a, b} {
		mapping := make([]int, len(src.Columns))
		for i, name := range src.Columns {
			mapping[i] = out.ColumnIndex(name)
		}
		for _, row := range src.Rows {
			values := make([]float64, len(columns))
			for i := range values {
				values[i] = math.NaN()
			}
			for i, v := range row.Values {
				values[mapping[i]] = v
			}
			out.Rows = append(out.Rows, models.Row{Time: row.Time, Values: values})
		}
	}
	return out
}

func dedupeKeepLast(t models.Table) models.Table {
	lastIndex := make(map[int64]int, len(t.Rows))
	for i, row := range t.Rows {
		lastIndex[row.Time.UnixNano()] = i
	}

	out := models.Table{Columns: t.Columns, Rows: make([]models.Row, 0, len(lastIndex))}
	for i, row := range t.Rows {
		if lastIndex[row.Time.UnixNano()] == i {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// MemoryStore keeps the training table in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	table  models.Table
	exists bool
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith seeds the store as if it had been persisted before.
func NewMemoryStoreWith(table models.Table) *MemoryStore {
	return &MemoryStore{table: table.Clone(), exists: true}
}

func (m *MemoryStore) Load(_ context.Context) (models.Table, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table.Clone(), m.exists, nil
}

func (m *MemoryStore) Save(_ context.Context, table models.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = table.Clone()
	m.exists = true
	m.saves++
	return nil
}

// Saves reports how many times the table was rewritten.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
