// Package history records every forecast run in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run history database. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history at %q: %w", path, err)
	}
	// A single connection avoids "database is locked" and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, r models.RunReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecast_runs
			(id, started_at, finished_at, status, window_start, window_end, rows_fetched, reconciled, predictions, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			rows_fetched = excluded.rows_fetched,
			reconciled = excluded.reconciled,
			predictions = excluded.predictions,
			error = excluded.error`,
		r.ID,
		r.StartedAt.UnixNano(),
		r.FinishedAt.UnixNano(),
		string(r.Status),
		nullableTime(r.WindowStart),
		nullableTime(r.WindowEnd),
		r.RowsFetched,
		r.Reconciled,
		r.Predictions,
		nullableString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, window_start, window_end, rows_fetched, reconciled, predictions, error
		FROM forecast_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []models.RunReport
	for rows.Next() {
		var (
			r                      models.RunReport
			started, finished      int64
			status                 string
			windowStart, windowEnd sql.NullInt64
			errText                sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &status, &windowStart, &windowEnd,
			&r.RowsFetched, &r.Reconciled, &r.Predictions, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		r.Status = models.RunStatus(status)
		if windowStart.Valid {
			r.WindowStart = time.Unix(0, windowStart.Int64).UTC()
		}
		if windowEnd.Valid {
			r.WindowEnd = time.Unix(0, windowEnd.Int64).UTC()
		}
		r.Error = errText.String
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullableTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
