package dataprep

import (
	"errors"
	"fmt"
	"time"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// ErrNotOneToOne is returned when a join key appears more than once in an input.
var ErrNotOneToOne = errors.New("timestamps are not one-to-one")

// Merge inner-joins the tables left to right on their timestamps. Only
// timestamps present in every input survive, in the order of the first table.
func Merge(tables ...models.Table) (models.Table, error) {
	if len(tables) == 0 {
		return models.Table{}, fmt.Errorf("nothing to merge")
	}

	if err := checkUnique(tables[0]); err != nil {
		return models.Table{}, err
	}
	merged := tables[0].Clone()

	for _, right := range tables[1:] {
		if err := checkUnique(right); err != nil {
			return models.Table{}, err
		}
		for _, name := range right.Columns {
			if merged.ColumnIndex(name) >= 0 {
				return models.Table{}, fmt.Errorf("column %q appears in more than one input", name)
			}
		}

		index := make(map[int64]int, len(right.Rows))
		for i, row := range right.Rows {
			index[row.Time.UnixNano()] = i
		}

		columns := append(append([]string(nil), merged.Columns...), right.Columns...)
		joined := models.Table{Columns: columns}
		for _, row := range merged.Rows {
			j, ok := index[row.Time.UnixNano()]
			if !ok {
				continue
			}
			values := append(append([]float64(nil), row.Values...), right.Rows[j].Values...)
			joined.Rows = append(joined.Rows, models.Row{Time: row.Time, Values: values})
		}
		merged = joined
	}

	return merged, nil
}

func checkUnique(t models.Table) error {
	seen := make(map[int64]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		key := row.Time.UnixNano()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %v has duplicate timestamp %s",
				ErrNotOneToOne, t.Columns, row.Time.Format(time.DateTime))
		}
		seen[key] = struct{}{}
	}
	return nil
}
