package history

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// WriteTable renders runs as a human-readable table with times in loc.
func WriteTable(w io.Writer, runs []models.RunReport, loc *time.Location) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Run", "Started", "Duration", "Status", "Window", "Rows", "Predictions", "Error"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		data = append(data, []string{
			shortID(r.ID),
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			string(r.Status),
			windowLabel(r, loc),
			strconv.Itoa(r.RowsFetched),
			strconv.Itoa(r.Predictions),
			r.Error,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func windowLabel(r models.RunReport, loc *time.Location) string {
	if r.WindowStart.IsZero() {
		return "-"
	}
	label := r.WindowStart.In(loc).Format("01-02 15:04") + " .. " + r.WindowEnd.In(loc).Format("01-02 15:04")
	if !r.Reconciled {
		label += " (skipped)"
	}
	return label
}
