package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/dataprep"
	"github.com/bobby-s-dev/power-forecaster/internal/models"
	"github.com/bobby-s-dev/power-forecaster/internal/store"
)

// Signal describes one fetched series and how it lands in the training table.
type Signal struct {
	Key     string           `yaml:"key"`
	Column  string           `yaml:"column"`
	Reducer dataprep.Reducer `yaml:"reducer"`
	Query   string           `yaml:"query"`
}

type Pipeline struct {
	signals  []Signal
	location *time.Location
	logger   *zap.Logger
}

func New(signals []Signal, loc *time.Location, logger *zap.Logger) *Pipeline {
	return &Pipeline{signals: signals, location: loc, logger: logger}
}

func (p *Pipeline) Signals() []Signal {
	return p.signals
}

// Reconcile aligns, clamps and joins the raw series into one training table.
// The column order follows the signal order.
func (p *Pipeline) Reconcile(raw map[string]models.Series) (models.Table, error) {
	aligned := make([]models.Table, 0, len(p.signals))
	for _, sig := range p.signals {
		series, ok := raw[sig.Key]
		if !ok {
			return models.Table{}, fmt.Errorf("no data fetched for signal %q", sig.Key)
		}
		table, err := dataprep.Align(series, sig.Column, sig.Reducer, p.location)
		if err != nil {
			return models.Table{}, fmt.Errorf("failed to align %s: %w", sig.Key, err)
		}
		aligned = append(aligned, table)
	}
	p.logger.Info("Raw series aligned", zap.Int("signals", len(aligned)))

	for i := range aligned {
		aligned[i] = dataprep.Clamp(aligned[i])
	}
	p.logger.Info("Outliers clamped")

	merged, err := dataprep.Merge(aligned...)
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to merge signals: %w", err)
	}
	return merged, nil
}

// Patch reconciles the raw series and folds the result into the store.
func (p *Pipeline) Patch(ctx context.Context, st store.TrainingStore, raw map[string]models.Series) (models.Table, error) {
	merged, err := p.Reconcile(raw)
	if err != nil {
		return models.Table{}, err
	}

	updated, err := store.Update(ctx, st, merged)
	if err != nil {
		return models.Table{}, err
	}

	p.logger.Info("Training store updated",
		zap.Int("new_rows", merged.Len()),
		zap.Int("total_rows", updated.Len()))
	return updated, nil
}
