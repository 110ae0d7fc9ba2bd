package forecast

import (
	"time"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// Forecast is the native, period-indexed output of the orchestrator: value i
// belongs to the period starting Origin + (i+1)·Step.
type Forecast struct {
	Target string
	Origin time.Time
	Step   time.Duration
	Values []float64
}

func (f Forecast) Period(i int) time.Time {
	return f.Origin.Add(time.Duration(i+1) * f.Step)
}

// SinkFormat tags predictions for the output database.
type SinkFormat struct {
	Measurement string `yaml:"measurement"`
	Field       string `yaml:"field"`
	Bucket      string `yaml:"bucket"`
	Org         string `yaml:"org"`
}

// Shape converts a forecast into (timestamp, value) rows in the source
// timezone, tagged with the sink's measurement and field names.
func Shape(f Forecast, format SinkFormat, loc *time.Location) models.PredictionBatch {
	if loc == nil {
		loc = time.UTC
	}
	batch := models.PredictionBatch{
		Measurement: format.Measurement,
		Field:       format.Field,
		Bucket:      format.Bucket,
		Org:         format.Org,
		Points:      make([]models.Prediction, len(f.Values)),
	}
	for i, v := range f.Values {
		batch.Points[i] = models.Prediction{Time: f.Period(i).In(loc), Value: v}
	}
	return batch
}
