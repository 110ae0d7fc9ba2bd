package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

type InfluxConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Org   string `yaml:"org"`
}

// InfluxClient reads sensor series and writes predictions. Record times are
// converted into the source timezone on read; predictions are written at the
// absolute instant of their (local) timestamp.
type InfluxClient struct {
	*BaseClient
	client   influxdb2.Client
	org      string
	location *time.Location
}

func NewInfluxClient(cfg InfluxConfig, loc *time.Location, config ClientConfig, logger *zap.Logger) *InfluxClient {
	options := influxdb2.DefaultOptions()
	if config.Timeout > 0 {
		options.SetHTTPRequestTimeout(uint(config.Timeout / time.Second))
	}
	if loc == nil {
		loc = time.UTC
	}

	return &InfluxClient{
		BaseClient: NewBaseClient("influxdb", config, logger),
		client:     influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options),
		org:        cfg.Org,
		location:   loc,
	}
}

// Query runs a Flux query and returns its (_time, _value) rows.
func (c *InfluxClient) Query(ctx context.Context, flux string) ([]models.Point, error) {
	var points []models.Point

	err := c.Execute(ctx, "query", func(ctx context.Context) error {
		points = points[:0]

		result, err := c.client.QueryAPI(c.org).Query(ctx, flux)
		if err != nil {
			return classify(err)
		}
		defer result.Close()

		for result.Next() {
			record := result.Record()
			value, err := toFloat(record.Value())
			if err != nil {
				return Permanent(err)
			}
			points = append(points, models.Point{Time: record.Time().In(c.location), Value: value})
		}
		if err := result.Err(); err != nil {
			return Permanent(fmt.Errorf("failed to parse query result: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}

	c.logger.Debug("Influx query finished", zap.Int("rows", len(points)))
	return points, nil
}

// WritePredictions writes the batch synchronously.
func (c *InfluxClient) WritePredictions(ctx context.Context, batch models.PredictionBatch) error {
	points := make([]*write.Point, 0, len(batch.Points))
	for _, p := range batch.Points {
		points = append(points, influxdb2.NewPoint(
			batch.Measurement,
			nil,
			map[string]interface{}{batch.Field: p.Value},
			p.Time,
		))
	}

	org := batch.Org
	if org == "" {
		org = c.org
	}
	writeAPI := c.client.WriteAPIBlocking(org, batch.Bucket)

	err := c.Execute(ctx, "write", func(ctx context.Context) error {
		return classify(writeAPI.WritePoint(ctx, points...))
	})
	if err != nil {
		return fmt.Errorf("influx write failed: %w", err)
	}

	c.logger.Info("Predictions written to InfluxDB",
		zap.String("bucket", batch.Bucket),
		zap.String("measurement", batch.Measurement),
		zap.Int("points", len(points)))
	return nil
}

func (c *InfluxClient) Close() {
	c.logger.Info("InfluxDB client closed")
	c.client.Close()
}

// classify marks client-side HTTP failures as permanent, except rate limiting.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return Permanent(err)
		}
	}
	return err
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
