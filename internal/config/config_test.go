package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobby-s-dev/power-forecaster/internal/dataprep"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "influxdb_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `smoothing_influxdb:
  url: http://influx:8086
  token: secret
  org: smoothing
`

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, "secret", cfg.Influx.Token)
	assert.Equal(t, "Asia/Seoul", cfg.Forecast.Location.String())
	assert.Equal(t, "2024-04-16", cfg.Forecast.DefaultStart)
	assert.Equal(t, 24, cfg.Forecast.Horizon)
	assert.Equal(t, 10*time.Minute, cfg.Forecast.FitTimeout)
	assert.Equal(t, "30 0 * * *", cfg.Scheduler.CronSpec)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Query)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Duration)
	assert.Equal(t, 7, cfg.Cache.MaxSize)
	assert.Equal(t, time.Minute, cfg.API.TriggerInterval)
	assert.Equal(t, "resources/training_data/sensor_data.csv", cfg.Paths.TrainingCSV)
	assert.Equal(t, "processing.log", cfg.Server.LogFile)
	assert.Equal(t, DefaultSink(), cfg.Sink)

	require.Len(t, cfg.Signals, 3)
	assert.Equal(t, dataprep.Sum, cfg.Signals[0].Reducer)
	assert.Equal(t, []string{"average_co2(ppm)", "average_illumination(lux)"}, cfg.Exogenous())

	fc := cfg.ForecastConfig()
	assert.Equal(t, "socket_power(Wh)", fc.Target)
	assert.Equal(t, 24, fc.Horizon)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML+`
signals:
  - key: Power
    column: power
    reducer: mean
    query: 'from(bucket: "p") |> range(start: {{.Start}}, stop: {{.Stop}})'
  - key: Temp
    column: temp
    reducer: not
    query: 'from(bucket: "t") |> range(start: {{.Start}}, stop: {{.Stop}})'
sink:
  measurement: m
  field: f
  bucket: b
  org: o
`))
	t.Setenv("FORECAST_TARGET", "power")
	t.Setenv("INFLUX_TOKEN", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Influx.Token)
	require.Len(t, cfg.Signals, 2)
	assert.Equal(t, dataprep.Mean, cfg.Signals[0].Reducer)
	assert.Equal(t, dataprep.PassThrough, cfg.Signals[1].Reducer)
	assert.Equal(t, []string{"temp"}, cfg.Exogenous())
	assert.Equal(t, "b", cfg.Sink.Bucket)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrMissingConfigFile)
	})

	t.Run("bad timezone", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML))
		t.Setenv("SOURCE_TIMEZONE", "Mars/Olympus")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "SOURCE_TIMEZONE")
	})

	t.Run("unknown target", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML))
		t.Setenv("FORECAST_TARGET", "nope")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, `target column "nope"`)
	})

	t.Run("missing url", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", writeConfig(t, "smoothing_influxdb:\n  org: x\n"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "url is required")
	})

	t.Run("bad reducer", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML+"signals:\n  - key: a\n    column: b\n    reducer: median\n    query: q\n"))
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
