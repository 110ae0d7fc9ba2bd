package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bobby-s-dev/power-forecaster/internal/dataprep"
	"github.com/bobby-s-dev/power-forecaster/internal/forecast"
	"github.com/bobby-s-dev/power-forecaster/internal/pipeline"
	"github.com/bobby-s-dev/power-forecaster/pkg/client"
)

type Config struct {
	Server struct {
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		LogLevel     string
		LogFile      string
	}

	Influx client.InfluxConfig

	Paths struct {
		ConfigFile    string
		TrainingCSV   string
		ModelArtifact string
		PredictionDir string
		HistoryDB     string
	}

	Forecast struct {
		Location     *time.Location
		DefaultStart string
		Target       string
		Horizon      int
		FitTimeout   time.Duration
	}

	Scheduler struct {
		CronSpec string
	}

	Timeouts struct {
		Query time.Duration
		Write time.Duration
	}

	Cache struct {
		Duration time.Duration
		MaxSize  int
	}

	API struct {
		TriggerInterval time.Duration
	}

	Signals []pipeline.Signal
	Sink    forecast.SinkFormat

	CircuitBreaker struct {
		Threshold int
		Timeout   time.Duration
	}

	Retry struct {
		MaxRetries int
		Delay      time.Duration
		Multiplier float64
	}
}

// fileConfig is the layout of resources/influxdb_config.yaml.
type fileConfig struct {
	Influx  client.InfluxConfig  `yaml:"smoothing_influxdb"`
	Signals []pipeline.Signal    `yaml:"signals"`
	Sink    *forecast.SinkFormat `yaml:"sink"`
}

var ErrMissingConfigFile = errors.New("influxdb config file not found")

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	// Server configuration
	cfg.Server.Port = getEnv("FIBER_PORT", "8080")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "10s"))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.Server.LogFile = getEnv("LOG_FILE", "processing.log")

	// File locations
	cfg.Paths.ConfigFile = getEnv("CONFIG_PATH", "resources/influxdb_config.yaml")
	cfg.Paths.TrainingCSV = getEnv("TRAINING_CSV_PATH", "resources/training_data/sensor_data.csv")
	cfg.Paths.ModelArtifact = getEnv("MODEL_PATH", "resources/model/final_model.json")
	cfg.Paths.PredictionDir = getEnv("PREDICTION_DIR", "resources/prediction_data")
	cfg.Paths.HistoryDB = getEnv("HISTORY_DB_PATH", "resources/history.db")

	// Forecast configuration
	tz := getEnv("SOURCE_TIMEZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid SOURCE_TIMEZONE %q: %w", tz, err)
	}
	cfg.Forecast.Location = loc
	cfg.Forecast.DefaultStart = getEnv("DEFAULT_START_DATE", "2024-04-16")
	cfg.Forecast.Target = getEnv("FORECAST_TARGET", "socket_power(Wh)")
	cfg.Forecast.Horizon = parseInt(getEnv("FORECAST_HORIZON", strconv.Itoa(forecast.DefaultHorizon)))
	cfg.Forecast.FitTimeout = parseDuration(getEnv("FIT_TIMEOUT", "10m"))

	// Scheduler configuration
	cfg.Scheduler.CronSpec = getEnv("CRON_SCHEDULE", "30 0 * * *")

	// Database call timeouts
	cfg.Timeouts.Query = parseDuration(getEnv("QUERY_TIMEOUT", "2m"))
	cfg.Timeouts.Write = parseDuration(getEnv("WRITE_TIMEOUT", "30s"))

	// Latest-prediction cache served by the API
	cfg.Cache.Duration = parseDuration(getEnv("CACHE_DURATION", "24h"))
	cfg.Cache.MaxSize = parseInt(getEnv("MAX_CACHE_SIZE", "7"))

	// Minimum spacing between manual run triggers
	cfg.API.TriggerInterval = parseDuration(getEnv("TRIGGER_INTERVAL", "1m"))

	// Circuit breaker configuration
	cfg.CircuitBreaker.Threshold = parseInt(getEnv("CIRCUIT_BREAKER_THRESHOLD", "3"))
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("CIRCUIT_BREAKER_TIMEOUT", "30s"))

	// Retry configuration
	cfg.Retry.MaxRetries = parseInt(getEnv("MAX_RETRIES", "3"))
	cfg.Retry.Delay = parseDuration(getEnv("RETRY_DELAY", "1s"))
	cfg.Retry.Multiplier = parseFloat(getEnv("RETRY_MULTIPLIER", "2"))

	if err := cfg.loadFile(); err != nil {
		return nil, err
	}

	// Connection settings from the environment win over the file.
	cfg.Influx.URL = getEnv("INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = getEnv("INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getEnv("INFLUX_ORG", cfg.Influx.Org)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.Paths.ConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingConfigFile, c.Paths.ConfigFile)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", c.Paths.ConfigFile, err)
	}

	c.Influx = file.Influx
	c.Signals = DefaultSignals()
	if len(file.Signals) > 0 {
		c.Signals = file.Signals
	}
	c.Sink = DefaultSink()
	if file.Sink != nil {
		c.Sink = *file.Sink
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Influx.URL == "" {
		problems = append(problems, "smoothing_influxdb.url is required")
	}
	if c.Influx.Org == "" {
		problems = append(problems, "smoothing_influxdb.org is required")
	}
	if c.Forecast.Horizon <= 0 {
		problems = append(problems, "FORECAST_HORIZON must be positive")
	}
	if len(c.Signals) == 0 {
		problems = append(problems, "at least one signal is required")
	}

	keys := make(map[string]bool, len(c.Signals))
	hasTarget := false
	for _, s := range c.Signals {
		if s.Key == "" || s.Column == "" || s.Query == "" {
			problems = append(problems, fmt.Sprintf("signal %q needs key, column and query", s.Key))
		}
		if keys[s.Key] {
			problems = append(problems, fmt.Sprintf("duplicate signal key %q", s.Key))
		}
		keys[s.Key] = true
		if s.Column == c.Forecast.Target {
			hasTarget = true
		}
	}
	if len(c.Signals) > 0 && !hasTarget {
		problems = append(problems, fmt.Sprintf("no signal produces target column %q", c.Forecast.Target))
	}
	if c.Sink.Measurement == "" || c.Sink.Field == "" || c.Sink.Bucket == "" {
		problems = append(problems, "sink measurement, field and bucket are required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Exogenous returns the non-target columns in signal order.
func (c *Config) Exogenous() []string {
	var cols []string
	for _, s := range c.Signals {
		if s.Column != c.Forecast.Target {
			cols = append(cols, s.Column)
		}
	}
	return cols
}

func (c *Config) ForecastConfig() forecast.Config {
	fc := forecast.DefaultConfig(c.Forecast.Target, c.Exogenous())
	fc.Horizon = c.Forecast.Horizon
	if c.Forecast.FitTimeout > 0 {
		fc.FitTimeout = c.Forecast.FitTimeout
	}
	return fc
}

func (c *Config) ClientConfig() client.ClientConfig {
	return client.ClientConfig{
		Timeout:        c.Timeouts.Query,
		MaxRetries:     c.Retry.MaxRetries,
		RetryDelay:     c.Retry.Delay,
		Multiplier:     c.Retry.Multiplier,
		Threshold:      c.CircuitBreaker.Threshold,
		BreakerTimeout: c.CircuitBreaker.Timeout,
	}
}

func DefaultSink() forecast.SinkFormat {
	return forecast.SinkFormat{
		Measurement: "power_usage",
		Field:       "socket_power",
		Bucket:      "ai_service_data",
		Org:         "smoothing",
	}
}

// DefaultSignals are the office floor-heating sockets and the class_a
// environment sensors. Queries are text/template strings over .Start/.Stop.
func DefaultSignals() []pipeline.Signal {
	return []pipeline.Signal{
		{
			Key:     "PowerSocketData",
			Column:  "socket_power(Wh)",
			Reducer: dataprep.Sum,
			Query: `from(bucket: "powermetrics_data")
  |> range(start: {{.Start}}, stop: {{.Stop}})
  |> filter(fn: (r) => r["phase"] == "total")
  |> filter(fn: (r) => r["description"] == "w")
  |> filter(fn: (r) => r["place"] == "office")
  |> filter(fn: (r) => r["location"] == "class_a_floor_heating_1" or r["location"] == "class_a_floor_heating_2")
  |> aggregateWindow(every: 1m, fn: last, createEmpty: false)
  |> keep(columns: ["_time", "_value"])`,
		},
		{
			Key:     "CO2Data",
			Column:  "average_co2(ppm)",
			Reducer: dataprep.PassThrough,
			Query: `from(bucket: "environmentalsensors_data")
  |> range(start: {{.Start}}, stop: {{.Stop}})
  |> filter(fn: (r) => r["place"] == "class_a")
  |> filter(fn: (r) => r["measurement"] == "co2")
  |> aggregateWindow(every: 1h, fn: mean, createEmpty: false)
  |> keep(columns: ["_time", "_value"])`,
		},
		{
			Key:     "IlluminationData",
			Column:  "average_illumination(lux)",
			Reducer: dataprep.PassThrough,
			Query: `from(bucket: "environmentalsensors_data")
  |> range(start: {{.Start}}, stop: {{.Stop}})
  |> filter(fn: (r) => r["place"] == "class_a")
  |> filter(fn: (r) => r["measurement"] == "illumination")
  |> aggregateWindow(every: 1h, fn: mean, createEmpty: false)
  |> keep(columns: ["_time", "_value"])`,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseFloat(value string) float64 {
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return 0
	}
	return floatValue
}
