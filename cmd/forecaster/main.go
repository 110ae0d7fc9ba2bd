package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // SOURCE_TIMEZONE must resolve on minimal images

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forecaster",
		Short: "Daily sensor ETL and next-day socket power forecast",
		Long: `Pulls power, CO2 and illumination readings from InfluxDB, keeps the
training CSV current, refreshes the SARIMA model and writes the next
day's hourly socket power forecast back to InfluxDB.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the production logger, teeing to logFile when set.
func newLogger(level, logFile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{"stdout"}
	if logFile != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, logFile)
	}
	return zcfg.Build()
}
