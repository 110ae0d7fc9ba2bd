package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/api"
	"github.com/bobby-s-dev/power-forecaster/internal/config"
	"github.com/bobby-s-dev/power-forecaster/internal/history"
	"github.com/bobby-s-dev/power-forecaster/internal/scheduler"
)

// runCmd performs a single cycle and exits non-zero if it fails.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ETL and forecast cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.job.Run(ctx)
			a.logger.Info("RunTime", zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
			return err
		},
	}
}

// serveCmd runs the cron scheduler with the status API.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job on its cron schedule and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger

			sched, err := scheduler.NewScheduler(a.job, a.cfg.Scheduler.CronSpec, a.cfg.Forecast.Location, 0, logger)
			if err != nil {
				logger.Error("Failed to initialize scheduler", zap.Error(err))
				return err
			}

			// Create Fiber app
			app := fiber.New(fiber.Config{
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				ErrorHandler: api.ErrorHandler,
			})

			// Setup handlers and routes
			handler := api.NewHandler(a.job, sched, a.metrics.Handler(), a.cfg.API.TriggerInterval, logger)
			api.SetupRoutes(app, handler)

			sched.Start()

			serverErr := make(chan error, 1)
			go func() {
				addr := ":" + a.cfg.Server.Port
				logger.Info("Starting server", zap.String("address", addr))
				serverErr <- app.Listen(addr)
			}()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-serverErr:
				logger.Error("Server stopped unexpectedly", zap.Error(err))
				sched.Stop()
				return err
			}

			logger.Info("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			sched.Stop()
			if err := app.ShutdownWithContext(ctx); err != nil {
				logger.Error("Server shutdown failed", zap.Error(err))
			}

			logger.Info("Server stopped")
			return nil
		},
	}
}

// historyCmd prints recent runs from the run history database.
func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent forecast runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			hist, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer func() { _ = hist.Close() }()

			runs, err := hist.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return history.WriteTable(cmd.OutOrStdout(), runs, cfg.Forecast.Location)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
