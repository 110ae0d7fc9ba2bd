package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func SetupRoutes(app *fiber.App, handler *Handler) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD",
	}))

	// Custom logger middleware
	app.Use(logger.New(logger.Config{
		Format:     "${time} ${pid} ${locals:requestid} ${status} - ${method} ${path}\n",
		TimeFormat: time.RFC3339,
	}))

	// Prometheus scrape endpoint
	if handler.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(handler.metrics))
	}

	// API v1 routes
	api := app.Group("/api/v1")

	api.Get("/health", handler.GetHealth)
	api.Get("/status", handler.GetStatus)

	api.Get("/runs", handler.ListRuns)
	api.Post("/runs", handler.TriggerRun)

	api.Get("/predictions/latest", handler.GetLatestPredictions)
	api.Get("/predictions/:run_id", handler.GetPredictions)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
			"path":  c.Path(),
		})
	})
}
