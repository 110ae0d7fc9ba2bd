package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
	"github.com/bobby-s-dev/power-forecaster/internal/scheduler"
	"github.com/bobby-s-dev/power-forecaster/internal/services"
)

// JobService is the read side of the forecasting job.
type JobService interface {
	GetStats() map[string]interface{}
	RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error)
	LatestPredictions() (services.CacheItem, bool)
	Predictions(runID string) (services.CacheItem, bool)
}

type RunTrigger interface {
	ForceRun() error
	GetStatus() map[string]interface{}
}

type Handler struct {
	job       JobService
	scheduler RunTrigger
	metrics   http.Handler
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewHandler builds the API handler. Manual triggers are limited to one per
// triggerInterval; zero disables the limit.
func NewHandler(job JobService, trigger RunTrigger, metrics http.Handler, triggerInterval time.Duration, logger *zap.Logger) *Handler {
	limit := rate.Inf
	if triggerInterval > 0 {
		limit = rate.Every(triggerInterval)
	}
	return &Handler{
		job:       job,
		scheduler: trigger,
		metrics:   metrics,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"scheduler": h.scheduler.GetStatus(),
		"job":       h.job.GetStats(),
		"timestamp": time.Now(),
	})
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 1 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Limit parameter must be between 1 and 500",
		})
	}

	runs, err := h.job.RecentRuns(c.UserContext(), limit)
	if err != nil {
		h.logger.Error("Failed to read run history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to read run history",
			"details": err.Error(),
		})
	}
	if runs == nil {
		runs = []models.RunReport{}
	}

	return c.JSON(fiber.Map{
		"runs":  runs,
		"count": len(runs),
	})
}

// TriggerRun handles POST /api/v1/runs
func (h *Handler) TriggerRun(c *fiber.Ctx) error {
	if !h.limiter.Allow() {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Runs were triggered too recently, try again later",
		})
	}

	if err := h.scheduler.ForceRun(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return err
	}

	h.logger.Info("Forecast run triggered via API", zap.String("request_id", requestID(c)))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}

// GetLatestPredictions handles GET /api/v1/predictions/latest
func (h *Handler) GetLatestPredictions(c *fiber.Ctx) error {
	item, ok := h.job.LatestPredictions()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No predictions available yet",
		})
	}
	return c.JSON(item)
}

// GetPredictions handles GET /api/v1/predictions/:run_id
func (h *Handler) GetPredictions(c *fiber.Ctx) error {
	runID := c.Params("run_id")
	item, ok := h.job.Predictions(runID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "No cached predictions for run",
			"run_id": runID,
		})
	}
	return c.JSON(item)
}

// ErrorHandler renders unhandled errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	zap.L().Error("HTTP error",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))

	// Default to 500 status code
	code := fiber.StatusInternalServerError

	// Check if it's a Fiber error
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   err.Error(),
		"success": false,
	})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

var startTime = time.Now()
