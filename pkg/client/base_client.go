package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BaseClient struct {
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
	maxRetries     int
	retryDelay     time.Duration
	multiplier     float64
}

type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	Multiplier     float64
	Threshold      int
	BreakerTimeout time.Duration
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry loop gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func NewBaseClient(name string, config ClientConfig, logger *zap.Logger) *BaseClient {
	threshold := uint32(3)
	if config.Threshold > 0 {
		threshold = uint32(config.Threshold)
	}

	// Circuit breaker settings
	breakerSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Permanent errors are caller mistakes, not an unhealthy server.
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BaseClient{
		logger:         logger,
		circuitBreaker: gobreaker.NewCircuitBreaker(breakerSettings),
		maxRetries:     config.MaxRetries,
		retryDelay:     config.RetryDelay,
		multiplier:     config.Multiplier,
	}
}

// Execute runs call through the circuit breaker, retrying transient failures
// with exponential backoff.
func (c *BaseClient) Execute(ctx context.Context, op string, call func(ctx context.Context) error) error {
	_, execErr := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, op, call)
	})
	return execErr
}

func (c *BaseClient) doWithRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Calculate exponential backoff delay
			delay := time.Duration(float64(c.retryDelay) * math.Pow(c.multiplier, float64(attempt-1)))
			c.logger.Debug("Retrying call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := call(ctx)
		if err == nil {
			c.logger.Debug("Call successful", zap.String("op", op), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn("Call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return fmt.Errorf("max retries exceeded, last error: %w", lastErr)
}

func (c *BaseClient) BreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}
