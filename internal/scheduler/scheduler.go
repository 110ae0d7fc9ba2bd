package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/power-forecaster/internal/models"
)

// ErrRunInProgress is returned when a run is requested while one is in flight.
var ErrRunInProgress = errors.New("a forecast run is already in progress")

type Runner interface {
	Run(ctx context.Context) (models.RunReport, error)
}

type Scheduler struct {
	runner     Runner
	logger     *zap.Logger
	spec       string
	location   *time.Location
	runTimeout time.Duration
	cron       *cron.Cron
	entryID    cron.EntryID

	mu      sync.Mutex
	started bool
	running bool
	lastRun time.Time
	lastErr error
	wg      sync.WaitGroup
}

// NewScheduler registers runner on a standard five-field cron spec evaluated
// in loc. runTimeout bounds each run; zero means no limit.
func NewScheduler(runner Runner, spec string, loc *time.Location, runTimeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		runner:     runner,
		logger:     logger,
		spec:       spec,
		location:   loc,
		runTimeout: runTimeout,
	}

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("schedule", s.spec),
		zap.String("timezone", s.location.String()),
		zap.Time("next_run", s.cron.Entry(s.entryID).Next))
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(context.Background()); errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("Skipping scheduled run, previous run still in progress")
	}
}

// RunOnce runs the job synchronously unless a run is already in flight.
func (s *Scheduler) RunOnce(ctx context.Context) (models.RunReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return models.RunReport{}, ErrRunInProgress
	}
	s.running = true
	s.lastRun = time.Now()
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	startTime := time.Now()
	s.logger.Info("Starting forecast run", zap.Time("start_time", startTime))

	report, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Forecast run failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(startTime)))
	} else {
		s.logger.Info("Forecast run completed",
			zap.Duration("duration", time.Since(startTime)))
	}
	return report, err
}

// ForceRun starts a run in the background. It refuses when one is in flight.
func (s *Scheduler) ForceRun() error {
	s.mu.Lock()
	busy := s.running
	s.mu.Unlock()
	if busy {
		return ErrRunInProgress
	}

	s.logger.Info("Manually triggering forecast run")
	go func() {
		if _, err := s.RunOnce(context.Background()); errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("Manual run lost the race to another run")
		}
	}()
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"started":  s.started,
		"running":  s.running,
		"schedule": s.spec,
		"timezone": s.location.String(),
		"last_run": s.lastRun,
	}
	if s.started {
		status["next_run"] = s.cron.Entry(s.entryID).Next
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
