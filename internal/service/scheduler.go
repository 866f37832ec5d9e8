package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pkg/metrics"
	"github.com/robfig/cron/v3"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrNotRunning      = errors.New("scheduler not running")
	ErrCycleInProgress = errors.New("cycle already in progress")
)

type SchedulerState string

const (
	StateStopped SchedulerState = "stopped"
	StateRunning SchedulerState = "running"
	StatePaused  SchedulerState = "paused" // backing off after a critical error
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// SchedulerConfig is immutable once handed to the scheduler. Use Reconfigure to change it.
type SchedulerConfig struct {
	Interval    time.Duration
	Warmup      time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxErrors   int // cumulative errors tolerated before reporting degraded
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    5 * time.Minute,
		Warmup:      5 * time.Second,
		BaseBackoff: time.Second,
		MaxBackoff:  60 * time.Second,
		MaxErrors:   10,
	}
}

func (c SchedulerConfig) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	if c.Warmup < 0 || c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return errors.New("invalid warmup or backoff settings")
	}
	return nil
}

// BackoffDelay returns min(base * 2^errorCount, max).
func BackoffDelay(errorCount int, base, max time.Duration) time.Duration {
	if errorCount < 0 {
		errorCount = 0
	}
	if errorCount >= 62 {
		return max
	}
	delay := base * time.Duration(int64(1)<<uint(errorCount))
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// Deactivator is the bulk safety action used by EmergencyStop.
type Deactivator interface {
	DeactivateAll(ctx context.Context) (plans int, configs int, err error)
}

// Flusher drains pending asynchronous writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

type HealthReport struct {
	Status     HealthStatus   `json:"status"`
	State      SchedulerState `json:"state"`
	LastRun    time.Time      `json:"last_run"`
	LastRunAge time.Duration  `json:"last_run_age_ns"`
	ErrorCount int            `json:"error_count"`
	Message    string         `json:"message,omitempty"`
}

type SchedulerStats struct {
	State       SchedulerState     `json:"state"`
	Running     bool               `json:"running"`
	Interval    time.Duration      `json:"interval_ns"`
	StartedAt   time.Time          `json:"started_at"`
	LastRun     time.Time          `json:"last_run"`
	ErrorCount  int                `json:"error_count"`
	TotalCycles int64              `json:"total_cycles"`
	InCycle     bool               `json:"in_cycle"`
	LastReport  *model.CycleReport `json:"last_report,omitempty"`
}

type EmergencyReport struct {
	Reason             string `json:"reason"`
	PlansDeactivated   int    `json:"plans_deactivated"`
	ConfigsDeactivated int    `json:"configs_deactivated"`
}

// Scheduler drives one cycle at a time over the engines, in order.
type Scheduler struct {
	engines []Engine
	store   Deactivator
	flusher Flusher
	now     func() time.Time

	mu          sync.Mutex
	cfg         SchedulerConfig
	state       SchedulerState
	ctx         context.Context
	cron        *cron.Cron
	warmup      *time.Timer
	restart     *time.Timer
	inCycle     bool
	cycles      sync.WaitGroup
	startedAt   time.Time
	lastRun     time.Time
	lastReport  *model.CycleReport
	errorCount  int
	totalCycles int64
}

// NewScheduler builds a stopped scheduler. flusher may be nil.
func NewScheduler(cfg SchedulerConfig, store Deactivator, flusher Flusher, engines ...Engine) *Scheduler {
	return &Scheduler{
		engines: engines,
		store:   store,
		flusher: flusher,
		now:     time.Now,
		cfg:     cfg,
		state:   StateStopped,
	}
}

// Start arms the periodic trigger and a first run after the warm-up delay.
// Cycles run detached from ctx cancellation so a trade is never interrupted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.ctx = context.WithoutCancel(ctx)
	s.startTriggerLocked()
	s.state = StateRunning
	s.startedAt = s.now()
	logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "warmup", s.cfg.Warmup.String())
	return nil
}

func (s *Scheduler) startTriggerLocked() {
	c := cron.New(
		cron.WithLogger(logger.CronLogger()),
		cron.WithChain(cron.SkipIfStillRunning(logger.CronLogger())),
	)
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.tick))
	c.Start()
	s.cron = c
	s.warmup = time.AfterFunc(s.cfg.Warmup, s.tick)
}

// stopTriggerLocked cancels future ticks without waiting for a running one.
func (s *Scheduler) stopTriggerLocked() context.Context {
	var done context.Context
	if s.cron != nil {
		done = s.cron.Stop()
		s.cron = nil
	}
	if s.warmup != nil {
		s.warmup.Stop()
		s.warmup = nil
	}
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	return done
}

// Stop cancels the trigger, waits for an in-flight cycle, then flushes
// pending analytics writes.
func (s *Scheduler) Stop(ctx context.Context) error {
	if err := s.halt(); err != nil {
		return err
	}
	if err := s.drain(ctx); err != nil {
		return err
	}
	logger.Info("scheduler stopped")
	return nil
}

// halt moves to Stopped and cancels future ticks without waiting.
func (s *Scheduler) halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return ErrNotRunning
	}
	s.state = StateStopped
	s.stopTriggerLocked()
	return nil
}

// drain waits for the in-flight cycle, if any, then flushes.
func (s *Scheduler) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight cycle: %w", ctx.Err())
	}

	if s.flusher != nil {
		if err := s.flusher.Flush(ctx); err != nil {
			logger.Warn("flush on stop failed", "error", err)
		}
	}
	return nil
}

// ForceRun executes one cycle immediately. It is only valid while running.
func (s *Scheduler) ForceRun(ctx context.Context) (*model.CycleReport, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	if !s.beginCycleLocked() {
		s.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	s.mu.Unlock()
	return s.runCycle(context.WithoutCancel(ctx))
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.state != StateRunning || !s.beginCycleLocked() {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()
	_, _ = s.runCycle(ctx)
}

func (s *Scheduler) beginCycleLocked() bool {
	if s.inCycle {
		return false
	}
	s.inCycle = true
	s.cycles.Add(1)
	return true
}

// runCycle must be preceded by a successful beginCycleLocked.
func (s *Scheduler) runCycle(ctx context.Context) (*model.CycleReport, error) {
	defer s.cycles.Done()

	report, err := s.safeExecute(ctx)

	s.mu.Lock()
	s.inCycle = false
	s.lastRun = s.now()
	s.totalCycles++
	if report != nil {
		s.lastReport = report
	}
	s.mu.Unlock()

	if err != nil {
		s.handleCritical(err)
		return report, err
	}
	return report, nil
}

func (s *Scheduler) safeExecute(ctx context.Context) (report *model.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.ExecuteCycle(ctx)
}

// ExecuteCycle runs each engine fully, in order. Engine errors are contained
// in HasErrors; a panic escaping an engine propagates to the caller.
func (s *Scheduler) ExecuteCycle(ctx context.Context) (*model.CycleReport, error) {
	started := s.now()
	report := &model.CycleReport{StartedAt: started.UTC()}

	for _, engine := range s.engines {
		results, err := engine.ProcessAll(ctx)
		report.Add(results)
		if err != nil {
			report.HasErrors = true
			logger.Error("engine cycle failed", "engine", engine.Name(), "error", err)
		}
	}

	report.FinishedAt = s.now().UTC()
	report.Duration = report.FinishedAt.Sub(started)
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	logger.Info("cycle complete",
		"executed", report.Executed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"has_errors", report.HasErrors,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (s *Scheduler) handleCritical(err error) {
	metrics.SchedulerErrors.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorCount++
	logger.Error("critical cycle error", "error", err, "error_count", s.errorCount)
	if s.state != StateRunning {
		return
	}
	s.stopTriggerLocked()
	s.state = StatePaused
	delay := BackoffDelay(s.errorCount, s.cfg.BaseBackoff, s.cfg.MaxBackoff)
	logger.Warn("scheduler paused", "restart_in", delay.String())
	s.restart = time.AfterFunc(delay, s.resume)
}

func (s *Scheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.restart = nil
	s.startTriggerLocked()
	s.state = StateRunning
	logger.Info("scheduler resumed after backoff", "error_count", s.errorCount)
}

// HealthCheck reports healthy while running with a recent run and few errors.
func (s *Scheduler) HealthCheck() HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := HealthReport{State: s.state, LastRun: s.lastRun, ErrorCount: s.errorCount}
	switch s.state {
	case StateStopped:
		report.Status = Unhealthy
		report.Message = "scheduler not running"
		return report
	case StatePaused:
		report.Status = Degraded
		report.Message = "backing off after critical error"
		return report
	}

	ref := s.lastRun
	if ref.IsZero() {
		ref = s.startedAt
	}
	report.LastRunAge = s.now().Sub(ref)

	switch {
	case report.LastRunAge > 2*s.cfg.Interval:
		report.Status = Degraded
		report.Message = "last run is overdue"
	case s.errorCount > s.cfg.MaxErrors:
		report.Status = Degraded
		report.Message = "too many critical errors"
	default:
		report.Status = Healthy
	}
	return report
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		State:       s.state,
		Running:     s.state != StateStopped,
		Interval:    s.cfg.Interval,
		StartedAt:   s.startedAt,
		LastRun:     s.lastRun,
		ErrorCount:  s.errorCount,
		TotalCycles: s.totalCycles,
		InCycle:     s.inCycle,
		LastReport:  s.lastReport,
	}
}

// EmergencyStop halts the scheduler and deactivates every plan and config.
// Deactivation happens before waiting on the in-flight cycle, so its
// remaining items see the inactive record and skip.
func (s *Scheduler) EmergencyStop(ctx context.Context, reason string) (*EmergencyReport, error) {
	logger.Warn("EMERGENCY STOP", "reason", reason)

	if err := s.halt(); err != nil && !errors.Is(err, ErrNotRunning) {
		return nil, err
	}
	plans, configs, err := s.store.DeactivateAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("deactivate all: %w", err)
	}
	if err := s.drain(ctx); err != nil {
		return nil, err
	}
	logger.Warn("emergency stop complete", "reason", reason, "plans", plans, "configs", configs)
	return &EmergencyReport{Reason: reason, PlansDeactivated: plans, ConfigsDeactivated: configs}, nil
}

// Reconfigure swaps the configuration through a stop/start transition.
func (s *Scheduler) Reconfigure(ctx context.Context, cfg SchedulerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	wasRunning := s.state != StateStopped
	s.mu.Unlock()

	if wasRunning {
		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	logger.Info("scheduler reconfigured", "interval", cfg.Interval.String())

	if wasRunning {
		return s.Start(ctx)
	}
	return nil
}

// Config returns the current immutable configuration.
func (s *Scheduler) Config() SchedulerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
