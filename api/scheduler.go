/*
scheduler.go - Scheduled accrual sweep

PURPOSE:
  Settles every user with active purchases on a cron schedule, so earnings
  land even for users who never open their dashboard. Page loads still
  settle on demand; the sweep and a page load racing on the same purchase
  are resolved by the purchase guard and the ledger idempotency key.

DESIGN:
  - robfig/cron runs one job; SkipIfStillRunning drops a tick that would
    overlap a sweep in progress
  - "today" comes from the accruer's clock at fire time
  - Failures per user are logged by the accruer; the sweep continues
  - Stop cancels the in-flight sweep and waits for it

CONFIGURATION:
  - Schedule: standard 5-field cron spec (default "5 0 * * *", just after
    midnight UTC). Empty disables the sweeper.

USAGE:
  sweeper := NewAccrualSweeper(svc.Accruer, cfg.SweepSchedule, logger)
  if err := sweeper.Start(); err != nil { ... }
  defer sweeper.Stop()

SEE ALSO:
  - admin.go: RunAccruals endpoint (manual sweep)
  - engine/accrual.go: AccrueAllUsers
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/engine"
)

// SweepRecorder receives sweep outcomes. Implemented by metrics.Collectors.
type SweepRecorder interface {
	SweepFinished(outcome string)
}

// AccrualSweeper runs AccrueAllUsers on a cron schedule.
type AccrualSweeper struct {
	Accruer  *engine.Accruer
	Schedule string
	Logger   *zap.Logger
	Recorder SweepRecorder

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex

	lastRun    time.Time
	lastResult engine.SweepResult
}

// NewAccrualSweeper creates a new sweeper.
func NewAccrualSweeper(accruer *engine.Accruer, schedule string, logger *zap.Logger) *AccrualSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualSweeper{
		Accruer:  accruer,
		Schedule: schedule,
		Logger:   logger.Named("sweeper"),
	}
}

// Start registers the job and begins the scheduler.
func (s *AccrualSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Schedule == "" {
		s.Logger.Info("disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.Schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("invalid sweep schedule %q: %w", s.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.Logger.Info("started", zap.String("schedule", s.Schedule), zap.Time("next_run", s.nextRunLocked()))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to return.
func (s *AccrualSweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	s.cancel()
	<-c.Stop().Done()
	s.Logger.Info("stopped")
}

// RunOnce performs one sweep as of the accruer's current day.
func (s *AccrualSweeper) RunOnce(ctx context.Context) (engine.SweepResult, error) {
	today := engine.DayOf(s.Accruer.Clock())
	start := time.Now()

	result, err := s.Accruer.AccrueAllUsers(ctx, today)

	s.mu.Lock()
	s.lastRun = start
	s.lastResult = result
	s.mu.Unlock()

	outcome := "ok"
	if err != nil || result.Failed > 0 {
		outcome = "error"
	}
	if s.Recorder != nil {
		s.Recorder.SweepFinished(outcome)
	}

	if err != nil {
		s.Logger.Error("sweep aborted", zap.String("as_of", today.String()), zap.Error(err))
		return result, err
	}
	s.Logger.Info("sweep completed",
		zap.String("as_of", today.String()),
		zap.Int("users", result.Users),
		zap.Int("failed", result.Failed),
		zap.String("credited", result.TotalCredited.String()),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// LastResult returns the most recent sweep and when it started.
func (s *AccrualSweeper) LastResult() (time.Time, engine.SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastResult
}

// NextRunTime returns when the next sweep will fire, zero if stopped.
func (s *AccrualSweeper) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *AccrualSweeper) nextRunLocked() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
