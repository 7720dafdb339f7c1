/*
scheduler.go - Automated backfill scheduler

PURPOSE:
  Periodically runs the backfill reconciler in "missing" mode so ledger rows
  created without a recurring cost base are repaired without an admin
  having to trigger it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass is recorded as a backfill run by the reconciler itself
  - A failed pass is logged; the next tick tries again

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBackfillScheduler(assembler.Reconciler(), loc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerBackfill endpoint (manual pass)
  - revenue/backfill.go: Reconciler
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/revenue-engine/generic"
	"github.com/warp/revenue-engine/revenue"
)

// BackfillRunner is the part of the reconciler the scheduler drives.
type BackfillRunner interface {
	Run(ctx context.Context, now time.Time, loc *time.Location, mode revenue.Mode) (revenue.BackfillResult, error)
}

// BackfillScheduler runs the missing-base backfill on a ticker.
type BackfillScheduler struct {
	Runner        BackfillRunner
	Location      *time.Location
	Clock         generic.Clock
	CheckInterval time.Duration
	Enabled       bool

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBackfillScheduler creates a new scheduler.
func NewBackfillScheduler(runner BackfillRunner, loc *time.Location, logger *slog.Logger) *BackfillScheduler {
	if loc == nil {
		loc = generic.DefaultLocation
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackfillScheduler{
		Runner:        runner,
		Location:      loc,
		Clock:         generic.SystemClock{},
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.With(slog.String("component", "scheduler")),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *BackfillScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.logger.Info("started",
		slog.Duration("interval", s.CheckInterval),
		slog.Time("next_run", s.NextRunTime()),
	)
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *BackfillScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("stopped")
	}
}

func (s *BackfillScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (s *BackfillScheduler) RunNow(ctx context.Context) (revenue.BackfillResult, error) {
	result, err := s.Runner.Run(ctx, s.Clock.Now(), s.Location, revenue.ModeMissing)
	if err != nil {
		s.logger.Error("backfill pass failed", slog.String("error", err.Error()))
		return result, err
	}
	if result.Patched > 0 || result.Skipped > 0 {
		s.logger.Info("backfill pass completed",
			slog.String("run_id", result.RunID),
			slog.Int("patched", result.Patched),
			slog.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// NextRunTime returns when the next scheduled pass will occur.
func (s *BackfillScheduler) NextRunTime() time.Time {
	return s.Clock.Now().Add(s.CheckInterval)
}
