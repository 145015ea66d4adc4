package alerter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default scheduler timings.
const (
	DefaultInterval     = 60 * time.Second
	DefaultCycleTimeout = 30 * time.Second
)

// Reconciler runs one reconciliation cycle.
type Reconciler interface {
	Reconcile(ctx context.Context) (Result, error)
}

// LastRun is the outcome of the most recent cycle.
type LastRun struct {
	Result Result
	Err    error
	At     time.Time
}

// Scheduler runs a Reconciler, sleeping a fixed interval after each cycle.
// Only one cycle is ever in flight.
type Scheduler struct {
	reconciler Reconciler
	logger     zerolog.Logger

	mu           sync.RWMutex
	interval     time.Duration
	cycleTimeout time.Duration
	last         *LastRun
}

// NewScheduler creates a scheduler. Non-positive durations fall back to the defaults.
func NewScheduler(r Reconciler, interval, cycleTimeout time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cycleTimeout <= 0 {
		cycleTimeout = DefaultCycleTimeout
	}
	return &Scheduler{
		reconciler:   r,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		interval:     interval,
		cycleTimeout: cycleTimeout,
	}
}

// Interval returns the sleep between cycles.
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetInterval changes the sleep used after the current cycle.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Last returns the most recent cycle outcome, if any cycle has run.
func (s *Scheduler) Last() (LastRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return LastRun{}, false
	}
	return *s.last, true
}

// Run executes a cycle immediately and then one per interval until ctx is
// cancelled. Cancellation never interrupts a cycle in flight: each cycle
// runs on a context detached from ctx and bounded by the cycle timeout.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.Interval()).Msg("Alert scheduler started")

	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Alert scheduler stopped")
			return
		}

		s.RunOnce(ctx)

		interval := s.Interval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Alert scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce performs a single cycle and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) LastRun {
	s.mu.RLock()
	timeout := s.cycleTimeout
	s.mu.RUnlock()

	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	res, err := s.reconciler.Reconcile(cycleCtx)
	run := LastRun{Result: res, Err: err, At: time.Now()}

	if err != nil {
		s.logger.Error().
			Err(err).
			Dur("retry_in", s.Interval()).
			Msg("Alert run failed, will retry next cycle")
	} else {
		s.logger.Info().
			Float64("run_seconds", res.Duration.Seconds()).
			Dur("sleep", s.Interval()).
			Msg("Alert processor run complete")
	}

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}
