package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
)

const (
	failureThreshold = 5
	backoffBase      = 5 * time.Minute
	backoffMax       = 30 * time.Minute
	maxBackoffSteps  = 10

	DefaultRunTimeout = 5 * time.Minute
)

// RunFunc executes one ingestion cycle
type RunFunc func(ctx context.Context) models.RunSummary

// Scheduler triggers RunFunc on a cron schedule with a seconds field.
// A tick that fires while the previous cycle still runs is skipped.
type Scheduler struct {
	cron    *cron.Cron
	run     RunFunc
	timeout time.Duration
	now     func() time.Time

	mu          sync.Mutex
	failures    int
	pausedUntil time.Time
}

// New prepares a scheduler for run
func New(cfg models.SchedulerConfig, run RunFunc) *Scheduler {
	s := &Scheduler{
		run:     run,
		timeout: cfg.RunTimeout,
		now:     time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRunTimeout
	}

	logger := cron.PrintfLogger(logging.Log)
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

// Run schedules the job and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context, schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logging.Log.Infof("Scheduler started with schedule %q", schedule)
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(s.timeout):
		logging.Log.Warn("Timed out waiting for the running cycle to finish")
	}
	return nil
}

// tick runs one bounded cycle unless the scheduler is backing off. It reports whether a cycle ran.
func (s *Scheduler) tick(ctx context.Context) bool {
	if wait := s.pausedFor(); wait > 0 {
		logging.Log.Debugf("Backing off after repeated failures, %s left", wait.Round(time.Second))
		return false
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary := s.run(runCtx)
	s.record(summary)
	return true
}

func (s *Scheduler) pausedFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedUntil.Sub(s.now())
}

// record resets the failure count on success and starts a backoff pause once failures pile up
func (s *Scheduler) record(summary models.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if summary.Success {
		s.failures = 0
		s.pausedUntil = time.Time{}
		return
	}

	s.failures++
	reason := "unknown error"
	if len(summary.Errors) > 0 {
		reason = summary.Errors[0].Error
	}
	logging.Log.Errorf("Ingestion cycle failed: %s", reason)

	if backoff := Backoff(s.failures); backoff > 0 {
		s.pausedUntil = s.now().Add(backoff)
		logging.Log.Warnf("Ingestion failed %d times, waiting %s before next attempt", s.failures, backoff)
	}
}

// Backoff returns the pause after the given number of consecutive failures
func Backoff(failures int) time.Duration {
	if failures < failureThreshold {
		return 0
	}

	n := failures - failureThreshold
	if n > maxBackoffSteps {
		n = maxBackoffSteps
	}

	backoff := backoffBase * time.Duration(1<<n)
	if backoff > backoffMax {
		backoff = backoffMax
	}
	return backoff
}
