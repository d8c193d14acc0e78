// Package scheduler triggers savings cycles on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"moneyboxes/internal/log"
)

// DueRunner runs whatever cycles are due at now.
type DueRunner interface {
	RunDue(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs a DueRunner once at start and then on every tick of a cron
// schedule. Ticks that arrive while a run is still going are dropped; the
// next run catches up anyway.
type Scheduler struct {
	cron   *cron.Cron
	runner DueRunner
	logger *log.Logger
	now    func() time.Time
	spec   string
}

// New parses spec in loc and prepares the schedule. The scheduler does
// nothing until Run is called.
func New(spec string, loc *time.Location, runner DueRunner, logger *log.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler needs a runner")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentScheduler)

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		now:    time.Now,
		spec:   spec,
	}
	return s, nil
}

// Run executes a catch-up run, then follows the schedule until ctx is
// cancelled. It waits for an in-flight run before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid cycle schedule %q: %w", s.spec, err)
	}

	s.logger.InfoContext(ctx, "Running startup catch-up", log.FieldOperation, log.OpStartup)
	s.tick(ctx)

	s.cron.Start()
	if next := s.Next(); !next.IsZero() {
		s.logger.InfoContext(ctx, "Scheduler started", "schedule", s.spec, "next_run", next.Format(time.RFC3339))
	}

	<-ctx.Done()

	s.logger.Info("Stopping scheduler", log.FieldOperation, log.OpShutdown)
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the next scheduled run, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	n, err := s.runner.RunDue(ctx, s.now())
	if err != nil {
		s.logger.LogError(ctx, "Savings run failed", err, log.OpRunCycle, log.NewFields().WithDuration(start))
		return
	}
	s.logger.InfoContext(ctx, "Savings run finished",
		log.FieldCount, n,
		log.FieldDuration, time.Since(start).Milliseconds())
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, log.FieldError, err)...)
}
