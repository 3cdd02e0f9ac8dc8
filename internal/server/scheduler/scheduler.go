// Package scheduler runs background jobs on cron specs for the lifetime of
// the process.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/robfig/cron/v3"
)

// Job is one background task. The context is cancelled when the scheduler
// stops.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger logging.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger.With("module", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name on a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// RunNow runs the job synchronously, outside the cron schedule.
func (s *Scheduler) RunNow(name string, job Job) {
	s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) {
	if err := job(s.ctx); err != nil {
		s.logger.Error(s.ctx, "scheduled job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug(s.ctx, "scheduled job finished", "job", name)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels the running ones and waits for them, or
// for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
