package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// runTimeout bounds a single scheduled run.
const runTimeout = 5 * time.Minute

type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler runs a job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewScheduler(job Runner, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := job.Run(ctx); err != nil {
			logger.Error("scheduled reconcile failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("reconcile scheduler started", "next_run", s.next())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("reconcile scheduler stopped")
	return nil
}

func (s *Scheduler) next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
