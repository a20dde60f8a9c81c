// Package scheduler runs Kiko's periodic housekeeping jobs, such as purging
// old inbound message IDs and requeueing stuck outbox messages.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one housekeeping task. The context is cancelled when the job
// exceeds its timeout or the scheduler stops.
type Job func(ctx context.Context) error

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates and starts a cron scheduler. A nil logger uses slog.Default.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	// Standard 5-field cron (min, hour, dom, month, dow) plus @every descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, timeout: DefaultJobTimeout, logger: logger}
}

// AddJob schedules job under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	s.logger.Debug("Scheduler.AddJob: scheduled", "job", name, "expr", expr)
	return nil
}

func (s *Scheduler) runJob(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("Scheduler.runJob: job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("Scheduler.runJob: job done", "job", name, "duration", time.Since(start))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
