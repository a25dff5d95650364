package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	"github.com/hashgraph/mass-payout/pkg/config"
)

// Job names used in logs and metrics.
const (
	JobExecuteDue           = "execute_due"
	JobRetryDue             = "retry_due"
	JobSyncCorporateActions = "sync_corporate_actions"
)

// Scheduler owns the cron runner of the payout jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	cfg    *config.PayoutConfig
	logger *zap.Logger
}

// New creates a Scheduler. Schedules are evaluated in UTC.
func New(jobs *Jobs, cfg *config.PayoutConfig, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	entries := []struct {
		name     string
		schedule string
		fn       func(context.Context) (int, error)
	}{
		{JobExecuteDue, s.cfg.ExecuteSchedule, s.jobs.ExecuteDue},
		{JobRetryDue, s.cfg.RetrySchedule, s.jobs.RetryDue},
		{JobSyncCorporateActions, s.cfg.SyncSchedule, s.jobs.SyncCorporateActions},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, s.run(e.name, e.fn)); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", e.name, err)
		}
		s.logger.Info("Scheduled job", zap.String("job", e.name), zap.String("schedule", e.schedule))
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(name string, fn func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
		defer cancel()

		start := time.Now()
		n, err := fn(ctx)
		if err != nil {
			metrics.SchedulerJobRuns.WithLabelValues(name, "error").Inc()
			s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		metrics.SchedulerJobRuns.WithLabelValues(name, "ok").Inc()
		s.logger.Info("Scheduled job finished",
			zap.String("job", name),
			zap.Int("processed", n),
			zap.Duration("duration", time.Since(start)))
	}
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
