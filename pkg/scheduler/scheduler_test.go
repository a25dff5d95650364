package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	"github.com/hashgraph/mass-payout/pkg/config"
)

func testPayoutConfig() *config.PayoutConfig {
	return &config.PayoutConfig{
		ExecuteSchedule: "0 0 * * *",
		RetrySchedule:   "*/15 * * * *",
		SyncSchedule:    "30 * * * *",
		JobTimeout:      time.Minute,
	}
}

func TestScheduler_StartRegistersJobs(t *testing.T) {
	jobs := newJobs(&jobsStore{}, &fakeOrchestrator{}, &fakeRetries{}, &fakeDividends{})
	s := New(jobs, testPayoutConfig(), zap.NewNop())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 3)
}

func TestScheduler_StartRejectsInvalidSchedule(t *testing.T) {
	cfg := testPayoutConfig()
	cfg.RetrySchedule = "every now and then"
	jobs := newJobs(&jobsStore{}, &fakeOrchestrator{}, &fakeRetries{}, &fakeDividends{})

	err := New(jobs, cfg, zap.NewNop()).Start()
	require.ErrorContains(t, err, JobRetryDue)
}

func TestScheduler_RunRecordsOutcome(t *testing.T) {
	s := New(nil, testPayoutConfig(), zap.NewNop())

	ok := metrics.SchedulerJobRuns.WithLabelValues("test_job", "ok")
	failed := metrics.SchedulerJobRuns.WithLabelValues("test_job", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	s.run("test_job", func(ctx context.Context) (int, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return 4, nil
	})()
	s.run("test_job", func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})()

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}
