package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DistributionsExecuted counts orchestrator runs by the resulting distribution status
	DistributionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_distributions_executed_total",
			Help: "Total number of distribution executions by final status",
		},
		[]string{"status"},
	)

	// BatchPayouts counts recorded batch payouts by status
	BatchPayouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_batch_payouts_total",
			Help: "Total number of batch payouts recorded",
		},
		[]string{"status"},
	)

	// Holders counts holder outcomes by status
	Holders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_holders_total",
			Help: "Total number of holder payment outcomes",
		},
		[]string{"status"},
	)

	// Retries counts holder retries by outcome
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_retries_total",
			Help: "Total number of holder retries",
		},
		[]string{"outcome"},
	)

	// OnChainCallDuration tracks life-cycle-cash-flow and asset token calls
	OnChainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payout_onchain_call_duration_seconds",
			Help:    "On-chain call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	// PollerCycles counts blockchain event poller cycles by result
	PollerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_poller_cycles_total",
			Help: "Total number of blockchain event poller cycles",
		},
		[]string{"result"},
	)

	// EventsIngested counts stored blockchain events by type
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_events_ingested_total",
			Help: "Total number of blockchain events ingested",
		},
		[]string{"event_type"},
	)

	// SchedulerJobRuns counts scheduled job runs
	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_scheduler_job_runs_total",
			Help: "Total number of scheduler job runs",
		},
		[]string{"job", "result"},
	)

	// PausedAssets tracks the number of assets currently paused
	PausedAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payout_paused_assets",
			Help: "Number of assets currently paused",
		},
	)
)
