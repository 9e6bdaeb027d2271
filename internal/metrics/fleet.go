package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FanoutResults counts completed fan-outs by operation and resulting
	// status (full_success, partial_queued, partial, failed).
	FanoutResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyfleet_fanout_results_total",
		Help: "Completed fan-out operations by operation and result status",
	}, []string{"operation", "status"})

	// PanelFailures counts classified per-server panel failures.
	PanelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyfleet_panel_failures_total",
		Help: "Per-server panel call failures by server and transience",
	}, []string{"server", "transient"})

	// OutboxDepth tracks pending operations by status, refreshed on each
	// drain tick.
	OutboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyfleet_outbox_depth",
		Help: "Pending operations in the retry queue by status",
	}, []string{"status"})

	// OutboxAttempts counts drain attempts by operation kind and outcome
	// (done, rescheduled, terminal).
	OutboxAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyfleet_outbox_attempts_total",
		Help: "Outbox drain attempts by operation kind and outcome",
	}, []string{"kind", "outcome"})

	// ReconcileDrift counts drift findings by server and drift kind
	// (lost, adopted, unknown).
	ReconcileDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyfleet_reconcile_drift_total",
		Help: "Reconciliation drift findings by server and kind",
	}, []string{"server", "kind"})

	// ReconcileDuration observes full reconciliation pass duration.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keyfleet_reconcile_duration_seconds",
		Help:    "Duration of full reconciliation passes",
		Buckets: prometheus.DefBuckets,
	})
)
