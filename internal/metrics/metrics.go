// Package metrics defines Reel's prometheus collectors. The teacher only
// wired promhttp.Handler() at /metrics without defining application
// collectors; this expands that into counters/gauges/histograms for every
// subsystem spec.md asks to be observable (§8 domain stack table).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OperationsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_operations_started_total",
			Help: "Operations accepted by the pipeline, by kind.",
		},
		[]string{"kind"},
	)

	OperationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_operations_rejected_total",
			Help: "Operations rejected by the pipeline, by reason.",
		},
		[]string{"reason"},
	)

	OperationsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_operations_settled_total",
			Help: "Operations reaching a terminal state, by outcome.",
		},
		[]string{"outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reel_queue_depth",
			Help: "Ready jobs waiting to be claimed, by priority.",
		},
		[]string{"priority"},
	)

	WorkerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reel_worker_job_duration_seconds",
			Help:    "Wall-clock time a worker spends executing one job.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)

	WorkerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_worker_retries_total",
			Help: "Retryable job failures, by kind.",
		},
		[]string{"kind"},
	)

	OutboxLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reel_outbox_lag_seconds",
			Help: "Age of the oldest still-pending outbox event.",
		},
	)

	OutboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reel_outbox_delivered_total",
			Help: "Outbox events reaching published or dead, by terminal status.",
		},
		[]string{"status"},
	)

	JanitorReservationsChecked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reel_janitor_reservations_checked_total",
			Help: "Reservations examined by the janitor across all runs.",
		},
	)

	JanitorReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reel_janitor_released_total",
			Help: "Reservations released (refunded) by the janitor.",
		},
	)

	JanitorSuspicious = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reel_janitor_suspicious_total",
			Help: "Completed operations found with no matching capture row.",
		},
	)

	LedgerBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reel_ledger_balance",
			Help: "Last observed balance per user (sampled, not authoritative).",
		},
		[]string{"user_id"},
	)
)

// Register registers every collector on reg. Call once from the
// composition root.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OperationsStarted,
		OperationsRejected,
		OperationsSettled,
		QueueDepth,
		WorkerJobDuration,
		WorkerRetries,
		OutboxLagSeconds,
		OutboxDelivered,
		JanitorReservationsChecked,
		JanitorReleased,
		JanitorSuspicious,
		LedgerBalance,
	)
}
