// Package metrics holds the engine's Prometheus collectors. Registered
// once from main(); exposed on the status server's /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SyncSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_signals_total",
			Help: "Change signals received per source channel",
		},
		[]string{"source"},
	)

	RefetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_refetches_total",
			Help: "Authoritative refetches executed",
		},
		[]string{"result"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_offline_queue_depth",
			Help: "Pending writes waiting for replay",
		},
	)

	QueueDrainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_offline_queue_drains_total",
			Help: "Drain runs by outcome",
		},
		[]string{"result"},
	)

	PrintJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_print_jobs_total",
			Help: "Print jobs by terminal state",
		},
		[]string{"state"},
	)

	SideEffectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_side_effect_failures_total",
			Help: "Fire-and-forget side effects that failed",
		},
	)

	SequenceCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_sequence_collisions_total",
			Help: "Duplicate business numbers detected post-hoc",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		SyncSignalsTotal,
		RefetchesTotal,
		QueueDepth,
		QueueDrainsTotal,
		PrintJobsTotal,
		SideEffectFailuresTotal,
		SequenceCollisionsTotal,
	)
}
