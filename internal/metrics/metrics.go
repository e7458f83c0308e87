// Package metrics instruments the coordinator with Prometheus collectors,
// mirroring this codebase's promauto construction style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the coordinator exposes.
type Metrics struct {
	QueueDepth           *prometheus.GaugeVec
	ClaimLatency         prometheus.Histogram
	DocumentsProcessed   prometheus.Counter
	DocumentsFailed      prometheus.Counter
	LeaderIsCurrent      *prometheus.GaugeVec
	ReaperReclaimedTotal prometheus.Counter
}

// New creates and registers the coordinator's metrics under namespace. An
// empty namespace falls back to "docingest", matching the pattern of
// defaulting an unset namespace rather than registering bare metric names.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "docingest"
	}

	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of queue items per run and status",
			},
			[]string{"run_id", "status"},
		),
		ClaimLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "claim_latency_seconds",
				Help:      "Time spent in the claim_next call",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DocumentsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Total documents completed successfully",
			},
		),
		DocumentsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_failed_total",
				Help:      "Total documents that reached a terminal failed status",
			},
		),
		LeaderIsCurrent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "leader_is_current",
				Help:      "1 if this worker currently holds the leader lease for the run, else 0",
			},
			[]string{"run_id", "worker_id"},
		),
		ReaperReclaimedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_reclaimed_total",
				Help:      "Total queue items reclaimed from stale processing claims",
			},
		),
	}
}
