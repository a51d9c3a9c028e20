package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inkwellsync"

var (
	operationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "queue_size",
			Help:      "Number of operations in the queue by status",
		},
		[]string{"status"},
	)

	operationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "enqueued_total",
			Help:      "Total operations enqueued",
		},
		[]string{"type"},
	)

	operationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processed_total",
			Help:      "Total operations processed by outcome",
		},
		[]string{"type", "outcome"},
	)

	applyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "apply_duration_seconds",
			Help:      "Time to apply one operation against the remote service",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)
)

func recordEnqueued(opType string) {
	operationsEnqueued.WithLabelValues(opType).Inc()
}

// RecordProcessed records one processed operation and its outcome.
func RecordProcessed(opType, outcome string) {
	operationsProcessed.WithLabelValues(opType, outcome).Inc()
}

// RecordApplyDuration records how long a remote apply took.
func RecordApplyDuration(opType string, duration time.Duration) {
	applyDuration.WithLabelValues(opType).Observe(duration.Seconds())
}

// RecordQueueStats updates queue size gauges.
func RecordQueueStats(stats *QueueStats) {
	operationQueueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	operationQueueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	operationQueueSize.WithLabelValues("completed").Set(float64(stats.Completed))
	operationQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
