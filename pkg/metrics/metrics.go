package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job outcomes per queue.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_processed_total",
			Help: "Total jobs settled per queue and outcome",
		},
		[]string{"queue", "outcome"}, // outcome: completed, failed
	)

	// Dispatch latency per channel (milliseconds).
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_dispatch_latency_ms",
			Help:    "Channel dispatch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel"},
	)

	// Delivery outcomes per channel.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total delivery attempts per channel and result",
		},
		[]string{"channel", "result"}, // result: delivered, failed, skipped
	)

	// Queue depth snapshot, refreshed by the stats collector.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Jobs per queue and state",
		},
		[]string{"queue", "state"},
	)
)

// RecordJob counts one settled job.
func RecordJob(queue, outcome string) {
	JobsProcessed.WithLabelValues(queue, outcome).Inc()
}

// RecordDispatch observes one channel dispatch.
func RecordDispatch(channel string, duration time.Duration) {
	DispatchLatency.WithLabelValues(channel).Observe(float64(duration.Milliseconds()))
}

// RecordDelivery counts one delivery result.
func RecordDelivery(channel, result string) {
	Deliveries.WithLabelValues(channel, result).Inc()
}

// SetQueueDepth updates the depth gauge for one queue state.
func SetQueueDepth(queue, state string, n int) {
	QueueDepth.WithLabelValues(queue, state).Set(float64(n))
}
