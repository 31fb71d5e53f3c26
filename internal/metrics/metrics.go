// Package metrics exposes Prometheus instruments for the receipt pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReceiptProcessDuration tracks the latency of receipt submissions.
	ReceiptProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "receipt_process_duration_seconds",
			Help: "Duration of receipt pipeline runs in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"status"}, // verified, pending, rejected or error
	)

	// ReceiptRejections counts pipeline rejections by taxonomy code.
	ReceiptRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_rejections_total",
			Help: "Receipt submissions rejected, by rejection code",
		},
		[]string{"code"},
	)

	// PointsAwarded counts total points credited by the pipeline.
	PointsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Total points credited to shoppers",
		},
	)
)

// RecordProcessDuration records the duration of one pipeline run.
func RecordProcessDuration(status string, duration float64) {
	ReceiptProcessDuration.WithLabelValues(status).Observe(duration)
}

// RecordRejection increments the rejection counter for a code.
func RecordRejection(code string) {
	ReceiptRejections.WithLabelValues(code).Inc()
}
