// Package metrics holds the Prometheus instruments for the extraction pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeSuccess labels extractions that produced a rectified image.
const OutcomeSuccess = "success"

var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cover_extractions_total",
			Help: "Total number of extraction attempts by outcome",
		},
		[]string{"outcome"}, // "success" or a failure reason
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cover_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		},
		[]string{"stage"},
	)

	DetectedLines = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cover_detected_lines",
			Help:    "Raw line segments returned by the Hough transform per image",
			Buckets: []float64{0, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	UniqueLines = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cover_unique_lines",
			Help:    "Lines remaining after deduplication per image",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 12, 16},
		},
	)

	SegmenterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cover_segmenter_requests_total",
			Help: "Remote segmentation requests by result",
		},
		[]string{"result"}, // "ok", "error", "rejected"
	)

	// SegmenterBreakerState is 0 closed, 1 half-open, 2 open.
	SegmenterBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cover_segmenter_breaker_state",
			Help: "Circuit breaker state of the remote segmenter",
		},
		[]string{"name"},
	)

	SnapshotErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cover_snapshot_errors_total",
			Help: "Debug snapshots that could not be written",
		},
		[]string{"sink"},
	)
)

// RecordOutcome counts one extraction. An empty reason counts as success.
func RecordOutcome(reason string) {
	if reason == "" {
		reason = OutcomeSuccess
	}
	ExtractionsTotal.WithLabelValues(reason).Inc()
}

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordLines records raw and deduplicated line counts.
func RecordLines(detected, unique int) {
	DetectedLines.Observe(float64(detected))
	UniqueLines.Observe(float64(unique))
}

// WriteTextfile dumps the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
