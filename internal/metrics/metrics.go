// Package metrics exposes Prometheus collectors for scan, cache, token, and
// notification activity. Calling code goes through the Record helpers rather
// than the vec APIs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan lifecycle metrics
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_scans_total",
			Help: "Total number of account scans by terminal status",
		},
		[]string{"status"}, // completed, failed, skipped, cancelled
	)

	ScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nestwatch_scan_duration_seconds",
			Help:    "Duration of account scans from lease acquisition to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}, // 1s to the 30m deadline
		},
	)

	VideosAnalyzedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nestwatch_videos_analyzed_total",
			Help: "Total number of videos run through the risk analyzer",
		},
	)

	FlagsFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_flags_found_total",
			Help: "Total number of new risk flags by category",
		},
		[]string{"category"},
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_alerts_created_total",
			Help: "Total alerts synthesized by type",
		},
		[]string{"type"},
	)

	// Supporting infrastructure metrics
	CacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_cache_ops_total",
			Help: "Total content cache operations by op and outcome",
		},
		[]string{"op", "outcome"}, // get: hit/miss/error, set: stored/error
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_token_refreshes_total",
			Help: "Total OAuth access token refreshes by outcome",
		},
		[]string{"outcome"}, // refreshed, failed
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_notifications_sent_total",
			Help: "Total notification delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"}, // email/push x sent/failed
	)
)

// RecordScan records a scan reaching a terminal status.
func RecordScan(status string) {
	ScansTotal.WithLabelValues(status).Inc()
}

// ObserveScanDuration records how long a scan ran. Skipped scans never
// observe a duration.
func ObserveScanDuration(elapsed time.Duration) {
	ScanDurationSeconds.Observe(elapsed.Seconds())
}

// RecordVideosAnalyzed adds a batch to the analyzed-video counter.
func RecordVideosAnalyzed(n int) {
	if n > 0 {
		VideosAnalyzedTotal.Add(float64(n))
	}
}

// RecordFlag records one newly created flag in a risk category.
func RecordFlag(category string) {
	FlagsFoundTotal.WithLabelValues(category).Inc()
}

// RecordAlert records one synthesized alert row.
func RecordAlert(alertType string) {
	AlertsCreatedTotal.WithLabelValues(alertType).Inc()
}

// RecordCacheOp records a content cache get or set and how it went.
func RecordCacheOp(op, outcome string) {
	CacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordTokenRefresh records an OAuth refresh attempt outcome.
func RecordTokenRefresh(outcome string) {
	TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records a notification delivery attempt on one channel.
func RecordNotification(channel, outcome string) {
	NotificationsSentTotal.WithLabelValues(channel, outcome).Inc()
}
