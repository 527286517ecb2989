// Package metrics provides Prometheus metrics for the inventory sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "far_sync"

var (
	// RunsTotal tracks pipeline runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"status"},
	)

	// RunDuration tracks pipeline run duration in seconds
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// FilesTotal tracks file outcomes by kind and routing prefix
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "files_total",
			Help:      "Total number of files processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// UpsertsTotal tracks upsert results by record kind and status
	UpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upsert",
			Name:      "results_total",
			Help:      "Total number of upsert results by kind and status",
		},
		[]string{"kind", "status"},
	)

	// RowErrorsTotal tracks rows dropped during order grouping
	RowErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grouping",
			Name:      "row_errors_total",
			Help:      "Total number of order rows that failed to resolve",
		},
		[]string{"kind"},
	)

	// UnitsTotal tracks order quantities created in Zoho, in each item's base unit
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grouping",
			Name:      "units_total",
			Help:      "Total order line quantity created, in the item's base unit",
		},
		[]string{"kind", "unit"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// RateLimitWaitTime tracks time spent waiting for the remote API rate limit
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"limit_name"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// AuthTokenRefreshes tracks OAuth token refresh operations
	AuthTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of auth token refresh operations",
		},
		[]string{"status"},
	)

	// NotificationsTotal tracks notifications sent per channel
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notifications by channel and status",
		},
		[]string{"channel", "status"},
	)
)

// RecordRun records a pipeline run metric
func RecordRun(status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
}

// RecordFile records a file routing outcome
func RecordFile(kind, outcome string) {
	FilesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordUpsert records an upsert result
func RecordUpsert(kind, status string) {
	UpsertsTotal.WithLabelValues(kind, status).Inc()
}

// RecordUnits records the base quantity of one created order line
func RecordUnits(kind, unit string, quantity float64) {
	UnitsTotal.WithLabelValues(kind, unit).Add(quantity)
}

// RecordRowErrors records rows dropped during grouping
func RecordRowErrors(kind string, count int) {
	if count <= 0 {
		return
	}
	RowErrorsTotal.WithLabelValues(kind).Add(float64(count))
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordRateLimitWait records time spent blocked on a limiter
func RecordRateLimitWait(limitName string, waitSeconds float64) {
	RateLimitWaitTime.WithLabelValues(limitName).Observe(waitSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordTokenRefresh records an OAuth refresh
func RecordTokenRefresh(status string) {
	AuthTokenRefreshes.WithLabelValues(status).Inc()
}

// RecordNotification records a notification attempt
func RecordNotification(channel, status string) {
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}
