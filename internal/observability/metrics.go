package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicreport_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// report lifecycle operations, labelled by operation and category
	ReportOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_report_operations_total",
			Help: "Report lifecycle operations (created, updated, resolved, deleted)",
		},
		[]string{"operation", "category"},
	)

	// time from creation to resolution
	ResolutionTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "civicreport_resolution_time_hours",
			Help: "Hours between report creation and resolution",
			// 1h .. ~85 days
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"category"},
	)

	// uploaded media files by kind (image, video, audio)
	MediaFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_media_files_total",
			Help: "Media files stored",
		},
		[]string{"kind"},
	)

	MediaBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civicreport_media_bytes_total",
			Help: "Bytes of media stored",
		},
	)

	// failed upload requests labelled by reason
	MediaUploadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_media_upload_failures_total",
			Help: "Upload requests rejected or rolled back",
		},
		[]string{"reason"},
	)

	// rate limit rejections per route
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_ratelimit_hits_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"route"},
	)

	// cache lookups labelled by cache name and result (hit, miss)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicreport_cache_lookups_total",
			Help: "Redis cache lookups",
		},
		[]string{"cache", "result"},
	)

	// analytics events that could not be written
	AnalyticsErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civicreport_analytics_errors_total",
			Help: "Analytics events that failed to persist",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ReportOperations,
		ResolutionTime,
		MediaFiles,
		MediaBytes,
		MediaUploadFailures,
		RateLimitHits,
		CacheLookups,
		AnalyticsErrors,
	)
}
