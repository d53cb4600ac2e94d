package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Report lifecycle metrics
	IncrementReportOperation(operation, category string)
	RecordResolutionTime(category string, elapsed time.Duration)

	// Media intake metrics
	IncrementMediaFiles(kind string, bytes int64)
	IncrementMediaUploadFailures(reason string)

	// Rate limiting metrics
	IncrementRateLimitHits(route string)

	// Cache metrics
	IncrementCacheLookup(cache string, hit bool)

	// Analytics metrics
	IncrementAnalyticsErrors()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Report lifecycle metrics
func (r *PrometheusRegistry) IncrementReportOperation(operation, category string) {
	ReportOperations.WithLabelValues(operation, category).Inc()
}

func (r *PrometheusRegistry) RecordResolutionTime(category string, elapsed time.Duration) {
	ResolutionTime.WithLabelValues(category).Observe(elapsed.Hours())
}

// Media intake metrics
func (r *PrometheusRegistry) IncrementMediaFiles(kind string, bytes int64) {
	MediaFiles.WithLabelValues(kind).Inc()
	MediaBytes.Add(float64(bytes))
}

func (r *PrometheusRegistry) IncrementMediaUploadFailures(reason string) {
	MediaUploadFailures.WithLabelValues(reason).Inc()
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitHits(route string) {
	RateLimitHits.WithLabelValues(route).Inc()
}

// Cache metrics
func (r *PrometheusRegistry) IncrementCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// Analytics metrics
func (r *PrometheusRegistry) IncrementAnalyticsErrors() {
	AnalyticsErrors.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementReportOperation(operation, category string)                  {}
func (r *NoOpRegistry) RecordResolutionTime(category string, elapsed time.Duration)          {}
func (r *NoOpRegistry) IncrementMediaFiles(kind string, bytes int64)                         {}
func (r *NoOpRegistry) IncrementMediaUploadFailures(reason string)                           {}
func (r *NoOpRegistry) IncrementRateLimitHits(route string)                                  {}
func (r *NoOpRegistry) IncrementCacheLookup(cache string, hit bool)                          {}
func (r *NoOpRegistry) IncrementAnalyticsErrors()                                            {}
