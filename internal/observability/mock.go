package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records counter increments so tests can assert on them.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	counters map[string]int
}

func (m *MockMetricsRegistry) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int)
	}
	m.counters[key]++
}

// Count returns how many times the counter identified by key was incremented.
// Keys are "<metric>:<label>", e.g. "report:resolved" or "ratelimit:create".
func (m *MockMetricsRegistry) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests:" + endpoint + ":" + status)
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementReportOperation(operation, category string) {
	m.inc("report:" + operation)
}

func (m *MockMetricsRegistry) RecordResolutionTime(category string, elapsed time.Duration) {
	m.inc("resolution:" + category)
}

func (m *MockMetricsRegistry) IncrementMediaFiles(kind string, bytes int64) {
	m.inc("media:" + kind)
}

func (m *MockMetricsRegistry) IncrementMediaUploadFailures(reason string) {
	m.inc("media_failure:" + reason)
}

func (m *MockMetricsRegistry) IncrementRateLimitHits(route string) {
	m.inc("ratelimit:" + route)
}

func (m *MockMetricsRegistry) IncrementCacheLookup(cache string, hit bool) {
	if hit {
		m.inc("cache_hit:" + cache)
		return
	}
	m.inc("cache_miss:" + cache)
}

func (m *MockMetricsRegistry) IncrementAnalyticsErrors() {
	m.inc("analytics_errors")
}
