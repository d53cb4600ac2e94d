package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Resolve policies applied when resolving a report that is already resolved.
const (
	ResolvePolicyIdempotent = "idempotent"
	ResolvePolicyConflict   = "conflict"
)

// Store and media backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendLocal    = "local"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string

	// Report store
	StoreBackend  string
	PostgresDSN   string
	ResolvePolicy string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Redis cache and change notifications
	RedisAddr    string
	CacheEnabled bool
	CacheTTL     time.Duration

	// Analytics
	AnalyticsEnabled bool
	ClickHouseDSN    string
	GeoIPDB          string

	// Authentication
	AuthEnabled bool
	TokenSecret string
	TokenTTL    time.Duration

	// Media intake
	MediaBackend           string
	MediaDir               string
	MediaBaseURL           string
	MediaMaxFileBytes      int64
	MediaMaxRequestBytes   int64
	MediaUploadParallelism int

	// Rate limiting for write routes
	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 15*time.Second)
	// uploads of several videos need a generous write window
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 60*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "civicreport")

	cfg.StoreBackend = strings.ToLower(getenv("STORE_BACKEND", BackendPostgres))
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ResolvePolicy = strings.ToLower(getenv("RESOLVE_POLICY", ResolvePolicyIdempotent))
	if cfg.ResolvePolicy != ResolvePolicyConflict {
		cfg.ResolvePolicy = ResolvePolicyIdempotent
	}

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.CacheEnabled = envBool("CACHE_ENABLED", true)
	cfg.CacheTTL = envDuration("CACHE_TTL", 5*time.Minute)

	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", false)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.AuthEnabled = envBool("AUTH_ENABLED", true)
	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 24*time.Hour)

	cfg.MediaBackend = strings.ToLower(getenv("MEDIA_BACKEND", BackendLocal))
	cfg.MediaDir = getenv("MEDIA_DIR", "./uploads")
	cfg.MediaBaseURL = strings.TrimRight(getenv("MEDIA_BASE_URL", "http://localhost:8787/media"), "/")
	cfg.MediaMaxFileBytes = envInt64("MEDIA_MAX_FILE_BYTES", 25<<20)
	cfg.MediaMaxRequestBytes = envInt64("MEDIA_MAX_REQUEST_BYTES", 200<<20)
	cfg.MediaUploadParallelism = envInt("MEDIA_UPLOAD_PARALLELISM", 4)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 20)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 1)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0) // Default to 100% sampling for dev

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
