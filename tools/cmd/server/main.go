package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickwarner/civicreport/internal/analytics"
	"github.com/patrickwarner/civicreport/internal/api"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/db"
	"github.com/patrickwarner/civicreport/internal/geoip"
	"github.com/patrickwarner/civicreport/internal/logic/ratelimit"
	"github.com/patrickwarner/civicreport/internal/media"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
	"github.com/patrickwarner/civicreport/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// limiterIdle is how long a client bucket may sit unused before it is pruned.
const limiterIdle = 15 * time.Minute

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AuthEnabled && cfg.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required when AUTH_ENABLED is true")
	}

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdownTracing()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	var store models.ReportStore
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory report store; data is lost on restart")
		store = models.NewInMemoryReportStore()
	default:
		pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	var cache *db.RedisStore
	if cfg.CacheEnabled {
		rs, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rs.Close()
		cache = rs
		go logUpdates(ctx, logger, cache)
	}

	var events analytics.AnalyticsService
	if cfg.AnalyticsEnabled {
		a, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, metricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer a.Close()
		events = a
	}

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		return fmt.Errorf("failed to load geoip db: %w", err)
	}
	defer func() { _ = geoSvc.Close() }()

	var blobs media.BlobStore
	switch cfg.MediaBackend {
	case config.BackendMemory:
		blobs = media.NewMemoryBlobStore(cfg.MediaBaseURL)
	default:
		local, err := media.NewLocalBlobStore(cfg.MediaDir, cfg.MediaBaseURL)
		if err != nil {
			return fmt.Errorf("init media dir: %w", err)
		}
		blobs = local
	}
	intake := media.NewIntake(blobs, media.Limits{
		MaxFileBytes:    cfg.MediaMaxFileBytes,
		MaxRequestBytes: cfg.MediaMaxRequestBytes,
		Parallelism:     cfg.MediaUploadParallelism,
	}, metricsRegistry, logger)

	reports := service.New(service.Deps{
		Store:     store,
		Cache:     cache,
		Analytics: events,
		Intake:    intake,
		Metrics:   metricsRegistry,
		Logger:    logger,
	}, service.Options{
		ResolvePolicy: cfg.ResolvePolicy,
		CacheTTL:      cfg.CacheTTL,
	})

	limiter := ratelimit.NewClientLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	srvDeps := api.NewServer(logger, reports, intake, geoSvc, limiter, metricsRegistry, cfg)
	r := srvDeps.Router()

	// metrics endpoint (includes rate limiting metrics)
	r.Handle("/metrics", promhttp.Handler())

	if local, ok := blobs.(*media.LocalBlobStore); ok {
		r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(local.Dir))))
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "civicreport"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("civic report server running",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.String("media", cfg.MediaBackend),
		zap.String("resolve_policy", reports.ResolvePolicy()),
		zap.Bool("auth", cfg.AuthEnabled),
		zap.Bool("cache", cache != nil),
		zap.Bool("analytics", events != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.RateLimitEnabled {
		ticker := time.NewTicker(limiterIdle)
		go func() {
			for {
				select {
				case <-ticker.C:
					if n := limiter.Prune(limiterIdle); n > 0 {
						logger.Debug("pruned idle rate limit buckets", zap.Int("count", n))
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// logUpdates follows the report change feed so other replicas' mutations
// show up in this instance's logs.
func logUpdates(ctx context.Context, logger *zap.Logger, cache *db.RedisStore) {
	sub := cache.SubscribeUpdates(ctx)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u db.ReportUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				logger.Warn("malformed report update", zap.Error(err))
				continue
			}
			logger.Debug("report update",
				zap.String("action", u.Action),
				zap.String("report_id", u.ID),
				zap.String("user_id", u.UserID))
		}
	}
}
