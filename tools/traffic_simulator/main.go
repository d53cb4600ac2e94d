// Traffic Simulator drives a mix of citizen traffic against the report API:
// nearby searches, report reads, new reports and resolutions, spread over
// several users, devices and client addresses.
//
// Usage:
//
//	TOKEN_SECRET=... go run ./tools/traffic_simulator -requests=2000 -concurrency=20 -stats
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/client"
	"github.com/patrickwarner/civicreport/internal/config"
	"github.com/patrickwarner/civicreport/internal/db"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/observability"
	"github.com/patrickwarner/civicreport/internal/token"
)

var (
	server          string
	users           int
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	createRate      float64
	resolveRate     float64
	centerLat       float64
	centerLng       float64
	radius          float64
	stats           bool
	flush           bool
	redisAddr       string
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
)

var logger *zap.Logger

var (
	userAgents = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 11; SAMSUNG SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/15.0 Chrome/94.0.4606.61 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent        uint64
	countSuccess     uint64
	countRateLimited uint64
	countErrors      uint64
	countCreated     uint64
)

// citizen is one simulated user with a fixed device and address.
type citizen struct {
	id  string
	api *client.Client

	mu      sync.Mutex
	pending []string
}

func (c *citizen) push(id string) {
	c.mu.Lock()
	c.pending = append(c.pending, id)
	c.mu.Unlock()
}

func (c *citizen) pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return "", false
	}
	id := c.pending[0]
	c.pending = c.pending[1:]
	return id, true
}

func (c *citizen) peek(r *rand.Rand) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return "", false
	}
	return c.pending[r.Intn(len(c.pending))], true
}

// headerTransport stamps the simulated device and client address on every
// request so the server's client context sees distinct callers.
type headerTransport struct {
	base http.RoundTripper
	ua   string
	ip   string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	req.Header.Set("X-Forwarded-For", t.ip)
	return t.base.RoundTrip(req)
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "report API base URL")
	flag.IntVar(&users, "users", 20, "number of unique citizens")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&createRate, "create-rate", 0.2, "probability a request files a new report")
	flag.Float64Var(&resolveRate, "resolve-rate", 0.05, "probability a request resolves a pending report")
	flag.Float64Var(&centerLat, "lat", 12.9716, "latitude traffic is centered on")
	flag.Float64Var(&centerLng, "lng", 77.5946, "longitude traffic is centered on")
	flag.Float64Var(&radius, "radius", 2000, "nearby search radius in meters")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush cached reports and stats from redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	cfg := config.Load()
	ctx := context.Background()

	if flush {
		addr := redisAddr
		if addr == "" {
			addr = cfg.RedisAddr
		}
		if err := flushCache(ctx, addr); err != nil {
			logger.Fatal("flush redis", zap.Error(err))
		}
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   conc,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	citizens := make([]*citizen, users)
	for i := range citizens {
		id := fmt.Sprintf("sim-%03d", i)
		hc := &http.Client{
			Timeout:   30 * time.Second,
			Transport: headerTransport{base: transport, ua: userAgents[r.Intn(len(userAgents))], ip: userIPs[r.Intn(len(userIPs))]},
		}
		opts := []client.Option{client.WithHTTPClient(hc), client.WithLogger(logger)}
		if cfg.TokenSecret != "" {
			tok, err := token.Generate(auth.Principal{ID: id, Role: auth.RoleCitizen}, []byte(cfg.TokenSecret), 24*time.Hour)
			if err != nil {
				logger.Fatal("issue token", zap.Error(err))
			}
			opts = append(opts, client.WithToken(tok))
		}
		citizens[i] = &citizen{id: id, api: client.New(server, opts...)}
	}

	var (
		wg   sync.WaitGroup
		rmu  sync.Mutex
		sem  = make(chan struct{}, conc)
		done = make(chan struct{})
	)

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				if time.Since(start)%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := 1 + (r.Float64()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		rmu.Lock()
		c := citizens[r.Intn(len(citizens))]
		roll := r.Float64()
		lat, lng := centerLat+(r.Float64()-0.5)*0.02, centerLng+(r.Float64()-0.5)*0.02
		pick := r.Int63()
		rmu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			op, err := simulate(ctx, c, roll, lat, lng, rand.New(rand.NewSource(pick)))
			record(op, c.id, err)
		}()
	}

	wg.Wait()
	close(done)
	printStats()
	logger.Info("simulation complete", zap.String("label", label), zap.Duration("elapsed", time.Since(start)))
}

// simulate performs one citizen action chosen by roll.
func simulate(ctx context.Context, c *citizen, roll, lat, lng float64, r *rand.Rand) (string, error) {
	switch {
	case roll < createRate:
		cats := models.Categories()
		pris := models.Priorities()
		rep, err := c.api.CreateReport(ctx, models.ReportInput{
			UserID:      c.id,
			Description: "Simulated report",
			Category:    string(cats[r.Intn(len(cats))]),
			Priority:    string(pris[r.Intn(len(pris))]),
			Latitude:    &lat,
			Longitude:   &lng,
			Address:     "Simulated street",
		})
		if err == nil {
			c.push(rep.ID)
			atomic.AddUint64(&countCreated, 1)
		}
		return "create", err
	case roll < createRate+resolveRate:
		id, ok := c.pop()
		if !ok {
			_, err := c.api.Nearby(ctx, lat, lng, radius)
			return "nearby", err
		}
		_, err := c.api.ResolveReport(ctx, id)
		return "resolve", err
	case roll < 0.6:
		id, ok := c.peek(r)
		if !ok {
			_, err := c.api.UserStats(ctx, c.id)
			return "stats", err
		}
		_, err := c.api.GetReport(ctx, id)
		return "get", err
	default:
		_, err := c.api.Nearby(ctx, lat, lng, radius)
		return "nearby", err
	}
}

func record(op, userID string, err error) {
	if err == nil {
		atomic.AddUint64(&countSuccess, 1)
		return
	}
	var serr *client.ServerError
	if errors.As(err, &serr) && serr.Status == http.StatusTooManyRequests {
		atomic.AddUint64(&countRateLimited, 1)
		return
	}
	atomic.AddUint64(&countErrors, 1)
	out := client.Normalize(err)
	logger.Debug("request failed",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.String("kind", out.Kind),
		zap.Int("status", out.Status),
		zap.Error(err))
}

func flushCache(ctx context.Context, addr string) error {
	store, err := db.InitRedis(ctx, addr)
	if err != nil {
		return err
	}
	defer store.Close()

	flushed := 0
	for _, pattern := range []string{"report:*", "stats:*"} {
		keys, err := store.Client.Keys(ctx, pattern).Result()
		if err != nil {
			return fmt.Errorf("keys %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := store.Client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", pattern, err)
		}
		flushed += len(keys)
	}
	logger.Info("redis cache flushed", zap.String("addr", addr), zap.Int("keys_deleted", flushed))
	return nil
}

func printStats() {
	logger.Info("traffic stats",
		zap.String("label", label),
		zap.Uint64("sent", atomic.LoadUint64(&countSent)),
		zap.Uint64("success", atomic.LoadUint64(&countSuccess)),
		zap.Uint64("created", atomic.LoadUint64(&countCreated)),
		zap.Uint64("rate_limited", atomic.LoadUint64(&countRateLimited)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
	)
}
