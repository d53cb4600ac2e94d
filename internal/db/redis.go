package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/models"
)

// ReportUpdateChannel carries a ReportUpdate message for every mutation.
const ReportUpdateChannel = "report-updates"

// ReportUpdate is the payload published on ReportUpdateChannel.
type ReportUpdate struct {
	Action string    `json:"action"`
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// RedisStore wraps a redis client used for the report cache and the
// change feed.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func reportKey(id string) string     { return "report:" + id }
func statsKey(userID string) string { return "stats:" + userID }

// genKey holds the invalidation counter for a cache key. Invalidate bumps it
// so a fill computed from an older read is refused.
func genKey(key string) string { return key + ":gen" }

// generationTTL outlives any store read a fill could be racing with.
const generationTTL = 24 * time.Hour

// setIfGeneration writes ARGV[2] to KEYS[1] with a PX ttl only while
// KEYS[2] still holds the generation observed before the store read.
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// ReportGeneration returns the invalidation counter for a report. Read it
// before loading the report from the store and pass it to CacheReport.
func (r *RedisStore) ReportGeneration(ctx context.Context, id string) (int64, error) {
	return r.generation(ctx, reportKey(id))
}

// StatsGeneration is ReportGeneration for a user's stats.
func (r *RedisStore) StatsGeneration(ctx context.Context, userID string) (int64, error) {
	return r.generation(ctx, statsKey(userID))
}

// CacheReport stores rep under its id for ttl unless the report was
// invalidated since gen was read. stored is false when the write was refused.
func (r *RedisStore) CacheReport(ctx context.Context, rep *models.Report, ttl time.Duration, gen int64) (stored bool, err error) {
	return r.setJSON(ctx, reportKey(rep.ID), rep, ttl, gen)
}

// CachedReport returns the cached report, or ok=false on a miss.
func (r *RedisStore) CachedReport(ctx context.Context, id string) (*models.Report, bool, error) {
	var rep models.Report
	ok, err := r.getJSON(ctx, reportKey(id), &rep)
	if !ok || err != nil {
		return nil, false, err
	}
	if rep.MediaURLs == nil {
		rep.MediaURLs = []string{}
	}
	return &rep, true, nil
}

// CacheStats stores a user's stats for ttl, subject to the same generation
// check as CacheReport.
func (r *RedisStore) CacheStats(ctx context.Context, stats *models.UserStats, ttl time.Duration, gen int64) (stored bool, err error) {
	return r.setJSON(ctx, statsKey(stats.UserID), stats, ttl, gen)
}

// CachedStats returns a user's cached stats, or ok=false on a miss.
func (r *RedisStore) CachedStats(ctx context.Context, userID string) (*models.UserStats, bool, error) {
	var stats models.UserStats
	ok, err := r.getJSON(ctx, statsKey(userID), &stats)
	if !ok || err != nil {
		return nil, false, err
	}
	return &stats, true, nil
}

// Invalidate drops the cached report and its owner's stats and bumps their
// generations so in-flight fills cannot restore them.
func (r *RedisStore) Invalidate(ctx context.Context, reportID, userID string) error {
	keys := []string{reportKey(reportID)}
	if userID != "" {
		keys = append(keys, statsKey(userID))
	}
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, genKey(k))
			pipe.Expire(ctx, genKey(k), generationTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// PublishUpdate announces a mutation on ReportUpdateChannel.
func (r *RedisStore) PublishUpdate(ctx context.Context, u ReportUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return r.Client.Publish(ctx, ReportUpdateChannel, payload).Err()
}

// SubscribeUpdates returns a subscription to ReportUpdateChannel. Callers
// must Close it.
func (r *RedisStore) SubscribeUpdates(ctx context.Context) *redis.PubSub {
	return r.Client.Subscribe(ctx, ReportUpdateChannel)
}

// Ping reports whether Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *RedisStore) generation(ctx context.Context, key string) (int64, error) {
	gen, err := r.Client.Get(ctx, genKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration, gen int64) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	n, err := setIfGeneration.Run(ctx, r.Client, []string{key, genKey(key)}, gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// a corrupt entry is treated as a miss and removed
		_ = r.Client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
