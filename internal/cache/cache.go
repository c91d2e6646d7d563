// Package cache is a cache-aside layer over Redis with deterministic,
// tenant-scoped keys and scan-based pattern invalidation.
//
// Every operation degrades to a no-op when caching is disabled or the store
// is unreachable; callers always get correct data, only slower.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"procodus.dev/iot-dashboard/pkg/metrics"
)

// scanCount is the SCAN page size hint and the DEL batch size.
const scanCount = 100

// writeTimeout bounds asynchronous write-after-miss.
const writeTimeout = 3 * time.Second

// generationTTL keeps idle tenant counters from accumulating.
const generationTTL = 24 * time.Hour

// TTLs are the per-resource entry lifetimes.
type TTLs struct {
	Device     time.Duration
	DeviceList time.Duration
	Readings   time.Duration
	Metadata   time.Duration
	Health     time.Duration
	Schedules  time.Duration
}

// DefaultTTLs returns the built-in lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		Device:     5 * time.Minute,
		DeviceList: time.Minute,
		Readings:   30 * time.Second,
		Metadata:   10 * time.Minute,
		Health:     30 * time.Second,
		Schedules:  time.Minute,
	}
}

// Config configures a Cache.
type Config struct {
	Client  redis.UniversalClient
	Logger  *slog.Logger
	Enabled bool
	TTLs    TTLs
	Metrics *metrics.APIMetrics
}

// Cache is safe for concurrent use.
type Cache struct {
	client  redis.UniversalClient
	log     *slog.Logger
	enabled bool
	ttls    TTLs
	metrics *metrics.APIMetrics
	pending sync.WaitGroup
}

// New creates a Cache. A nil client is allowed only when disabled.
func New(cfg Config) (*Cache, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Enabled && cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil when caching is enabled")
	}
	ttls := cfg.TTLs
	if ttls == (TTLs{}) {
		ttls = DefaultTTLs()
	}
	return &Cache{
		client:  cfg.Client,
		log:     cfg.Logger.With("component", "cache"),
		enabled: cfg.Enabled,
		ttls:    ttls,
		metrics: cfg.Metrics,
	}, nil
}

// Enabled reports whether the cache consults the store.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// TTLs returns the configured lifetimes.
func (c *Cache) TTLs() TTLs {
	return c.ttls
}

// Wait blocks until pending write-after-miss operations finish.
func (c *Cache) Wait() {
	c.pending.Wait()
}

// getRaw returns the stored bytes. Store errors are logged and reported as a
// miss.
func (c *Cache) getRaw(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	b, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.observe("get", "miss")
		return nil, false
	case err != nil:
		c.log.Warn("cache read failed", "key", key, "error", err)
		c.observe("get", "error")
		return nil, false
	}
	c.observe("get", "hit")
	return b, true
}

// Get returns the value stored under key. An undecodable entry is dropped and
// reported as a miss.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	b, ok := c.getRaw(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil {
		c.log.Warn("dropping undecodable cache entry", "key", key, "error", err)
		c.Del(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// Set stores value under key for ttl. Failures are logged.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value not serializable", "key", key, "error", err)
		c.observe("set", "error")
		return
	}
	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
		c.observe("set", "error")
		return
	}
	c.observe("set", "ok")
}

// Del removes keys. Failures are logged.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache delete failed", "keys", keys, "error", err)
		c.observe("del", "error")
		return
	}
	c.observe("del", "ok")
}

// DelPattern removes every key matching the glob pattern using cursor-based
// SCAN, never KEYS. It returns the number of keys removed.
func (c *Cache) DelPattern(ctx context.Context, pattern string) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	// Keys are collected before deleting so the cursor walks a stable keyspace.
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		n, err := c.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

// GetOrSet returns the cached value under key, or calls fetch on a miss. The
// fresh value is returned immediately and written back asynchronously; a
// failed write never fails the read. The boolean reports a cache hit.
//
// Concurrent misses for the same key each call fetch. The write-back is
// dropped when the tenant was invalidated while fetch ran, so a value read
// before a mutation never outlives that mutation's invalidation.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, bool, error) {
	if v, ok := Get[T](ctx, c, key); ok {
		return v, true, nil
	}

	genKey := generationKeyOf(key)
	gen, genOK := c.generation(ctx, genKey)

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	if c.Enabled() && genOK {
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			defer cancel()
			c.setIfGeneration(wctx, key, v, ttl, genKey, gen)
		}()
	}
	return v, false, nil
}

// errStale aborts a write-back that lost a race with an invalidation.
var errStale = errors.New("cache generation changed")

// generation reads the tenant's invalidation counter. ok is false when the
// store cannot be read; no write-back is attempted then.
func (c *Cache) generation(ctx context.Context, genKey string) (string, bool) {
	if !c.Enabled() || genKey == "" {
		return "", c.Enabled()
	}
	gen, err := c.client.Get(ctx, genKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", true
	case err != nil:
		c.log.Warn("cache generation read failed", "key", genKey, "error", err)
		return "", false
	}
	return gen, true
}

// setIfGeneration stores value only while the tenant generation still equals
// gen. The check and the write run under WATCH.
func (c *Cache) setIfGeneration(ctx context.Context, key string, value any, ttl time.Duration, genKey, gen string) {
	if genKey == "" {
		c.Set(ctx, key, value, ttl)
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value not serializable", "key", key, "error", err)
		c.observe("set", "error")
		return
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		c.log.Debug("dropping write-back after invalidation", "key", key)
		c.observe("set", "stale")
	case err != nil:
		c.log.Warn("cache write failed", "key", key, "error", err)
		c.observe("set", "error")
	default:
		c.observe("set", "ok")
	}
}

// bumpGeneration advances the tenant's invalidation counter.
func (c *Cache) bumpGeneration(ctx context.Context, tenant string) {
	genKey := GenerationKey(tenant)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	})
	if err != nil {
		c.log.Warn("cache generation bump failed", "tenant", tenant, "error", err)
	}
}

func (c *Cache) observe(op, result string) {
	if c.metrics != nil {
		c.metrics.CacheOperations.WithLabelValues(op, result).Inc()
	}
}
