// Package ratelimit implements a sliding-window rate limiter over Redis
// sorted sets.
//
// Each key holds one member per admitted-or-denied request, scored by its
// arrival time in milliseconds. Trimming, counting, inserting and refreshing
// the TTL run in one MULTI/EXEC so concurrent requests for the same key
// cannot interleave between count and insert.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"procodus.dev/iot-dashboard/pkg/metrics"
)

// keyPrefix namespaces limiter keys in the shared store.
const keyPrefix = "ratelimit:"

// expiryBuffer is added to the window when refreshing a key's TTL.
const expiryBuffer = time.Second

// Result is the outcome of a single limit check.
type Result struct {
	Rule      string
	Allowed   bool
	Current   int
	Limit     int
	Remaining int
	// ResetIn is the number of seconds until the oldest entry leaves the window.
	ResetIn int
	// RetryAfter is set on denials.
	RetryAfter int
	// Degraded marks a fail-open result produced while the store was unavailable.
	Degraded bool
}

// Config configures a Limiter.
type Config struct {
	Client  redis.UniversalClient
	Logger  *slog.Logger
	Enabled bool
	Metrics *metrics.APIMetrics
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Limiter checks sliding-window limits. It is safe for concurrent use.
type Limiter struct {
	client  redis.UniversalClient
	log     *slog.Logger
	enabled bool
	metrics *metrics.APIMetrics
	now     func() time.Time
}

// New creates a Limiter. A nil client is allowed only when disabled.
func New(cfg Config) (*Limiter, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Enabled && cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil when rate limiting is enabled")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		client:  cfg.Client,
		log:     cfg.Logger.With("component", "ratelimit"),
		enabled: cfg.Enabled,
		metrics: cfg.Metrics,
		now:     now,
	}, nil
}

// Enabled reports whether checks consult the store.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// Key returns the store key for a rule and identifier.
func Key(rule, identifier string) string {
	return keyPrefix + rule + ":" + identifier
}

// Check records one request for identifier under rule and reports whether it
// is admitted. It never returns an error: store failures fail open.
func (l *Limiter) Check(ctx context.Context, identifier string, rule Rule) Result {
	if !l.enabled {
		return Result{
			Rule:      rule.Name,
			Allowed:   true,
			Limit:     rule.Max,
			Remaining: rule.Max,
			ResetIn:   rule.WindowSeconds(),
		}
	}

	key := Key(rule.Name, identifier)
	nowMs := l.now().UnixMilli()
	windowMs := rule.Window.Milliseconds()
	cutoff := nowMs - windowMs
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
		pipe.Expire(ctx, key, rule.Window+expiryBuffer)
		return nil
	})
	if err != nil {
		l.log.Warn("rate limit store unavailable, failing open",
			"rule", rule.Name, "identifier", identifier, "error", err)
		l.observe(rule.Name, "degraded")
		return Result{
			Rule:      rule.Name,
			Allowed:   true,
			Limit:     rule.Max,
			Remaining: rule.Max,
			ResetIn:   rule.WindowSeconds(),
			Degraded:  true,
		}
	}

	before := int(card.Val())
	current := before + 1

	resetIn := rule.WindowSeconds()
	if zs := oldest.Val(); len(zs) > 0 {
		resetIn = ceilSeconds(int64(zs[0].Score) + windowMs - nowMs)
	}

	res := Result{
		Rule:      rule.Name,
		Allowed:   before < rule.Max,
		Current:   current,
		Limit:     rule.Max,
		Remaining: max(0, rule.Max-current),
		ResetIn:   resetIn,
	}
	if !res.Allowed {
		res.RetryAfter = max(1, resetIn)
		l.log.Debug("rate limit exceeded",
			"rule", rule.Name, "identifier", identifier, "current", current, "limit", rule.Max)
		l.observe(rule.Name, "denied")
	} else {
		l.observe(rule.Name, "allowed")
	}
	return res
}

// Limit pairs an identifier with the rule it is checked against.
type Limit struct {
	Identifier string
	Rule       Rule
}

// CheckMultiple evaluates every limit in parallel. It returns the first
// denial in argument order; when all are admitted it returns the binding
// limit, the one with the fewest remaining requests, ties broken by the
// highest usage ratio.
func (l *Limiter) CheckMultiple(ctx context.Context, limits []Limit) Result {
	if len(limits) == 0 {
		return Result{Allowed: true}
	}

	results := make([]Result, len(limits))
	var wg sync.WaitGroup
	for i, lim := range limits {
		wg.Add(1)
		go func(i int, lim Limit) {
			defer wg.Done()
			results[i] = l.Check(ctx, lim.Identifier, lim.Rule)
		}(i, lim)
	}
	wg.Wait()

	for _, r := range results {
		if !r.Allowed {
			return r
		}
	}

	binding := results[0]
	for _, r := range results[1:] {
		if r.Remaining < binding.Remaining ||
			(r.Remaining == binding.Remaining && ratio(r) > ratio(binding)) {
			binding = r
		}
	}
	return binding
}

// Reset deletes the window for identifier under ruleName.
func (l *Limiter) Reset(ctx context.Context, identifier, ruleName string) error {
	if l.client == nil {
		return nil
	}
	if err := l.client.Del(ctx, Key(ruleName, identifier)).Err(); err != nil {
		return err
	}
	l.log.Info("rate limit reset", "rule", ruleName, "identifier", identifier)
	return nil
}

func (l *Limiter) observe(rule, outcome string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(rule, outcome).Inc()
	}
}

func ratio(r Result) float64 {
	if r.Limit <= 0 {
		return 0
	}
	return float64(r.Current) / float64(r.Limit)
}

func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}
