// Package kvstore opens the shared Redis store used for rate limiting and
// caching.
package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds dial and command round trips.
const DefaultTimeout = 3 * time.Second

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout applies to dial, read and write. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Open creates a client and pings it once. An unreachable store is logged
// and the client is still returned: every consumer fails open, and go-redis
// reconnects on its own when the store comes back.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cfg.Logger.Warn("redis unreachable, rate limiting and caching will fail open",
			"addr", cfg.Addr, "error", err)
	} else {
		cfg.Logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	}

	return client, nil
}

// Healthy reports whether the store answers a ping within the timeout.
func Healthy(ctx context.Context, client redis.UniversalClient, timeout time.Duration) bool {
	if client == nil {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}
