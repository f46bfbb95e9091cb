// Package database holds the low-level substrate connection.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"streamq/internal/config"
)

// RedisDB wraps the Redis connection used as the broker's stream substrate.
type RedisDB struct {
	Client *redis.Client
	logger *slog.Logger
}

// NewRedisDB opens and pings a Redis connection per the given RedisConfig.
func NewRedisDB(cfg config.RedisConfig, logger *slog.Logger) (*RedisDB, error) {
	var opt *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.MaxRetries > 0 {
		opt.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("connected to redis substrate", "addr", opt.Addr)

	return &RedisDB{Client: client, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (r *RedisDB) Close() error {
	r.logger.Info("closing redis connection")
	return r.Client.Close()
}

// Ping measures substrate round-trip latency for the health endpoint.
func (r *RedisDB) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := r.Client.Ping(ctx).Err()
	return time.Since(start), err
}

// PoolStats exposes connection pool statistics for metrics.
func (r *RedisDB) PoolStats() *redis.PoolStats {
	return r.Client.PoolStats()
}
