package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// redisClient is the part of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ redisClient = (*redis.Client)(nil)

// Redis is a cache shared between gateway instances.
type Redis struct {
	client redisClient
	prefix string
	logger hclog.Logger
}

// NewRedis connects to the first of cfg.Servers. An unreachable server is
// logged, not fatal: every lookup then misses until it comes back.
func NewRedis(ctx context.Context, cfg *Config, logger hclog.Logger) (*Redis, error) {
	if len(cfg.Servers) == 0 || cfg.Servers[0] == "" {
		return nil, fmt.Errorf("redis cache requires at least one server address")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Servers[0],
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	c := newRedis(client, cfg.Prefix, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis cache unreachable, continuing without it until it recovers",
			"addr", cfg.Servers[0],
			"error", err)
	} else {
		logger.Info("Using redis result cache", "addr", cfg.Servers[0], "db", cfg.DB)
	}

	return c, nil
}

func newRedis(client redisClient, prefix string, logger hclog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key for ttl. A non-positive ttl stores without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Close closes the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
