// Package cache stores serialized search results between requests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Backend names accepted in configuration.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is a key/value store for serialized results. A miss is reported as
// found=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Config selects and configures a cache backend.
type Config struct {
	Backend  string
	Lifetime time.Duration
	Servers  []string
	Password string
	DB       int
	Prefix   string
}

// New creates the cache selected by cfg.Backend. The redis backend does not
// require the server to be reachable at startup.
func New(ctx context.Context, cfg *Config, logger hclog.Logger) (Cache, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg == nil {
		return Nop(), nil
	}

	switch cfg.Backend {
	case "", BackendNone:
		logger.Debug("Result cache disabled")
		return Nop(), nil
	case BackendMemory:
		return NewMemory(ctx, cfg.Lifetime, logger)
	case BackendRedis:
		return NewRedis(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type nopCache struct{}

// Nop returns a cache that stores nothing.
func Nop() Cache {
	return nopCache{}
}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (nopCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (nopCache) Close() error {
	return nil
}
