package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/hashicorp/go-hclog"
)

// expiryHeaderSize is the per-entry deadline prefix, in bytes.
const expiryHeaderSize = 8

// Memory is an in-process cache backed by bigcache. bigcache evicts by a
// single life window; per-entry TTLs shorter than that are enforced on read.
type Memory struct {
	cache  *bigcache.BigCache
	logger hclog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewMemory creates an in-process cache whose entries live at most lifetime.
func NewMemory(ctx context.Context, lifetime time.Duration, logger hclog.Logger) (*Memory, error) {
	if lifetime <= 0 {
		return nil, fmt.Errorf("memory cache lifetime must be positive, got %s", lifetime)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	config := bigcache.DefaultConfig(lifetime)
	config.Shards = 64
	config.MaxEntriesInWindow = 4096
	config.MaxEntrySize = 2048
	config.CleanWindow = max(time.Second, lifetime/2)
	config.Verbose = false
	config.Logger = logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	logger.Info("Using in-memory result cache", "lifetime", lifetime.String())
	return &Memory{
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Get returns the value stored under key unless it has expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := m.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memory cache get %q: %w", key, err)
	}
	if len(raw) < expiryHeaderSize {
		_ = m.cache.Delete(key)
		return nil, false, nil
	}

	deadline := int64(binary.BigEndian.Uint64(raw[:expiryHeaderSize]))
	if deadline != 0 && m.now().UnixNano() >= deadline {
		_ = m.cache.Delete(key)
		return nil, false, nil
	}

	return raw[expiryHeaderSize:], true, nil
}

// Set stores value under key. A non-positive ttl leaves expiry to the
// cache's life window.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = m.now().Add(ttl).UnixNano()
	}

	entry := make([]byte, expiryHeaderSize+len(value))
	binary.BigEndian.PutUint64(entry[:expiryHeaderSize], uint64(deadline))
	copy(entry[expiryHeaderSize:], value)

	if err := m.cache.Set(key, entry); err != nil {
		return fmt.Errorf("memory cache set %q: %w", key, err)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	return m.cache.Len()
}

// Close stops the cache's cleanup goroutine. It is safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.cache.Close()
}
