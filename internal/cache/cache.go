// Package cache provides a Redis-backed read-through cache with a
// disabled mode that turns every operation into a no-op. Cache failures
// are reported to callers but are never fatal to a request.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds cache settings.
type Config struct {
	Enabled    bool
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
}

// Cache wraps a Redis client. A nil client means the cache is disabled.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// New creates a cache. When cfg.Enabled is false no connection is made
// and every method is a cheap no-op.
func New(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.DefaultTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	c := &Cache{defaultTTL: ttl, logger: logger}
	if !cfg.Enabled {
		logger.Info("Cache disabled, operating in pass-through mode")
		return c
	}
	c.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return c
}

// NewWithClient wraps an existing client, used by tests with miniredis.
func NewWithClient(client *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL == 0 {
		defaultTTL = time.Hour
	}
	return &Cache{client: client, defaultTTL: defaultTTL, logger: logger}
}

// Enabled reports whether a backing client exists.
func (c *Cache) Enabled() bool { return c.client != nil }

// MakeKey joins parts into a namespaced cache key.
func MakeKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get returns the raw value and whether it was present. A disabled cache
// always misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if c.client == nil {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetJSON unmarshals a cached value into out, reporting presence.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// A corrupt entry behaves like a miss; drop it so the caller's
		// fresh write replaces it.
		c.logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// Set stores a value. A zero ttl uses the default.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// SetJSON marshals and stores a value.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(raw), ttl)
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key matching a glob pattern using SCAN,
// never KEYS, so large keyspaces stay responsive.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if c.client == nil {
		return 0, nil
	}
	var deleted int
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Healthcheck pings the backend; a disabled cache is always healthy.
func (c *Cache) Healthcheck(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the client connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
