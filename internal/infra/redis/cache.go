package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache stores JSON-encoded values of one type under "<prefix>:<key>".
// It backs the last-known-good security score, so a restarted or scaled-out
// instance can still answer with a recent snapshot when its stores fail.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache. ttl applies to every Set.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	switch {
	case client == nil:
		return nil, errors.New("cache: redis client is required")
	case prefix == "":
		return nil, errors.New("cache: key prefix is required")
	case ttl <= 0:
		return nil, errors.New("cache: ttl must be positive")
	}
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}, nil
}

func cacheKey(prefix, key string) string {
	return prefix + ":" + key
}

// Get returns the cached value, or ErrCacheMiss.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	done := Timed("cache_get")
	data, err := c.client.rdb.Get(ctx, cacheKey(c.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		done(nil)
		DefaultMetrics.RecordCacheLookup(c.prefix, false)
		return nil, ErrCacheMiss
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		// A value written by an older build is treated as absent.
		DefaultMetrics.RecordCacheLookup(c.prefix, false)
		c.client.logger.Warn("dropping undecodable cache entry", "prefix", c.prefix, "key", key, "error", err)
		return nil, ErrCacheMiss
	}
	DefaultMetrics.RecordCacheLookup(c.prefix, true)
	return &value, nil
}

// Set stores value, replacing any previous entry and resetting its TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}

	done := Timed("cache_set")
	err = c.client.rdb.Set(ctx, cacheKey(c.prefix, key), data, c.ttl).Err()
	done(err)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
