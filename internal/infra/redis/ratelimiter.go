package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript trims the window, then records the request if under limit.
// Returns {allowed, remaining, retry_at_ms}.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])
	local limit = tonumber(ARGV[4])
	local request_id = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, request_id)
		redis.call('PEXPIRE', key, window_ms)
		return {1, limit - count - 1, now + window_ms}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_at = oldest[2] and (tonumber(oldest[2]) + window_ms) or (now + window_ms)
	return {0, 0, retry_at}
`)

// RateLimiter is a sliding-window-log limiter shared by every instance.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	limit     int
	window    time.Duration
}

// RateLimitResult is the outcome of one Allow call.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// NewRateLimiter creates a distributed limiter allowing limit requests per window.
func NewRateLimiter(client *Client, prefix string, limit int, window time.Duration) (*RateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: prefix,
		limit:     limit,
		window:    window,
	}, nil
}

// Allow consumes one request for key if the window has room.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	now := time.Now()
	done := Timed("ratelimit_allow")
	raw, err := allowScript.Run(ctx, rl.client.rdb, []string{cacheKey(rl.keyPrefix, key)},
		now.UnixMilli(),
		now.Add(-rl.window).UnixMilli(),
		rl.window.Milliseconds(),
		rl.limit,
		uuid.NewString(),
	).Slice()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	return parseAllowResult(raw)
}

// Limit returns the configured maximum requests per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

func parseAllowResult(raw []any) (*RateLimitResult, error) {
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected reply length %d", len(raw))
	}
	allowed, ok1 := raw[0].(int64)
	remaining, ok2 := raw[1].(int64)
	retryAt, ok3 := raw[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("rate limit check: unexpected reply types")
	}

	res := &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
	}
	if !res.Allowed {
		res.RetryAt = time.UnixMilli(retryAt)
	}
	return res, nil
}
