package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/logger"
)

const (
	connectBackoffMin = 100 * time.Millisecond
	connectBackoffMax = 3 * time.Second
)

// Client is the shared connection used by the cache, the scan job store,
// the event relay and the rate limiter.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New connects to Redis, retrying the initial ping with exponential backoff
// up to cfg.MaxRetries times. It gives up early when ctx is cancelled.
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil || log == nil {
		return nil, errors.New("redis: config and logger are required")
	}

	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: connectBackoffMin,
		MaxRetryBackoff: connectBackoffMax,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev setups
			MinVersion:         tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	log = log.With("component", "redis", "addr", cfg.Addr())

	if err := ping(ctx, rdb, cfg, log); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info("redis connected", "pool_size", cfg.PoolSize, "tls", cfg.TLSEnabled)
	return &Client{rdb: rdb, logger: log}, nil
}

func ping(ctx context.Context, rdb *redis.Client, cfg *config.RedisConfig, log *logger.Logger) error {
	backoff := connectBackoffMin
	var err error
	for attempt := range cfg.MaxRetries + 1 {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil || attempt == cfg.MaxRetries {
			break
		}

		log.Warn("redis not reachable, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, connectBackoffMax)
	}
	if err != nil {
		return fmt.Errorf("redis connect after %d attempts: %w", cfg.MaxRetries+1, err)
	}
	return nil
}

// Ping reports whether Redis answers. Used by the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.rdb.Close()
}
