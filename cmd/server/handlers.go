package main

import (
	"fmt"
	"time"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/internal/infra/http/handler"
	"github.com/openctemio/secmon/internal/infra/http/middleware"
	"github.com/openctemio/secmon/internal/infra/http/routes"
	"github.com/openctemio/secmon/internal/infra/redis"
	"github.com/openctemio/secmon/internal/infra/websocket"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Validator   *validator.Validator
	Repos       *Repositories
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	var checks []handler.HealthHandlerOption
	if deps.Repos.DB != nil {
		checks = append(checks, handler.WithCheck("database", deps.Repos.DB))
	}
	if deps.RedisClient != nil {
		checks = append(checks, handler.WithCheck("redis", deps.RedisClient))
	}

	return routes.Handlers{
		Health:    handler.NewHealthHandler(checks...),
		Scan:      handler.NewScanHandler(svc.Monitor, deps.Validator, log),
		Score:     handler.NewScoreHandler(svc.Monitor),
		WebSocket: websocket.NewHandler(svc.Hub, cfg.CORS.AllowedOrigins, log),
	}
}

// NewScanStartLimiter picks the Redis limiter when Redis is available so the
// budget is shared across instances. The returned stop func is never nil.
func NewScanStartLimiter(cfg *config.RateLimitConfig, client *redis.Client) (middleware.Limiter, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	if client != nil {
		limit := max(cfg.Burst, 1)
		window := time.Duration(float64(limit) / cfg.RequestsPerSec * float64(time.Second))
		rl, err := redis.NewRateLimiter(client, "ratelimit:scan_start", limit, window)
		if err != nil {
			return nil, noop, fmt.Errorf("create rate limiter: %w", err)
		}
		return middleware.NewRedisLimiter(rl), noop, nil
	}

	local := middleware.NewLocalLimiter(cfg)
	return local, local.Stop, nil
}
