// Package routes registers all HTTP routes for the API.
package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/openctemio/secmon/internal/infra/http"
	"github.com/openctemio/secmon/internal/infra/http/handler"
	"github.com/openctemio/secmon/internal/infra/http/middleware"
	"github.com/openctemio/secmon/internal/infra/websocket"
	"github.com/openctemio/secmon/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health    *handler.HealthHandler
	Scan      *handler.ScanHandler
	Score     *handler.ScoreHandler
	WebSocket *websocket.Handler // nil disables the realtime endpoint
}

// Options tunes route registration.
type Options struct {
	// ScanStartLimiter throttles POST /api/v1/scans per tenant. Nil disables it.
	ScanStartLimiter middleware.Limiter
}

// Register registers all application routes.
func Register(router Router, h Handlers, opts Options, log *logger.Logger) {
	registerHealthRoutes(router, h.Health)

	router.Group("/api/v1", func(r Router) {
		registerScanRoutes(r, h.Scan, opts.ScanStartLimiter, log)
		r.GET("/security/score", h.Score.GetScore)
		if h.WebSocket != nil {
			r.GET("/ws", h.WebSocket.ServeWS)
		}
	}, middleware.Tenant())
}

func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.Handle("/metrics", promhttp.Handler())
}

func registerScanRoutes(r Router, h *handler.ScanHandler, limiter middleware.Limiter, log *logger.Logger) {
	var startMiddlewares []Middleware
	if limiter != nil {
		startMiddlewares = append(startMiddlewares, middleware.RateLimit("scan_start", limiter, log))
	}

	r.POST("/scans", h.StartScan, startMiddlewares...)
	r.GET("/scans", h.ListScans)
	r.GET("/scans/{id}", h.GetScan)
}
