package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/internal/infra/http"
	"github.com/openctemio/secmon/internal/infra/http/routes"
	"github.com/openctemio/secmon/internal/infra/redis"
	"github.com/openctemio/secmon/internal/infra/telemetry"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/validator"
)

// Command line flags.
var showRoutes = flag.Bool("routes", false, "Print all registered routes and exit")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		logger.NewProduction().Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application",
		"app", cfg.App.Name,
		"env", cfg.App.Env,
		"store", cfg.Database.Driver,
	)

	shutdownTracing, err := telemetry.Setup(ctx, &cfg.Tracing, &cfg.App, log)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		return 1
	}

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	repos, err := NewRepositories(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize store", "error", err)
		return 1
	}
	defer closeWithLog(repos, "store", log)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer closeWithLog(redisClient, "redis", log)
	}

	// ==========================================================================
	// Services
	// ==========================================================================
	services, err := NewServices(ctx, &ServiceDeps{
		Config:      cfg,
		Log:         log,
		Repos:       repos,
		RedisClient: redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	limiter, stopLimiter, err := NewScanStartLimiter(&cfg.RateLimit, redisClient)
	if err != nil {
		log.Error("failed to initialize rate limiter", "error", err)
		return 1
	}

	handlers := NewHandlers(&HandlerDeps{
		Config:      cfg,
		Log:         log,
		Validator:   validator.New(),
		Repos:       repos,
		RedisClient: redisClient,
		Services:    services,
	})

	server := http.NewServer(cfg, log, http.WithCleanup(stopLimiter))
	routes.Register(server.Router(), handlers, routes.Options{ScanStartLimiter: limiter}, log)

	if *showRoutes {
		http.PrintRoutes(os.Stdout, http.CollectRoutes(server.Router()))
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go services.Hub.Run(hubCtx)
	log.Info("websocket hub started")

	workers := NewWorkers(&WorkerDeps{
		Config:      cfg,
		Log:         log,
		RedisClient: redisClient,
		Services:    services,
	})
	if err := workers.Start(ctx, log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("shutting down...", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first, then the producers of events, then the
	// consumers.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}

	workers.Stop(log)

	if err := services.Scans.Shutdown(shutdownCtx); err != nil {
		log.Warn("scan jobs did not finish before shutdown", "in_flight", services.Scans.InFlight(), "error", err)
	}

	closeWithLog(services, "services", log)
	hubCancel()
	log.Info("websocket hub stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("failed to flush traces", "error", err)
	}

	log.Info("application stopped")
	return exitCode
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
