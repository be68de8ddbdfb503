package main

import (
	"context"
	"time"

	"github.com/openctemio/secmon/internal/app/scheduler"
	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/internal/infra/jobs"
	"github.com/openctemio/secmon/internal/infra/redis"
	"github.com/openctemio/secmon/pkg/logger"
)

const poolStatsInterval = 15 * time.Second

// Workers holds the background loops.
type Workers struct {
	Scheduler *scheduler.Scheduler
	JobWorker *jobs.Worker

	redisClient   *redis.Client
	stopPoolStats func()
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	RedisClient *redis.Client
	Services    *Services
}

// NewWorkers initializes the background workers.
func NewWorkers(deps *WorkerDeps) *Workers {
	cfg := deps.Config
	w := &Workers{
		Scheduler:   deps.Services.Scheduler,
		redisClient: deps.RedisClient,
	}

	if cfg.Queue.Enabled {
		w.JobWorker = jobs.NewWorker(jobs.RedisOpt(&cfg.Redis), cfg.Queue.Concurrency, deps.Services.Reports, deps.Log)
	}
	return w
}

// Start starts all workers.
func (w *Workers) Start(ctx context.Context, log *logger.Logger) error {
	if err := w.Scheduler.Start(ctx); err != nil {
		return err
	}
	log.Info("scheduler started", "tasks", w.Scheduler.TaskNames())

	if w.JobWorker != nil {
		if err := w.JobWorker.Start(); err != nil {
			return err
		}
	}

	if w.redisClient != nil {
		w.stopPoolStats = redis.StartPoolStatsCollector(ctx, w.redisClient, poolStatsInterval)
	}
	return nil
}

// Stop stops all workers. Running task bodies are waited for.
func (w *Workers) Stop(log *logger.Logger) {
	if w.stopPoolStats != nil {
		w.stopPoolStats()
	}
	if w.JobWorker != nil {
		w.JobWorker.Stop()
	}
	if err := w.Scheduler.Stop(); err != nil {
		log.Warn("scheduler stop", "error", err)
	}
	log.Info("workers stopped")
}
