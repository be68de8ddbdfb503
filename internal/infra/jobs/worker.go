package jobs

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/secmon/pkg/logger"
)

const defaultConcurrency = 4

// Worker runs the asynq server consuming report tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker serves daily report tasks with concurrency goroutines, or a
// default when concurrency is not positive.
func NewWorker(conn asynq.RedisConnOpt, concurrency int, reports ReportGenerator, log *logger.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	log = log.With("component", "job_worker")

	mux := asynq.NewServeMux()
	NewReportTaskHandler(reports, log).RegisterHandlers(mux)

	return &Worker{
		server: asynq.NewServer(conn, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueReports: 1},
			Logger:      asynqLogger{log},
		}),
		mux:    mux,
		logger: log,
	}
}

// Start begins consuming tasks without blocking.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start job worker: %w", err)
	}
	w.logger.Info("job worker started")
	return nil
}

// Stop waits for in-progress tasks, up to asynq's shutdown timeout.
func (w *Worker) Stop() {
	w.server.Shutdown()
	w.logger.Info("job worker stopped")
}

// asynqLogger adapts the service logger to asynq.Logger.
type asynqLogger struct{ log *logger.Logger }

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
