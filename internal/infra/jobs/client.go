package jobs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// RedisOpt builds the asynq connection from the service's Redis settings.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev setups
		}
	}
	return opt
}

// Client enqueues report tasks.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
	now    func() time.Time
}

var _ monitor.ReportEnqueuer = (*Client)(nil)

func NewClient(conn asynq.RedisConnOpt, log *logger.Logger) *Client {
	return &Client{
		client: asynq.NewClient(conn),
		logger: log.With("component", "job_client"),
		now:    time.Now,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDailyReport queues today's report for tenantID. A report already
// queued for the same day is not an error.
func (c *Client) EnqueueDailyReport(ctx context.Context, tenantID shared.ID) error {
	task, err := NewDailyReportTask(tenantID, c.now())
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		c.logger.DebugContext(ctx, "daily report already queued", "tenant_id", tenantID.String())
		return nil
	case err != nil:
		return fmt.Errorf("enqueue daily report for %s: %w", tenantID, err)
	}

	c.logger.InfoContext(ctx, "daily report queued",
		"task_id", info.ID,
		"tenant_id", tenantID.String(),
		"queue", info.Queue,
	)
	return nil
}
