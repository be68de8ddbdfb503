package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// Report task types.
const (
	TypeDailyReport = "report:daily"

	// QueueReports is the queue daily report tasks are placed on.
	QueueReports = "reports"
)

// DailyReportPayload is the payload of a daily report task.
type DailyReportPayload struct {
	TenantID string `json:"tenant_id"`
	Date     string `json:"date"`
}

// NewDailyReportTask creates a report task for tenantID on the given day.
// The task id is derived from tenant and date so a report is queued at most
// once per day even when several instances enqueue it.
func NewDailyReportTask(tenantID shared.ID, day time.Time) (*asynq.Task, error) {
	payload := DailyReportPayload{
		TenantID: tenantID.String(),
		Date:     day.UTC().Format(time.DateOnly),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeDailyReport, data,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Queue(QueueReports),
		asynq.TaskID(dailyReportTaskID(payload)),
		asynq.Retention(24*time.Hour),
	), nil
}

func dailyReportTaskID(p DailyReportPayload) string {
	return TypeDailyReport + ":" + p.TenantID + ":" + p.Date
}

// ReportGenerator produces the daily report for a tenant.
type ReportGenerator interface {
	Generate(ctx context.Context, tenantID shared.ID) (*monitor.Report, error)
}

// ReportTaskHandler handles daily report tasks.
type ReportTaskHandler struct {
	generator ReportGenerator
	logger    *logger.Logger
}

// NewReportTaskHandler creates a new ReportTaskHandler.
func NewReportTaskHandler(generator ReportGenerator, log *logger.Logger) *ReportTaskHandler {
	return &ReportTaskHandler{
		generator: generator,
		logger:    log.With("component", "report_task_handler"),
	}
}

// RegisterHandlers registers report handlers on mux.
func (h *ReportTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDailyReport, h.HandleDailyReport)
}

// HandleDailyReport generates one tenant's daily report.
// Malformed payloads are not retried.
func (h *ReportTaskHandler) HandleDailyReport(ctx context.Context, t *asynq.Task) error {
	var payload DailyReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := shared.IDFromString(payload.TenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", payload.TenantID, asynq.SkipRetry)
	}

	h.logger.Info("processing daily report", "tenant_id", payload.TenantID, "date", payload.Date)

	report, err := h.generator.Generate(ctx, tenantID)
	if err != nil {
		h.logger.Error("daily report failed", "tenant_id", payload.TenantID, "error", err)
		return fmt.Errorf("generate daily report: %w", err)
	}

	h.logger.Info("daily report completed",
		"tenant_id", payload.TenantID,
		"score", report.Score,
		"location", report.Location,
	)
	return nil
}
