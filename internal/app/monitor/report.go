package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/secmon/internal/app/score"
	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// Report is the daily security summary for one tenant.
type Report struct {
	TenantID          shared.ID `json:"tenant_id"`
	Date              string    `json:"date"`
	Score             int       `json:"score"`
	TotalAssets       int64     `json:"total_assets"`
	VulnerableAssets  int64     `json:"vulnerable_assets"`
	CriticalOpenVulns int64     `json:"critical_open_vulns"`
	ActiveAlerts      int64     `json:"active_alerts"`
	Stale             bool      `json:"stale"`
	Location          string    `json:"location,omitempty"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// ReportArchive persists generated reports and returns where they were written.
type ReportArchive interface {
	Store(ctx context.Context, r Report) (string, error)
}

// ReportEnqueuer hands report generation to a background queue.
type ReportEnqueuer interface {
	EnqueueDailyReport(ctx context.Context, tenantID shared.ID) error
}

// ScoreSource returns the current score snapshot for a tenant.
type ScoreSource interface {
	Current(ctx context.Context, tenantID shared.ID) score.Snapshot
}

// ReportGenerator builds, archives and announces daily reports.
type ReportGenerator struct {
	scores    ScoreSource
	archive   ReportArchive
	publisher event.Publisher
	logger    *logger.Logger
}

// NewReportGenerator creates a generator. archive may be nil.
func NewReportGenerator(scores ScoreSource, archive ReportArchive, publisher event.Publisher, log *logger.Logger) *ReportGenerator {
	return &ReportGenerator{
		scores:    scores,
		archive:   archive,
		publisher: publisher,
		logger:    log.With("component", "report"),
	}
}

// Generate builds the report for tenantID and publishes security-daily-report.
// An archive failure is returned after the event has been published.
func (g *ReportGenerator) Generate(ctx context.Context, tenantID shared.ID) (*Report, error) {
	snap := g.scores.Current(ctx, tenantID)
	now := time.Now().UTC()

	r := Report{
		TenantID:          tenantID,
		Date:              now.Format(time.DateOnly),
		Score:             snap.Score,
		TotalAssets:       snap.TotalAssets,
		VulnerableAssets:  snap.VulnerableAssets,
		CriticalOpenVulns: snap.CriticalOpenVulns,
		ActiveAlerts:      snap.ActiveAlerts,
		Stale:             snap.Stale,
		GeneratedAt:       now,
	}

	var archiveErr error
	if g.archive != nil {
		loc, err := g.archive.Store(ctx, r)
		if err != nil {
			archiveErr = fmt.Errorf("archive report: %w", err)
			g.logger.Error("failed to archive daily report",
				"tenant_id", tenantID.String(),
				"error", err,
			)
		} else {
			r.Location = loc
		}
	}

	g.publisher.Publish(ctx, event.New(event.SecurityDailyReport, tenantID, r))

	result := "success"
	if archiveErr != nil {
		result = "archive_failed"
	}
	metrics.ReportsGeneratedTotal.WithLabelValues(result).Inc()

	g.logger.Info("daily report generated",
		"tenant_id", tenantID.String(),
		"score", r.Score,
		"location", r.Location,
	)
	return &r, archiveErr
}
