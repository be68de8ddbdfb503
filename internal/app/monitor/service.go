// Package monitor wires the background security cycles onto the scheduler and
// exposes the score and scan entry points used by the route layer.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/secmon/internal/app/detector"
	"github.com/openctemio/secmon/internal/app/ingest"
	"github.com/openctemio/secmon/internal/app/scan"
	"github.com/openctemio/secmon/internal/app/scheduler"
	"github.com/openctemio/secmon/internal/app/score"
	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/tenant"
	"github.com/openctemio/secmon/pkg/logger"
)

// Task names.
const (
	TaskSecurityChecks   = "security-checks"
	TaskSecurityMetrics  = "security-metrics"
	TaskDailyReport      = "daily-report"
	TaskPassiveDiscovery = "passive-discovery"
)

// Config holds the cadences of the background cycles.
type Config struct {
	CheckInterval            time.Duration
	MetricsInterval          time.Duration
	DailyReportCron          string
	PassiveDiscoveryInterval time.Duration
	// StaleAssetAge is how long an asset may go unscanned before an alert is raised.
	StaleAssetAge time.Duration
	// CheckAssetLimit bounds how many online assets one check cycle inspects.
	CheckAssetLimit int
}

// DefaultConfig returns the standard cadences.
func DefaultConfig() Config {
	return Config{
		CheckInterval:            5 * time.Minute,
		MetricsInterval:          30 * time.Second,
		DailyReportCron:          "0 8 * * *",
		PassiveDiscoveryInterval: time.Hour,
		StaleAssetAge:            7 * 24 * time.Hour,
		CheckAssetLimit:          5,
	}
}

// Deps groups the collaborators of the monitoring service.
type Deps struct {
	Tenants   tenant.Lister
	Assets    asset.Repository
	Alerts    alert.Repository
	Detector  detector.Detector
	Pipeline  *ingest.Pipeline
	Scores    *score.Service
	Scans     *scan.Orchestrator
	Reports   *ReportGenerator
	Enqueuer  ReportEnqueuer
	Publisher event.Publisher
}

// Service runs the per-tenant security cycles.
type Service struct {
	deps   Deps
	config Config
	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a monitoring service. Zero config values fall back to DefaultConfig.
func NewService(deps Deps, cfg Config, log *logger.Logger) *Service {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = def.MetricsInterval
	}
	if cfg.DailyReportCron == "" {
		cfg.DailyReportCron = def.DailyReportCron
	}
	if cfg.PassiveDiscoveryInterval <= 0 {
		cfg.PassiveDiscoveryInterval = def.PassiveDiscoveryInterval
	}
	if cfg.StaleAssetAge <= 0 {
		cfg.StaleAssetAge = def.StaleAssetAge
	}
	if cfg.CheckAssetLimit <= 0 {
		cfg.CheckAssetLimit = def.CheckAssetLimit
	}

	return &Service{
		deps:   deps,
		config: cfg,
		logger: log.With("component", "monitor"),
		tracer: otel.Tracer("github.com/openctemio/secmon/internal/app/monitor"),
	}
}

// Register adds the security cycles to s.
func (m *Service) Register(s *scheduler.Scheduler) error {
	if err := s.Register(TaskSecurityChecks, m.config.CheckInterval, m.RunChecks); err != nil {
		return err
	}
	if err := s.Register(TaskSecurityMetrics, m.config.MetricsInterval, m.PublishMetrics, scheduler.WithRunImmediately()); err != nil {
		return err
	}
	if err := s.RegisterCron(TaskDailyReport, m.config.DailyReportCron, m.DailyReports); err != nil {
		return err
	}
	return s.Register(TaskPassiveDiscovery, m.config.PassiveDiscoveryInterval, m.PassiveDiscovery)
}

// GetCurrentScore returns the tenant's current security score snapshot.
func (m *Service) GetCurrentScore(ctx context.Context, tenantID shared.ID) score.Snapshot {
	return m.deps.Scores.Current(ctx, tenantID)
}

// StartScan starts or joins a scan for the tenant.
func (m *Service) StartScan(ctx context.Context, tenantID shared.ID, kind scanjob.Kind) (*scan.StartResult, error) {
	return m.deps.Scans.Start(ctx, tenantID, kind)
}

// GetScan returns one of the tenant's scan jobs.
func (m *Service) GetScan(ctx context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	return m.deps.Scans.Get(ctx, tenantID, id)
}

// ListScans returns the tenant's most recent scan jobs, newest first.
func (m *Service) ListScans(ctx context.Context, tenantID shared.ID) ([]*scanjob.Job, error) {
	return m.deps.Scans.List(ctx, tenantID)
}

// forEachTenant runs fn for every active tenant. A failing tenant does not stop
// the others; the joined error is returned.
func (m *Service) forEachTenant(ctx context.Context, cycle string, fn func(context.Context, shared.ID) error) error {
	tenants, err := m.deps.Tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, tenantID); err != nil {
			m.logger.Warn("tenant cycle failed",
				"cycle", cycle,
				"tenant_id", tenantID.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errors.Join(errs...)
}

// RunChecks runs one security check cycle for every tenant.
func (m *Service) RunChecks(ctx context.Context) error {
	return m.forEachTenant(ctx, TaskSecurityChecks, func(ctx context.Context, tenantID shared.ID) error {
		err := m.CheckTenant(ctx, tenantID)
		result := "success"
		if err != nil {
			result = "failed"
		}
		metrics.CheckCyclesTotal.WithLabelValues(result).Inc()
		return err
	})
}

// CheckTenant runs the detector over a bounded set of online assets, feeds the
// findings to the pipeline and raises stale-asset alerts.
func (m *Service) CheckTenant(ctx context.Context, tenantID shared.ID) error {
	ctx, span := m.tracer.Start(ctx, "monitor.check_tenant",
		trace.WithAttributes(attribute.String("tenant.id", tenantID.String())),
	)
	defer span.End()

	online := asset.StatusOnline
	assets, err := m.deps.Assets.List(ctx, asset.Filter{
		TenantID: tenantID,
		Status:   &online,
		Limit:    m.config.CheckAssetLimit,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list online assets: %w", err)
	}

	findings, err := m.deps.Detector.Detect(ctx, tenantID, assets)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("detect: %w", err)
	}

	out, err := m.deps.Pipeline.IngestKnown(ctx, tenantID, findings, assets)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ingest findings: %w", err)
	}
	span.SetAttributes(
		attribute.Int("check.findings", len(findings)),
		attribute.Int("check.alerts", out.AlertsCreated),
	)

	raised, err := m.checkStaleAssets(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stale asset check: %w", err)
	}

	m.logger.Debug("security check completed",
		"tenant_id", tenantID.String(),
		"assets", len(assets),
		"findings", len(findings),
		"alerts", out.AlertsCreated,
		"stale_alerts", raised,
	)
	return nil
}

func (m *Service) checkStaleAssets(ctx context.Context, tenantID shared.ID) (int, error) {
	cutoff := time.Now().UTC().Add(-m.config.StaleAssetAge)
	stale, err := m.deps.Assets.List(ctx, asset.Filter{
		TenantID:      tenantID,
		ScannedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	days := int(m.config.StaleAssetAge.Hours() / 24)
	raised := 0
	for _, a := range stale {
		if a.LastScanAt() == nil && a.CreatedAt().After(cutoff) {
			continue
		}
		exists, err := m.deps.Alerts.ExistsActive(ctx, tenantID, alert.TypeAssetManagement, a.ID())
		if err != nil {
			return raised, err
		}
		if exists {
			continue
		}

		al, err := alert.NewAlert(tenantID, alert.TypeAssetManagement, shared.SeverityMedium,
			fmt.Sprintf("Asset %s has not been scanned in %d days", a.Name(), days),
			ingest.DefaultSource,
		)
		if err != nil {
			return raised, err
		}
		al.AddAffectedAsset(a.ID())

		stored, err := m.deps.Alerts.Upsert(ctx, al)
		if err != nil {
			return raised, fmt.Errorf("upsert alert: %w", err)
		}
		raised++
		metrics.AlertsCreatedTotal.WithLabelValues(string(stored.Type()), stored.Severity().String()).Inc()
		m.deps.Publisher.Publish(ctx, event.New(event.SecurityAlert, tenantID, ingest.AlertPayload(stored)))
	}
	return raised, nil
}

// PublishMetrics publishes a security-metrics-update for every tenant.
func (m *Service) PublishMetrics(ctx context.Context) error {
	return m.forEachTenant(ctx, TaskSecurityMetrics, func(ctx context.Context, tenantID shared.ID) error {
		snap := m.deps.Scores.Current(ctx, tenantID)
		m.deps.Publisher.Publish(ctx, event.New(event.SecurityMetricsUpdate, tenantID, event.MetricsPayload{
			ID:            shared.NewID().String(),
			Type:          event.MetricsType,
			Score:         snap.Score,
			TotalAssets:   snap.TotalAssets,
			ActiveThreats: snap.ActiveAlerts,
			CriticalVulns: snap.CriticalOpenVulns,
			Stale:         snap.Stale,
			Timestamp:     snap.Timestamp,
		}))
		return nil
	})
}

// DailyReports enqueues, or without a queue generates, each tenant's daily report.
func (m *Service) DailyReports(ctx context.Context) error {
	return m.forEachTenant(ctx, TaskDailyReport, func(ctx context.Context, tenantID shared.ID) error {
		if m.deps.Enqueuer != nil {
			return m.deps.Enqueuer.EnqueueDailyReport(ctx, tenantID)
		}
		if m.deps.Reports == nil {
			return nil
		}
		_, err := m.deps.Reports.Generate(ctx, tenantID)
		return err
	})
}

// PassiveDiscovery is the hook for traffic-based discovery. No passive
// sources are wired yet, so the cycle only records that it ran.
func (m *Service) PassiveDiscovery(ctx context.Context) error {
	m.logger.Info("performing passive asset discovery")
	return ctx.Err()
}
