package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
	"github.com/openctemio/secmon/pkg/logger"
)

// Finding kinds. An empty kind is treated as a vulnerability.
const (
	kindVulnerability   = "vulnerability"
	kindThreatDetection = "threat_detection"
)

// Pipeline persists findings. Each vulnerability finding becomes one open
// Vulnerability and exactly one Alert; a security-alert event is published only
// after the alert write returned successfully.
type Pipeline struct {
	assets    asset.Repository
	vulns     vulnerability.Repository
	alerts    alert.Repository
	publisher event.Publisher
	logger    *logger.Logger
	source    string
}

// NewPipeline creates a pipeline.
func NewPipeline(
	assets asset.Repository,
	vulns vulnerability.Repository,
	alerts alert.Repository,
	publisher event.Publisher,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		assets:    assets,
		vulns:     vulns,
		alerts:    alerts,
		publisher: publisher,
		logger:    log.With("component", "pipeline"),
		source:    DefaultSource,
	}
}

// Ingest persists findings, resolving assets from the store.
func (p *Pipeline) Ingest(ctx context.Context, tenantID shared.ID, findings []finding.Finding) (*Output, error) {
	return p.IngestKnown(ctx, tenantID, findings, nil)
}

// IngestKnown persists findings, resolving assets from inventory first and
// falling back to the store. Per-finding failures are recorded in
// Output.Failed; a store error while resolving assets aborts the batch.
func (p *Pipeline) IngestKnown(
	ctx context.Context,
	tenantID shared.ID,
	findings []finding.Finding,
	inventory []*asset.Asset,
) (*Output, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenant id is required", shared.ErrValidation)
	}
	if len(findings) > MaxFindingsPerBatch {
		return nil, fmt.Errorf("%w: batch of %d findings exceeds limit %d", shared.ErrValidation, len(findings), MaxFindingsPerBatch)
	}

	output := &Output{}
	if len(findings) == 0 {
		return output, nil
	}

	batch := dedupe(findings)
	output.Duplicates = len(findings) - len(batch)

	known := make(map[shared.ID]*asset.Asset, len(inventory))
	for _, a := range inventory {
		if a.TenantID().Equals(tenantID) {
			known[a.ID()] = a
		}
	}

	resolved, err := p.resolveAssets(ctx, tenantID, batch, known, output)
	if err != nil {
		return output, err
	}

	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return output, err
		}
		if _, skip := resolved.failed[e.index]; skip {
			continue
		}
		p.persist(ctx, tenantID, e, resolved.assets[e.f.AssetID], output)
	}

	if len(output.Failed) > 0 {
		p.logger.Warn("findings failed during ingest",
			"tenant_id", tenantID.String(),
			"failed", len(output.Failed),
			"persisted", len(output.Items),
		)
	}
	return output, nil
}

type entry struct {
	index int
	key   string
	f     finding.Finding
}

// dedupe collapses findings that share asset and external id. The surviving
// entry keeps the first position with the last finding's content.
func dedupe(findings []finding.Finding) []entry {
	pos := make(map[string]int, len(findings))
	out := make([]entry, 0, len(findings))
	for i, f := range findings {
		key := f.Key(i)
		if j, ok := pos[key]; ok {
			out[j].f = f
			continue
		}
		pos[key] = len(out)
		out = append(out, entry{index: i, key: key, f: f})
	}
	return out
}

type resolution struct {
	assets map[shared.ID]*asset.Asset
	failed map[int]struct{}
}

func (p *Pipeline) resolveAssets(
	ctx context.Context,
	tenantID shared.ID,
	batch []entry,
	known map[shared.ID]*asset.Asset,
	output *Output,
) (*resolution, error) {
	res := &resolution{
		assets: known,
		failed: make(map[int]struct{}),
	}

	for _, e := range batch {
		if e.f.AssetID.IsZero() {
			p.fail(output, e, errors.New("asset id is required"), "missing_asset")
			res.failed[e.index] = struct{}{}
			continue
		}
		if _, ok := res.assets[e.f.AssetID]; ok {
			continue
		}

		a, err := p.assets.GetByID(ctx, tenantID, e.f.AssetID)
		switch {
		case err == nil:
			res.assets[a.ID()] = a
		case shared.IsNotFound(err):
			p.fail(output, e, fmt.Errorf("asset %s not found", e.f.AssetID), "unknown_asset")
			res.failed[e.index] = struct{}{}
		default:
			return nil, fmt.Errorf("resolve assets: %w", err)
		}
	}
	return res, nil
}

func (p *Pipeline) persist(ctx context.Context, tenantID shared.ID, e entry, a *asset.Asset, output *Output) {
	f := e.f
	if !f.TenantID.IsZero() && !f.TenantID.Equals(tenantID) {
		p.fail(output, e, errors.New("finding belongs to another tenant"), "tenant_mismatch")
		return
	}

	var vuln *vulnerability.Vulnerability
	if isVulnerability(f) {
		v, err := p.writeVulnerability(ctx, tenantID, f)
		if err != nil {
			p.fail(output, e, err, "vulnerability_write")
			return
		}
		vuln = v
		output.VulnerabilitiesCreated++
		metrics.VulnerabilitiesCreatedTotal.WithLabelValues(v.Severity().String()).Inc()
		// The vulnerability is stored even if the alert write below fails, so
		// the asset's cached count must follow it either way.
		defer p.refreshCount(ctx, tenantID, f.AssetID, output)
	}

	al, err := p.writeAlert(ctx, tenantID, f, a, vuln)
	if err != nil {
		p.fail(output, e, err, "alert_write")
		return
	}
	output.AlertsCreated++
	output.Items = append(output.Items, Item{Vulnerability: vuln, Alert: al})
	metrics.AlertsCreatedTotal.WithLabelValues(string(al.Type()), al.Severity().String()).Inc()

	p.publisher.Publish(ctx, event.New(event.SecurityAlert, tenantID, AlertPayload(al)))
}

func (p *Pipeline) refreshCount(ctx context.Context, tenantID, assetID shared.ID, output *Output) {
	if _, err := p.assets.RefreshVulnerabilityCount(ctx, tenantID, assetID, time.Now().UTC()); err != nil {
		p.logger.Warn("refresh vulnerability count failed",
			"tenant_id", tenantID.String(),
			"asset_id", assetID.String(),
			"error", err,
		)
		output.Warnings = append(output.Warnings, fmt.Sprintf("asset %s: refresh vulnerability count: %v", assetID, err))
	}
}

func (p *Pipeline) writeVulnerability(ctx context.Context, tenantID shared.ID, f finding.Finding) (*vulnerability.Vulnerability, error) {
	title := f.Title
	if title == "" {
		title = f.ExternalID
	}
	v, err := vulnerability.NewVulnerability(tenantID, title, f.Severity, f.Score, []shared.ID{f.AssetID})
	if err != nil {
		return nil, err
	}
	v.SetExternalID(f.ExternalID)
	v.SetDetails(f.Description, f.Category, f.Solution)

	stored, err := p.vulns.Upsert(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("upsert vulnerability: %w", err)
	}
	return stored, nil
}

func (p *Pipeline) writeAlert(
	ctx context.Context,
	tenantID shared.ID,
	f finding.Finding,
	a *asset.Asset,
	vuln *vulnerability.Vulnerability,
) (*alert.Alert, error) {
	alertType := alert.TypeVulnerability
	if f.Kind == kindThreatDetection {
		alertType = alert.TypeThreatDetection
	}

	message := f.Message
	if message == "" {
		message = alertMessage(f, a)
	}

	al, err := alert.NewAlert(tenantID, alertType, f.Severity, message, p.source)
	if err != nil {
		return nil, err
	}
	al.SetDescription(f.Description)
	if a != nil {
		al.AddAffectedAsset(a.ID())
	}
	if vuln != nil {
		al.LinkVulnerability(vuln.ID())
	}

	stored, err := p.alerts.Upsert(ctx, al)
	if err != nil {
		return nil, fmt.Errorf("upsert alert: %w", err)
	}
	return stored, nil
}

func (p *Pipeline) fail(output *Output, e entry, err error, reason string) {
	ff := FailedFinding{
		Index:      e.index,
		Key:        e.key,
		ExternalID: e.f.ExternalID,
		Error:      err.Error(),
	}
	if !e.f.AssetID.IsZero() {
		ff.AssetID = e.f.AssetID.String()
	}
	output.Failed = append(output.Failed, ff)
	metrics.FindingsFailedTotal.WithLabelValues(reason).Inc()
}

func isVulnerability(f finding.Finding) bool {
	return f.Kind == "" || f.Kind == kindVulnerability
}

func alertMessage(f finding.Finding, a *asset.Asset) string {
	name := f.AssetName
	if a != nil {
		name = a.Name()
	}
	if name == "" {
		name = "unknown asset"
	}
	return fmt.Sprintf("New %s vulnerability detected on %s", f.Severity.Title(), name)
}

// AlertPayload renders an alert as a security-alert event payload.
func AlertPayload(a *alert.Alert) event.AlertPayload {
	assets := a.AffectedAssets()
	ids := make([]string, len(assets))
	for i, id := range assets {
		ids[i] = id.String()
	}
	p := event.AlertPayload{
		ID:             a.ID().String(),
		Type:           string(a.Type()),
		Severity:       a.Severity().String(),
		Message:        a.Message(),
		AffectedAssets: ids,
		Timestamp:      a.CreatedAt(),
	}
	if v := a.VulnerabilityID(); v != nil {
		p.VulnerabilityID = v.String()
	}
	return p
}
