package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/app/notify"
	"github.com/openctemio/secmon/internal/infra/memory"
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

type fixture struct {
	store    *memory.Store
	recorder *notify.Recorder
	pipeline *Pipeline
	tenantID shared.ID
	asset    *asset.Asset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	tenantID := shared.NewID()
	store.AddTenant(tenantID)

	a, err := asset.NewAsset(tenantID, "web-01", "192.168.1.20", asset.CategoryServer, shared.SeverityHigh)
	require.NoError(t, err)
	require.NoError(t, store.Assets().Create(context.Background(), a))

	rec := notify.NewRecorder()
	return &fixture{
		store:    store,
		recorder: rec,
		pipeline: NewPipeline(store.Assets(), store.Vulnerabilities(), store.Alerts(), rec, logger.NewNop()),
		tenantID: tenantID,
		asset:    a,
	}
}

func (f *fixture) finding(externalID string, sev shared.Severity) finding.Finding {
	return finding.Finding{
		TenantID:   f.tenantID,
		AssetID:    f.asset.ID(),
		AssetName:  f.asset.Name(),
		Severity:   sev,
		Title:      "Newly Discovered Security Vulnerability",
		ExternalID: externalID,
		Score:      7.5,
	}
}

func TestIngest_VulnerabilityFindingCreatesAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.pipeline.Ingest(ctx, f.tenantID, []finding.Finding{f.finding("CVE-2026-0001", shared.SeverityHigh)})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 1, out.VulnerabilitiesCreated)
	assert.Equal(t, 1, out.AlertsCreated)

	item := out.Items[0]
	require.NotNil(t, item.Vulnerability)
	assert.True(t, item.Vulnerability.Status().IsOpen())
	assert.True(t, item.Vulnerability.Affects(f.asset.ID()))

	al := item.Alert
	assert.Equal(t, alert.TypeVulnerability, al.Type())
	assert.Equal(t, alert.StatusActive, al.Status())
	assert.Equal(t, "New High vulnerability detected on web-01", al.Message())
	assert.Equal(t, DefaultSource, al.Source())
	require.NotNil(t, al.VulnerabilityID())
	assert.Equal(t, item.Vulnerability.ID(), *al.VulnerabilityID())
	assert.True(t, al.Affects(f.asset.ID()))

	published := f.recorder.Named(event.SecurityAlert)
	require.Len(t, published, 1)
	payload, ok := published[0].Payload.(event.AlertPayload)
	require.True(t, ok)
	assert.Equal(t, al.ID().String(), payload.ID)
	assert.Equal(t, "high", payload.Severity)

	stored, err := f.store.Assets().GetByID(ctx, f.tenantID, f.asset.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.VulnerabilityCount())
	assert.NotNil(t, stored.LastScanAt())
}

func TestIngest_DeduplicatesWithinBatch(t *testing.T) {
	f := newFixture(t)

	first := f.finding("CVE-2026-0002", shared.SeverityLow)
	second := f.finding("CVE-2026-0002", shared.SeverityCritical)
	other := f.finding("", shared.SeverityMedium)
	another := f.finding("", shared.SeverityMedium)

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, []finding.Finding{first, second, other, another})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Duplicates)
	require.Len(t, out.Items, 3)
	assert.Equal(t, shared.SeverityCritical, out.Items[0].Alert.Severity(), "last write wins")
	assert.Len(t, f.recorder.Named(event.SecurityAlert), 3)
	assert.Equal(t, 3, f.store.Vulnerabilities().Len())
}

func TestIngest_UnknownAssetIsRecordedAsFailure(t *testing.T) {
	f := newFixture(t)

	good := f.finding("CVE-2026-0003", shared.SeverityMedium)
	missing := f.finding("CVE-2026-0004", shared.SeverityMedium)
	missing.AssetID = shared.NewID()

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, []finding.Finding{good, missing})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, 1, out.Failed[0].Index)
	assert.Equal(t, "CVE-2026-0004", out.Failed[0].ExternalID)
	assert.Len(t, f.recorder.Named(event.SecurityAlert), 1)
}

func TestIngest_InvalidFindingDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)

	bad := f.finding("CVE-2026-0005", shared.Severity("urgent"))
	good := f.finding("CVE-2026-0006", shared.SeverityLow)

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, []finding.Finding{bad, good})
	require.NoError(t, err)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, 0, out.Failed[0].Index)
	require.Len(t, out.Items, 1)
}

func TestIngest_ThreatFindingRaisesAlertOnly(t *testing.T) {
	f := newFixture(t)

	threat := finding.Finding{
		TenantID:  f.tenantID,
		AssetID:   f.asset.ID(),
		AssetName: f.asset.Name(),
		Severity:  shared.SeverityHigh,
		Kind:      "threat_detection",
		Message:   "Suspicious network activity detected",
	}

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, []finding.Finding{threat})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Nil(t, out.Items[0].Vulnerability)
	assert.Equal(t, alert.TypeThreatDetection, out.Items[0].Alert.Type())
	assert.Equal(t, []shared.ID{f.asset.ID()}, out.Items[0].Alert.AffectedAssets())
	assert.Equal(t, "Suspicious network activity detected", out.Items[0].Alert.Message())
	assert.Equal(t, 0, out.VulnerabilitiesCreated)
	assert.Equal(t, 0, f.store.Vulnerabilities().Len())
}

func TestIngest_FindingWithoutAssetIsRejected(t *testing.T) {
	f := newFixture(t)

	threat := finding.Finding{
		TenantID: f.tenantID,
		Severity: shared.SeverityHigh,
		Kind:     "threat_detection",
		Message:  "Suspicious network activity detected",
	}
	vuln := f.finding("CVE-2026-0011", shared.SeverityLow)
	vuln.AssetID = shared.ID{}

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, []finding.Finding{threat, vuln})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	require.Len(t, out.Failed, 2)
	for _, ff := range out.Failed {
		assert.Contains(t, ff.Error, "asset id is required")
	}
	assert.Empty(t, f.recorder.Events())
}

func TestIngest_TenantMismatchIsRejected(t *testing.T) {
	f := newFixture(t)

	foreign := f.finding("CVE-2026-0007", shared.SeverityLow)
	foreign.TenantID = shared.NewID()

	out, err := f.pipeline.IngestKnown(context.Background(), f.tenantID, []finding.Finding{foreign}, []*asset.Asset{f.asset})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	require.Len(t, out.Failed, 1)
}

type failingAlerts struct {
	alert.Repository
}

func (failingAlerts) Upsert(context.Context, *alert.Alert) (*alert.Alert, error) {
	return nil, errors.New("connection reset")
}

func TestIngest_NoEventWhenAlertWriteFails(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(f.store.Assets(), f.store.Vulnerabilities(), failingAlerts{f.store.Alerts()}, f.recorder, logger.NewNop())

	out, err := p.Ingest(context.Background(), f.tenantID, []finding.Finding{f.finding("CVE-2026-0008", shared.SeverityHigh)})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	require.Len(t, out.Failed, 1)
	assert.Contains(t, out.Failed[0].Error, "connection reset")
	assert.Empty(t, f.recorder.Events())

	// The vulnerability write went through, so the asset's cached count
	// must reflect it.
	assert.Equal(t, 1, f.store.Vulnerabilities().Len())
	stored, err := f.store.Assets().GetByID(context.Background(), f.tenantID, f.asset.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.VulnerabilityCount())
}

type brokenAssets struct {
	asset.Repository
}

func (brokenAssets) GetByID(context.Context, shared.ID, shared.ID) (*asset.Asset, error) {
	return nil, errors.New("database unavailable")
}

func TestIngest_StoreFailureAbortsBatch(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(brokenAssets{f.store.Assets()}, f.store.Vulnerabilities(), f.store.Alerts(), f.recorder, logger.NewNop())

	_, err := p.Ingest(context.Background(), f.tenantID, []finding.Finding{f.finding("CVE-2026-0009", shared.SeverityHigh)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Equal(t, 0, f.store.Vulnerabilities().Len())
	assert.Empty(t, f.recorder.Events())
}

func TestIngest_KnownInventorySkipsLookup(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(brokenAssets{f.store.Assets()}, f.store.Vulnerabilities(), f.store.Alerts(), f.recorder, logger.NewNop())

	out, err := p.IngestKnown(context.Background(), f.tenantID,
		[]finding.Finding{f.finding("CVE-2026-0010", shared.SeverityLow)},
		[]*asset.Asset{f.asset},
	)
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)
}

func TestIngest_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), shared.ID{}, nil)
	assert.ErrorIs(t, err, shared.ErrValidation)

	out, err := f.pipeline.Ingest(context.Background(), f.tenantID, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Items)
}
