package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

func makeAssets(t *testing.T, tenantID shared.ID, online, offline int) []*asset.Asset {
	t.Helper()
	var out []*asset.Asset
	for i := range online + offline {
		a, err := asset.NewAsset(tenantID, fmt.Sprintf("Device-%03d", i+1), fmt.Sprintf("192.168.1.%d", i+1), asset.CategoryServer, shared.SeverityMedium)
		require.NoError(t, err)
		if i < online {
			a.MarkScanned(time.Now())
		} else {
			require.NoError(t, a.UpdateStatus(asset.StatusOffline))
		}
		out = append(out, a)
	}
	return out
}

func TestRandomDetector_AlwaysFiresSamplesOnlineOnly(t *testing.T) {
	tenantID := shared.NewID()
	assets := makeAssets(t, tenantID, 8, 4)

	p := DefaultProfile()
	p.Probability = 1
	d := NewRandomDetector(p, 42)

	found, err := d.Detect(context.Background(), tenantID, assets)
	require.NoError(t, err)
	require.Len(t, found, 5, "bounded by sample size")

	cve := regexp.MustCompile(`^CVE-\d{4}-\d{4}$`)
	seen := map[shared.ID]bool{}
	for _, f := range found {
		assert.False(t, seen[f.AssetID], "each asset sampled at most once")
		seen[f.AssetID] = true
		assert.True(t, f.Severity.IsValid())
		assert.Regexp(t, cve, f.ExternalID)
		band := scoreBands[f.Severity]
		assert.GreaterOrEqual(t, f.Score, band[0]-0.1)
		assert.LessOrEqual(t, f.Score, band[1])
		assert.Equal(t, KindVulnerability, f.Kind)
	}
	for _, a := range assets[8:] {
		assert.False(t, seen[a.ID()], "offline assets are never sampled")
	}
}

func TestRandomDetector_NeverFires(t *testing.T) {
	tenantID := shared.NewID()
	p := DefaultProfile()
	p.Probability = 0
	d := NewRandomDetector(p, 7)

	found, err := d.Detect(context.Background(), tenantID, makeAssets(t, tenantID, 5, 0))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRandomDetector_SeedIsReproducible(t *testing.T) {
	tenantID := shared.NewID()
	assets := makeAssets(t, tenantID, 20, 0)
	p := DefaultProfile()
	p.SampleSize = 20
	p.Probability = 0.5

	a, err := NewRandomDetector(p, 99).Detect(context.Background(), tenantID, assets)
	require.NoError(t, err)
	b, err := NewRandomDetector(p, 99).Detect(context.Background(), tenantID, assets)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].AssetID, b[i].AssetID)
		assert.Equal(t, a[i].ExternalID, b[i].ExternalID)
		assert.Equal(t, a[i].Severity, b[i].Severity)
	}
}

func TestRandomDetector_SeverityWeights(t *testing.T) {
	tenantID := shared.NewID()
	p := DefaultProfile()
	p.Probability = 1
	p.SeverityWeights = map[string]float64{"critical": 1}
	d := NewRandomDetector(p, 5)

	found, err := d.Detect(context.Background(), tenantID, makeAssets(t, tenantID, 5, 0))
	require.NoError(t, err)
	require.NotEmpty(t, found)
	for _, f := range found {
		assert.Equal(t, shared.SeverityCritical, f.Severity)
	}
}

func TestThreatDetector(t *testing.T) {
	tenantID := shared.NewID()
	assets := makeAssets(t, tenantID, 3, 2)
	online := map[shared.ID]bool{}
	for _, a := range assets[:3] {
		online[a.ID()] = true
	}

	found, err := NewThreatDetector(1, 1).Detect(context.Background(), tenantID, assets)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, KindThreatDetection, found[0].Kind)
	assert.Equal(t, shared.SeverityHigh, found[0].Severity)
	assert.True(t, online[found[0].AssetID], "threat must target an online asset")
	assert.NotEmpty(t, found[0].AssetName)

	found, err = NewThreatDetector(0, 1).Detect(context.Background(), tenantID, assets)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestThreatDetector_NoOnlineAssets(t *testing.T) {
	tenantID := shared.NewID()

	found, err := NewThreatDetector(1, 1).Detect(context.Background(), tenantID, nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = NewThreatDetector(1, 1).Detect(context.Background(), tenantID, makeAssets(t, tenantID, 0, 3))
	require.NoError(t, err)
	assert.Empty(t, found)
}

type stubDetector struct {
	name  string
	found []finding.Finding
	err   error
	panic bool
}

func (s stubDetector) Name() string { return s.name }

func (s stubDetector) Detect(context.Context, shared.ID, []*asset.Asset) ([]finding.Finding, error) {
	if s.panic {
		panic("bad detector")
	}
	return s.found, s.err
}

func TestChain_IsolatesFailures(t *testing.T) {
	tenantID := shared.NewID()
	good := stubDetector{name: "good", found: []finding.Finding{{Title: "x"}}}

	c := NewChain(logger.NewNop(),
		stubDetector{name: "broken", err: errors.New("upstream feed down")},
		stubDetector{name: "panicky", panic: true},
		good,
	)

	found, err := c.Detect(context.Background(), tenantID, nil)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	allBad := NewChain(logger.NewNop(), stubDetector{name: "broken", err: errors.New("down")})
	_, err = allBad.Detect(context.Background(), tenantID, nil)
	assert.Error(t, err)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte("sample_size: 3\nprobability: 0.5\nseverity_weights:\n  high: 2\n  Critical: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, p.SampleSize)
	assert.Equal(t, 0.5, p.Probability)
	assert.Equal(t, 0.05, p.ThreatProbability, "missing fields keep defaults")
	assert.Len(t, p.SeverityWeights, 2)

	_, err = ParseProfile([]byte("probability: 2"))
	assert.Error(t, err)

	_, err = ParseProfile([]byte("severity_weights:\n  info: 1\n"))
	assert.Error(t, err)

	_, err = ParseProfile([]byte("severity_weights:\n  low: 0\n"))
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_size: 10\n"), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 10, p.SampleSize)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
