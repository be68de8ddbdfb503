package asset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

func TestNewAsset(t *testing.T) {
	tenantID := shared.NewID()

	a, err := NewAsset(tenantID, "web-01", "192.168.1.10", CategoryServer, shared.SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, a.Status())
	assert.Nil(t, a.LastScanAt())
	assert.Equal(t, 0, a.VulnerabilityCount())

	_, err = NewAsset(tenantID, "web-01", "not-an-ip", CategoryServer, shared.SeverityHigh)
	assert.True(t, shared.IsValidation(err))

	_, err = NewAsset(shared.ID{}, "web-01", "10.0.0.1", CategoryServer, shared.SeverityHigh)
	assert.True(t, shared.IsValidation(err))

	_, err = NewAsset(tenantID, "", "10.0.0.1", CategoryServer, shared.SeverityHigh)
	assert.True(t, shared.IsValidation(err))

	_, err = NewAsset(tenantID, "x", "10.0.0.1", Category("toaster"), shared.SeverityHigh)
	assert.True(t, shared.IsValidation(err))
}

func TestAsset_IsStale(t *testing.T) {
	a, err := NewAsset(shared.NewID(), "db-01", "10.0.0.2", CategoryServer, shared.SeverityCritical)
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, a.IsStale(now, 7*24*time.Hour), "never scanned is stale")

	a.MarkScanned(now.Add(-8 * 24 * time.Hour))
	assert.True(t, a.IsStale(now, 7*24*time.Hour))
	assert.True(t, a.IsOnline())

	a.MarkScanned(now.Add(-time.Hour))
	assert.False(t, a.IsStale(now, 7*24*time.Hour))
}

func TestAsset_CloneIsIndependent(t *testing.T) {
	a, err := NewAsset(shared.NewID(), "ws-01", "10.0.0.3", CategoryWorkstation, shared.SeverityLow)
	require.NoError(t, err)
	a.AddTag("discovered")
	a.MarkScanned(time.Now())

	c := a.Clone()
	c.AddTag("other")
	c.MarkScanned(time.Now().Add(time.Hour))

	assert.Equal(t, []string{"discovered"}, a.Tags())
	assert.NotEqual(t, *a.LastScanAt(), *c.LastScanAt())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("Network Device")
	require.NoError(t, err)
	assert.Equal(t, CategoryNetworkDevice, c)

	_, err = ParseCategory("mainframe")
	assert.Error(t, err)
}
