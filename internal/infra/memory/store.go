// Package memory provides in-process implementations of the secmon store
// contracts. It backs STORE_DRIVER=memory and the package tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

type userCounts struct {
	total int64
	mfa   int64
}

// Store holds all inventory state behind a single lock so multi-entity updates
// (such as refreshing an asset's vulnerability count) are atomic.
type Store struct {
	mu      sync.RWMutex
	tenants []shared.ID
	assets  map[shared.ID]*asset.Asset
	vulns   map[shared.ID]*vulnerability.Vulnerability
	alerts  map[shared.ID]*alert.Alert
	users   map[shared.ID]userCounts
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		assets: make(map[shared.ID]*asset.Asset),
		vulns:  make(map[shared.ID]*vulnerability.Vulnerability),
		alerts: make(map[shared.ID]*alert.Alert),
		users:  make(map[shared.ID]userCounts),
	}
}

// Assets returns the asset repository view of the store.
func (s *Store) Assets() *AssetRepository {
	return &AssetRepository{s: s}
}

// Vulnerabilities returns the vulnerability repository view of the store.
func (s *Store) Vulnerabilities() *VulnerabilityRepository {
	return &VulnerabilityRepository{s: s}
}

// Alerts returns the alert repository view of the store.
func (s *Store) Alerts() *AlertRepository {
	return &AlertRepository{s: s}
}

// AddTenant registers an active tenant.
func (s *Store) AddTenant(id shared.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.ContainsFunc(s.tenants, id.Equals) {
		s.tenants = append(s.tenants, id)
	}
}

// ListActiveTenantIDs implements tenant.Lister.
func (s *Store) ListActiveTenantIDs(_ context.Context) ([]shared.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tenants), nil
}

// SetUserCounts sets the user totals reported for a tenant.
func (s *Store) SetUserCounts(tenantID shared.ID, total, mfaEnabled int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tenantID] = userCounts{total: total, mfa: mfaEnabled}
}

// CountUsers implements user.Counter.
func (s *Store) CountUsers(_ context.Context, tenantID shared.ID) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.users[tenantID]
	return c.total, c.mfa, nil
}

// openVulnCount must be called with s.mu held.
func (s *Store) openVulnCount(tenantID, assetID shared.ID) int {
	n := 0
	for _, v := range s.vulns {
		if v.TenantID().Equals(tenantID) && v.Status().IsOpen() && v.Affects(assetID) {
			n++
		}
	}
	return n
}

func sortedAssets(in []*asset.Asset) []*asset.Asset {
	sort.Slice(in, func(i, j int) bool {
		if in[i].CreatedAt().Equal(in[j].CreatedAt()) {
			return in[i].Name() < in[j].Name()
		}
		return in[i].CreatedAt().Before(in[j].CreatedAt())
	})
	return in
}
