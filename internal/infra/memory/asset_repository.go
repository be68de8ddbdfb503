package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// AssetRepository implements asset.Repository.
type AssetRepository struct {
	s *Store
}

var _ asset.Repository = (*AssetRepository)(nil)

// Create persists a new asset.
func (r *AssetRepository) Create(_ context.Context, a *asset.Asset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.assets[a.ID()]; ok {
		return fmt.Errorf("%w: asset %s", shared.ErrAlreadyExists, a.ID())
	}
	for _, existing := range r.s.assets {
		if existing.TenantID().Equals(a.TenantID()) && existing.IP() == a.IP() {
			return fmt.Errorf("%w: asset with ip %s", shared.ErrAlreadyExists, a.IP())
		}
	}
	r.s.assets[a.ID()] = a.Clone()
	return nil
}

// GetByID retrieves an asset by its ID within a tenant.
func (r *AssetRepository) GetByID(_ context.Context, tenantID, id shared.ID) (*asset.Asset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.assets[id]
	if !ok || !a.TenantID().Equals(tenantID) {
		return nil, fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func matches(a *asset.Asset, f asset.Filter) bool {
	if !a.TenantID().Equals(f.TenantID) {
		return false
	}
	if f.Status != nil && a.Status() != *f.Status {
		return false
	}
	if f.ScannedBefore != nil {
		if last := a.LastScanAt(); last != nil && !last.Before(*f.ScannedBefore) {
			return false
		}
	}
	return true
}

// List retrieves assets matching the filter, oldest first.
func (r *AssetRepository) List(_ context.Context, f asset.Filter) ([]*asset.Asset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*asset.Asset, 0)
	for _, a := range r.s.assets {
		if matches(a, f) {
			out = append(out, a.Clone())
		}
	}
	out = sortedAssets(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count returns the number of assets matching the filter.
func (r *AssetRepository) Count(_ context.Context, f asset.Filter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, a := range r.s.assets {
		if matches(a, f) {
			n++
		}
	}
	return n, nil
}

// CountVulnerable returns the number of assets with at least one open vulnerability.
func (r *AssetRepository) CountVulnerable(_ context.Context, tenantID shared.ID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, a := range r.s.assets {
		if a.TenantID().Equals(tenantID) && r.s.openVulnCount(tenantID, a.ID()) > 0 {
			n++
		}
	}
	return n, nil
}

// UpsertDiscovered matches by tenant and IP.
func (r *AssetRepository) UpsertDiscovered(_ context.Context, a *asset.Asset) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range r.s.assets {
		if existing.TenantID().Equals(a.TenantID()) && existing.IP() == a.IP() {
			existing.MarkScanned(now)
			*a = *existing.Clone()
			return false, nil
		}
	}

	a.MarkScanned(now)
	r.s.assets[a.ID()] = a.Clone()
	return true, nil
}

// UpdateScanState sets status and last-scanned time.
func (r *AssetRepository) UpdateScanState(_ context.Context, tenantID, id shared.ID, status asset.Status, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assets[id]
	if !ok || !a.TenantID().Equals(tenantID) {
		return fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
	}
	a.MarkScanned(at)
	return a.UpdateStatus(status)
}

// RefreshVulnerabilityCount recounts open vulnerabilities under the store lock.
func (r *AssetRepository) RefreshVulnerabilityCount(_ context.Context, tenantID, id shared.ID, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assets[id]
	if !ok || !a.TenantID().Equals(tenantID) {
		return 0, fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
	}
	n := r.s.openVulnCount(tenantID, id)
	a.SetVulnerabilityCount(n)
	a.MarkScanned(at)
	return n, nil
}
