package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// AlertRepository implements alert.Repository.
type AlertRepository struct {
	s *Store
}

var _ alert.Repository = (*AlertRepository)(nil)

// Upsert creates or updates the alert by id.
func (r *AlertRepository) Upsert(_ context.Context, a *alert.Alert) (*alert.Alert, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil alert", shared.ErrInvalidInput)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.alerts[a.ID()] = a.Clone()
	return a.Clone(), nil
}

// CountByStatus counts a tenant's alerts in the given status.
func (r *AlertRepository) CountByStatus(_ context.Context, tenantID shared.ID, status alert.Status) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, a := range r.s.alerts {
		if a.TenantID().Equals(tenantID) && a.Status() == status {
			n++
		}
	}
	return n, nil
}

// ExistsActive reports whether an active alert of the type references the asset.
func (r *AlertRepository) ExistsActive(_ context.Context, tenantID shared.ID, alertType alert.Type, assetID shared.ID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.alerts {
		if a.TenantID().Equals(tenantID) && a.Type() == alertType && a.IsActive() && a.Affects(assetID) {
			return true, nil
		}
	}
	return false, nil
}

// ListByTenant returns a tenant's alerts, oldest first.
func (r *AlertRepository) ListByTenant(_ context.Context, tenantID shared.ID) ([]*alert.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*alert.Alert, 0)
	for _, a := range r.s.alerts {
		if a.TenantID().Equals(tenantID) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}
