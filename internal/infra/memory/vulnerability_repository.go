package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

// VulnerabilityRepository implements vulnerability.Repository.
type VulnerabilityRepository struct {
	s *Store
}

var _ vulnerability.Repository = (*VulnerabilityRepository)(nil)

// Upsert creates the vulnerability or refreshes the open record with the same
// tenant, external id and primary asset.
func (r *VulnerabilityRepository) Upsert(_ context.Context, v *vulnerability.Vulnerability) (*vulnerability.Vulnerability, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil vulnerability", shared.ErrInvalidInput)
	}
	if len(v.AffectedAssets()) == 0 {
		return nil, fmt.Errorf("%w: vulnerability has no affected assets", shared.ErrValidation)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if v.ExternalID() != "" {
		primary := v.AffectedAssets()[0]
		for id, existing := range r.s.vulns {
			if existing.TenantID().Equals(v.TenantID()) &&
				existing.ExternalID() == v.ExternalID() &&
				existing.Status().IsOpen() &&
				existing.Affects(primary) {
				merged := vulnerability.Reconstitute(
					id, existing.TenantID(), existing.ExternalID(),
					v.Title(), v.Description(), v.Severity(), v.Score(), existing.Status(),
					existing.AffectedAssets(), v.Category(), v.Solution(),
					existing.DiscoveredAt(), v.UpdatedAt(),
				)
				r.s.vulns[id] = merged
				return merged.Clone(), nil
			}
		}
	}

	r.s.vulns[v.ID()] = v.Clone()
	return v.Clone(), nil
}

// CountBySeverityAndStatus counts vulnerabilities of one severity in any of the statuses.
func (r *VulnerabilityRepository) CountBySeverityAndStatus(
	_ context.Context,
	tenantID shared.ID,
	severity shared.Severity,
	statuses ...vulnerability.Status,
) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, v := range r.s.vulns {
		if !v.TenantID().Equals(tenantID) || v.Severity() != severity {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, v.Status()) {
			continue
		}
		n++
	}
	return n, nil
}

// SetStatus changes a vulnerability's status, as an operator would.
func (r *VulnerabilityRepository) SetStatus(_ context.Context, tenantID, id shared.ID, status vulnerability.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.vulns[id]
	if !ok || !v.TenantID().Equals(tenantID) {
		return fmt.Errorf("%w: vulnerability %s", shared.ErrNotFound, id)
	}
	return v.UpdateStatus(status)
}

// Len returns the number of stored vulnerabilities.
func (r *VulnerabilityRepository) Len() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.vulns)
}
