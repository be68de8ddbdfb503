package asset

import (
	"context"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Filter narrows asset listings. TenantID is mandatory.
type Filter struct {
	TenantID      shared.ID
	Status        *Status
	ScannedBefore *time.Time
	Limit         int
}

// Repository defines the interface for asset persistence.
// Every method is tenant-scoped.
type Repository interface {
	// Create persists a new asset.
	Create(ctx context.Context, a *Asset) error

	// GetByID retrieves an asset by its ID within a tenant.
	GetByID(ctx context.Context, tenantID, id shared.ID) (*Asset, error)

	// List retrieves assets matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Asset, error)

	// Count returns the number of assets matching the filter (Limit is ignored).
	Count(ctx context.Context, filter Filter) (int64, error)

	// CountVulnerable returns the number of assets with at least one open vulnerability.
	CountVulnerable(ctx context.Context, tenantID shared.ID) (int64, error)

	// UpsertDiscovered matches an observed asset by tenant and IP. An existing row is
	// set online with a fresh scan timestamp; otherwise the asset is created.
	// The stored asset is written back into a.
	UpsertDiscovered(ctx context.Context, a *Asset) (created bool, err error)

	// UpdateScanState sets status and last-scanned time.
	UpdateScanState(ctx context.Context, tenantID, id shared.ID, status Status, at time.Time) error

	// RefreshVulnerabilityCount recomputes the cached vulnerability count from live
	// open vulnerabilities in one atomic step and stamps last-scanned with at.
	RefreshVulnerabilityCount(ctx context.Context, tenantID, id shared.ID, at time.Time) (int, error)
}
