package alert

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Repository defines the interface for alert persistence. Alerts are never deleted.
type Repository interface {
	// Upsert creates or updates the alert by id and returns the stored record.
	Upsert(ctx context.Context, a *Alert) (*Alert, error)

	// CountByStatus counts a tenant's alerts in the given status.
	CountByStatus(ctx context.Context, tenantID shared.ID, status Status) (int64, error)

	// ExistsActive reports whether an active alert of the type references the asset.
	ExistsActive(ctx context.Context, tenantID shared.ID, alertType Type, assetID shared.ID) (bool, error)
}
