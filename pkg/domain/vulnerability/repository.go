package vulnerability

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Repository defines the interface for vulnerability persistence.
type Repository interface {
	// Upsert creates the vulnerability, or updates the open record with the same
	// tenant, external id and primary asset. It returns the stored record.
	Upsert(ctx context.Context, v *Vulnerability) (*Vulnerability, error)

	// CountBySeverityAndStatus counts vulnerabilities of one severity in any of
	// the given statuses. No statuses means all statuses.
	CountBySeverityAndStatus(ctx context.Context, tenantID shared.ID, severity shared.Severity, statuses ...Status) (int64, error)
}
