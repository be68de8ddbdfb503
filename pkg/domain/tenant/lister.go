// Package tenant exposes tenant enumeration for per-tenant background cycles.
package tenant

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Lister returns the ids of tenants that background cycles should cover.
type Lister interface {
	ListActiveTenantIDs(ctx context.Context) ([]shared.ID, error)
}
