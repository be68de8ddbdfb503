package scanjob

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Repository stores scan jobs. Get returns shared.ErrNotFound for unknown ids.
type Repository interface {
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, tenantID, id shared.ID) (*Job, error)
	// ListByTenant returns the newest jobs first, at most limit (0 means all).
	ListByTenant(ctx context.Context, tenantID shared.ID, limit int) ([]*Job, error)
}
