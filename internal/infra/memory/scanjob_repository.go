package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// ScanJobRepository implements scanjob.Repository.
type ScanJobRepository struct {
	mu   sync.RWMutex
	jobs map[shared.ID]*scanjob.Job
}

var _ scanjob.Repository = (*ScanJobRepository)(nil)

// NewScanJobRepository creates an empty job registry.
func NewScanJobRepository() *ScanJobRepository {
	return &ScanJobRepository{jobs: make(map[shared.ID]*scanjob.Job)}
}

// Save stores a copy of the job.
func (r *ScanJobRepository) Save(_ context.Context, j *scanjob.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

// Get returns a copy of the job.
func (r *ScanJobRepository) Get(_ context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok || !j.TenantID.Equals(tenantID) {
		return nil, fmt.Errorf("%w: scan job %s", shared.ErrNotFound, id)
	}
	return j.Clone(), nil
}

// ListByTenant returns the newest jobs first.
func (r *ScanJobRepository) ListByTenant(_ context.Context, tenantID shared.ID, limit int) ([]*scanjob.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*scanjob.Job, 0)
	for _, j := range r.jobs {
		if j.TenantID.Equals(tenantID) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
