package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

const scanJobColumns = `id, tenant_id, kind, state, created_at, started_at, finished_at, result, error`

// ScanJobRepository implements scanjob.Repository using PostgreSQL.
type ScanJobRepository struct {
	db *DB
}

// NewScanJobRepository creates a new ScanJobRepository.
func NewScanJobRepository(db *DB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

// Save inserts or replaces the job.
func (r *ScanJobRepository) Save(ctx context.Context, j *scanjob.Job) error {
	var result []byte
	if j.Result != nil {
		b, err := json.Marshal(j.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal scan result: %w", err)
		}
		result = b
	}

	query := `
		INSERT INTO scan_jobs (` + scanJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			result = EXCLUDED.result,
			error = EXCLUDED.error
	`

	_, err := r.db.ExecContext(ctx, query,
		j.ID.String(),
		j.TenantID.String(),
		string(j.Kind),
		string(j.State),
		j.CreatedAt,
		nullTime(j.StartedAt),
		nullTime(j.FinishedAt),
		result,
		j.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan job: %w", err)
	}
	return nil
}

// Get retrieves a job by id within a tenant.
func (r *ScanJobRepository) Get(ctx context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	query := `SELECT ` + scanJobColumns + ` FROM scan_jobs WHERE tenant_id = $1 AND id = $2`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, tenantID.String(), id.String()).Scan)
	if err != nil {
		return nil, notFound(err, "scan job", id)
	}
	return j, nil
}

// ListByTenant returns the newest jobs first.
func (r *ScanJobRepository) ListByTenant(ctx context.Context, tenantID shared.ID, limit int) ([]*scanjob.Job, error) {
	query := `SELECT ` + scanJobColumns + ` FROM scan_jobs WHERE tenant_id = $1` + orderByCreatedAtDesc
	args := []any{tenantID.String()}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	defer rows.Close()

	var out []*scanjob.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const orderByCreatedAtDesc = " ORDER BY created_at DESC"

func scanJob(scan func(dest ...any) error) (*scanjob.Job, error) {
	var (
		idStr, tenantIDStr    string
		kind, state, errText  string
		createdAt             time.Time
		startedAt, finishedAt sql.NullTime
		result                []byte
	)

	if err := scan(&idStr, &tenantIDStr, &kind, &state, &createdAt, &startedAt, &finishedAt, &result, &errText); err != nil {
		return nil, err
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid scan job id: %w", err)
	}
	tenantID, err := shared.IDFromString(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	j := &scanjob.Job{
		ID:         id,
		TenantID:   tenantID,
		Kind:       scanjob.Kind(kind),
		State:      scanjob.State(state),
		CreatedAt:  createdAt.UTC(),
		StartedAt:  nullTimeValue(startedAt),
		FinishedAt: nullTimeValue(finishedAt),
		Error:      errText,
	}
	if len(result) > 0 {
		var res scanjob.Result
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scan result: %w", err)
		}
		j.Result = &res
	}
	return j, nil
}
