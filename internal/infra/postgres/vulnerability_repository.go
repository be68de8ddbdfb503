package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

const vulnerabilityColumns = `id, tenant_id, external_id, title, description, severity, score, status,
	affected_assets, category, solution, discovered_at, updated_at`

// VulnerabilityRepository implements vulnerability.Repository using PostgreSQL.
type VulnerabilityRepository struct {
	db *DB
}

// NewVulnerabilityRepository creates a new VulnerabilityRepository.
func NewVulnerabilityRepository(db *DB) *VulnerabilityRepository {
	return &VulnerabilityRepository{db: db}
}

// Upsert inserts the vulnerability, merging into the open record with the same
// tenant, external id and primary asset when one exists.
func (r *VulnerabilityRepository) Upsert(ctx context.Context, v *vulnerability.Vulnerability) (*vulnerability.Vulnerability, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil vulnerability", shared.ErrInvalidInput)
	}
	assets := v.AffectedAssets()
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: vulnerability has no affected assets", shared.ErrValidation)
	}

	query := `
		INSERT INTO vulnerabilities (
			id, tenant_id, external_id, title, description, severity, score, status,
			primary_asset_id, affected_assets, category, solution, discovered_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, external_id, primary_asset_id)
			WHERE external_id <> '' AND status IN ('open', 'in_progress')
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			score = EXCLUDED.score,
			category = EXCLUDED.category,
			solution = EXCLUDED.solution,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + vulnerabilityColumns

	row := r.db.QueryRowContext(ctx, query,
		v.ID().String(),
		v.TenantID().String(),
		v.ExternalID(),
		v.Title(),
		v.Description(),
		v.Severity().String(),
		v.Score(),
		string(v.Status()),
		assets[0].String(),
		idArray(assets),
		v.Category(),
		v.Solution(),
		v.DiscoveredAt(),
		v.UpdatedAt(),
	)

	stored, err := scanVulnerability(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert vulnerability: %w", err)
	}
	return stored, nil
}

// CountBySeverityAndStatus counts vulnerabilities of one severity in any of the
// statuses. No statuses means all statuses.
func (r *VulnerabilityRepository) CountBySeverityAndStatus(
	ctx context.Context,
	tenantID shared.ID,
	severity shared.Severity,
	statuses ...vulnerability.Status,
) (int64, error) {
	w := &whereBuilder{}
	w.add("tenant_id = ?", tenantID.String())
	w.add("severity = ?", severity.String())
	if len(statuses) > 0 {
		values := make(pq.StringArray, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		w.add("status = ANY(?)", values)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vulnerabilities`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vulnerabilities: %w", err)
	}
	return n, nil
}

func scanVulnerability(scan func(dest ...any) error) (*vulnerability.Vulnerability, error) {
	var (
		idStr, tenantIDStr      string
		externalID, title, desc string
		severity, status        string
		score                   float64
		assets                  pq.StringArray
		category, solution      string
		discoveredAt, updatedAt time.Time
	)

	err := scan(
		&idStr, &tenantIDStr, &externalID, &title, &desc, &severity, &score, &status,
		&assets, &category, &solution, &discoveredAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid vulnerability id: %w", err)
	}
	tenantID, err := shared.IDFromString(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	affected, err := parseIDArray(assets)
	if err != nil {
		return nil, err
	}

	return vulnerability.Reconstitute(
		id, tenantID,
		externalID, title, desc,
		shared.Severity(severity),
		score,
		vulnerability.Status(status),
		affected,
		category, solution,
		discoveredAt.UTC(), updatedAt.UTC(),
	), nil
}
