package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

const assetColumns = `id, tenant_id, name, ip, device_type, category, owner, department,
	criticality, status, last_scan_at, vulnerability_count, tags, created_at, updated_at`

// AssetRepository implements asset.Repository using PostgreSQL.
type AssetRepository struct {
	db *DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create persists a new asset.
func (r *AssetRepository) Create(ctx context.Context, a *asset.Asset) error {
	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query, assetArgs(a)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: asset with ip %s", shared.ErrAlreadyExists, a.IP())
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// GetByID retrieves an asset by its ID within a tenant.
func (r *AssetRepository) GetByID(ctx context.Context, tenantID, id shared.ID) (*asset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE tenant_id = $1 AND id = $2`

	a, err := scanAsset(r.db.QueryRowContext(ctx, query, tenantID.String(), id.String()).Scan)
	if err != nil {
		return nil, notFound(err, "asset", id)
	}
	return a, nil
}

// assetFilter builds the WHERE clause for f.
func assetFilter(f asset.Filter) *whereBuilder {
	w := &whereBuilder{}
	w.add("tenant_id = ?", f.TenantID.String())
	if f.Status != nil {
		w.add("status = ?", string(*f.Status))
	}
	if f.ScannedBefore != nil {
		w.add("(last_scan_at IS NULL OR last_scan_at < ?)", *f.ScannedBefore)
	}
	return w
}

// List retrieves assets matching the filter, oldest first.
func (r *AssetRepository) List(ctx context.Context, f asset.Filter) ([]*asset.Asset, error) {
	w := assetFilter(f)
	query := `SELECT ` + assetColumns + ` FROM assets` + w.String() + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += " LIMIT " + w.next(f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var out []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the number of assets matching the filter.
func (r *AssetRepository) Count(ctx context.Context, f asset.Filter) (int64, error) {
	w := assetFilter(f)

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return n, nil
}

// CountVulnerable returns the number of assets referenced by at least one open vulnerability.
func (r *AssetRepository) CountVulnerable(ctx context.Context, tenantID shared.ID) (int64, error) {
	query := `
		SELECT COUNT(*) FROM assets a
		WHERE a.tenant_id = $1
		AND EXISTS (
			SELECT 1 FROM vulnerabilities v
			WHERE v.tenant_id = a.tenant_id
			AND a.id = ANY(v.affected_assets)
			AND v.status = ANY($2)
		)
	`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, tenantID.String(), openStatuses()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vulnerable assets: %w", err)
	}
	return n, nil
}

// UpsertDiscovered inserts the asset or, when the tenant already has one with
// the same IP, marks that row online with a fresh scan time.
func (r *AssetRepository) UpsertDiscovered(ctx context.Context, a *asset.Asset) (bool, error) {
	now := time.Now().UTC()
	a.MarkScanned(now)

	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, ip) DO UPDATE
		SET status = 'online', last_scan_at = EXCLUDED.last_scan_at, updated_at = EXCLUDED.updated_at
		RETURNING ` + assetColumns + `, (xmax = 0) AS inserted
	`

	var inserted bool
	stored, err := scanAsset(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, assetArgs(a)...).Scan(append(dest, &inserted)...)
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert discovered asset: %w", err)
	}
	*a = *stored
	return inserted, nil
}

// UpdateScanState sets status and last-scanned time.
func (r *AssetRepository) UpdateScanState(ctx context.Context, tenantID, id shared.ID, status asset.Status, at time.Time) error {
	query := `
		UPDATE assets SET status = $3, last_scan_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.ExecContext(ctx, query, tenantID.String(), id.String(), string(status), at)
	if err != nil {
		return fmt.Errorf("failed to update scan state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
	}
	return nil
}

// RefreshVulnerabilityCount recounts open vulnerabilities in a single statement.
func (r *AssetRepository) RefreshVulnerabilityCount(ctx context.Context, tenantID, id shared.ID, at time.Time) (int, error) {
	query := `
		UPDATE assets a SET
			vulnerability_count = (
				SELECT COUNT(*) FROM vulnerabilities v
				WHERE v.tenant_id = a.tenant_id
				AND a.id = ANY(v.affected_assets)
				AND v.status = ANY($3)
			),
			last_scan_at = $4,
			updated_at = NOW()
		WHERE a.tenant_id = $1 AND a.id = $2
		RETURNING a.vulnerability_count
	`

	var n int
	err := r.db.QueryRowContext(ctx, query, tenantID.String(), id.String(), openStatuses(), at).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
		}
		return 0, fmt.Errorf("failed to refresh vulnerability count: %w", err)
	}
	return n, nil
}

func assetArgs(a *asset.Asset) []any {
	return []any{
		a.ID().String(),
		a.TenantID().String(),
		a.Name(),
		a.IP(),
		a.DeviceType(),
		string(a.Category()),
		a.Owner(),
		a.Department(),
		a.Criticality().String(),
		string(a.Status()),
		nullTime(a.LastScanAt()),
		a.VulnerabilityCount(),
		pq.Array(a.Tags()),
		a.CreatedAt(),
		a.UpdatedAt(),
	}
}

func scanAsset(scan func(dest ...any) error) (*asset.Asset, error) {
	var (
		idStr, tenantIDStr   string
		name, ip, deviceType string
		category             string
		owner, department    string
		criticality, status  string
		lastScanAt           sql.NullTime
		vulnerabilityCount   int
		tags                 pq.StringArray
		createdAt, updatedAt time.Time
	)

	err := scan(
		&idStr, &tenantIDStr, &name, &ip, &deviceType, &category, &owner, &department,
		&criticality, &status, &lastScanAt, &vulnerabilityCount, &tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid asset id: %w", err)
	}
	tenantID, err := shared.IDFromString(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}

	return asset.Reconstitute(
		id, tenantID,
		name, ip, deviceType,
		asset.Category(category),
		owner, department,
		shared.Severity(criticality),
		asset.Status(status),
		nullTimeValue(lastScanAt),
		vulnerabilityCount,
		[]string(tags),
		createdAt.UTC(), updatedAt.UTC(),
	), nil
}

func openStatuses() any {
	open := vulnerability.OpenStatuses()
	out := make(pq.StringArray, len(open))
	for i, s := range open {
		out[i] = string(s)
	}
	return out
}
