package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

const alertColumns = `id, tenant_id, type, severity, message, description, source, status,
	affected_assets, vulnerability_id, created_at, updated_at`

// AlertRepository implements alert.Repository using PostgreSQL.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Upsert creates or updates the alert by id.
func (r *AlertRepository) Upsert(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil alert", shared.ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			message = EXCLUDED.message,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			affected_assets = EXCLUDED.affected_assets,
			vulnerability_id = EXCLUDED.vulnerability_id,
			updated_at = EXCLUDED.updated_at
		WHERE alerts.tenant_id = EXCLUDED.tenant_id
		RETURNING ` + alertColumns

	row := r.db.QueryRowContext(ctx, query,
		a.ID().String(),
		a.TenantID().String(),
		string(a.Type()),
		a.Severity().String(),
		a.Message(),
		a.Description(),
		a.Source(),
		string(a.Status()),
		idArray(a.AffectedAssets()),
		nullID(a.VulnerabilityID()),
		a.CreatedAt(),
		a.UpdatedAt(),
	)

	stored, err := scanAlert(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert alert: %w", notFound(err, "alert", a.ID()))
	}
	return stored, nil
}

// CountByStatus counts a tenant's alerts in the given status.
func (r *AlertRepository) CountByStatus(ctx context.Context, tenantID shared.ID, status alert.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE tenant_id = $1 AND status = $2`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, tenantID.String(), string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// ExistsActive reports whether an active alert of the type references the asset.
func (r *AlertRepository) ExistsActive(ctx context.Context, tenantID shared.ID, alertType alert.Type, assetID shared.ID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM alerts
			WHERE tenant_id = $1 AND type = $2 AND status = $3 AND $4 = ANY(affected_assets)
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query,
		tenantID.String(), string(alertType), string(alert.StatusActive), assetID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active alert: %w", err)
	}
	return exists, nil
}

func scanAlert(scan func(dest ...any) error) (*alert.Alert, error) {
	var (
		idStr, tenantIDStr    string
		alertType, severity   string
		message, desc, source string
		status                string
		assets                pq.StringArray
		vulnerabilityID       sql.NullString
		createdAt, updatedAt  time.Time
	)

	err := scan(
		&idStr, &tenantIDStr, &alertType, &severity, &message, &desc, &source, &status,
		&assets, &vulnerabilityID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid alert id: %w", err)
	}
	tenantID, err := shared.IDFromString(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	affected, err := parseIDArray(assets)
	if err != nil {
		return nil, err
	}

	return alert.Reconstitute(
		id, tenantID,
		alert.Type(alertType),
		shared.Severity(severity),
		message, desc, source,
		alert.Status(status),
		affected,
		parseNullID(vulnerabilityID),
		createdAt.UTC(), updatedAt.UTC(),
	), nil
}
