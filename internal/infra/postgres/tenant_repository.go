package postgres

import (
	"context"
	"fmt"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// TenantRepository reads tenants for the background cycles.
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create registers a tenant. Existing ids are left untouched.
func (r *TenantRepository) Create(ctx context.Context, id shared.ID, name string) error {
	query := `INSERT INTO tenants (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, id.String(), name); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// ListActiveTenantIDs implements tenant.Lister.
func (r *TenantRepository) ListActiveTenantIDs(ctx context.Context) ([]shared.ID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tenants WHERE active ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		id, err := shared.IDFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
