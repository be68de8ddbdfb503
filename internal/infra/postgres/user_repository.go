package postgres

import (
	"context"
	"fmt"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// UserRepository implements user.Counter using PostgreSQL.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// CountUsers returns the tenant's user total and how many have MFA enabled.
func (r *UserRepository) CountUsers(ctx context.Context, tenantID shared.ID) (int64, int64, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE mfa_enabled)
		FROM users
		WHERE tenant_id = $1
	`

	var total, mfa int64
	if err := r.db.QueryRowContext(ctx, query, tenantID.String()).Scan(&total, &mfa); err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, mfa, nil
}
