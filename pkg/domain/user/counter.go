// Package user exposes the user statistics the engine needs for scoring.
package user

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Counter reports how many users a tenant has and how many enrolled in MFA.
type Counter interface {
	CountUsers(ctx context.Context, tenantID shared.ID) (total, mfaEnabled int64, err error)
}
