package middleware

import (
	"context"
	"net/http"

	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

// TenantHeader carries the tenant of an API request.
const TenantHeader = "X-Tenant-ID"

// TenantIDKey is the context key holding the tenant id string.
const TenantIDKey = logger.ContextKeyTenantID

type tenantIDKey struct{}

// Tenant resolves the tenant from the X-Tenant-ID header, or from the
// tenant_id query parameter for clients that cannot set headers (browser
// WebSocket). Requests without a valid tenant are rejected with 400.
func Tenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				raw = r.URL.Query().Get("tenant_id")
			}
			if raw == "" {
				apierror.BadRequest("tenant id is required").WriteJSON(w)
				return
			}

			id, err := shared.IDFromString(raw)
			if err != nil || id.IsZero() {
				apierror.BadRequest("invalid tenant id").WriteJSON(w)
				return
			}

			if rw, ok := w.(*recorder); ok {
				rw.tenantID = id.String()
			}
			ctx := context.WithValue(r.Context(), TenantIDKey, id.String())
			ctx = context.WithValue(ctx, tenantIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantID returns the tenant id string resolved by Tenant.
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(TenantIDKey).(string); ok {
		return id
	}
	return ""
}

// TenantID returns the tenant resolved by Tenant, or the zero ID.
func TenantID(ctx context.Context) shared.ID {
	id, _ := ctx.Value(tenantIDKey{}).(shared.ID)
	return id
}
