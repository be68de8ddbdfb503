package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/secmon/internal/infra/http/middleware"
	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/validator"
)

// ListResponse wraps a list of items.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireTenant returns the tenant resolved by middleware.Tenant, writing a
// 400 when the route was mounted without it.
func requireTenant(w http.ResponseWriter, r *http.Request) (shared.ID, bool) {
	tenantID := middleware.TenantID(r.Context())
	if tenantID.IsZero() {
		apierror.BadRequest("tenant id is required").WriteJSON(w)
		return shared.ID{}, false
	}
	return tenantID, true
}

// pathParam extracts a URL path parameter, falling back to the stdlib mux.
func pathParam(r *http.Request, key string) string {
	if val := chi.URLParam(r, key); val != "" {
		return val
	}
	return r.PathValue(key)
}

// parseQueryInt parses a query parameter as an integer.
// Returns defaultVal if the input is empty or invalid.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

func handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make(apierror.ValidationErrors, 0, len(validationErrors))
		for _, ve := range validationErrors {
			apiErrors.Add(ve.Field, ve.Message)
		}
		apiErrors.ToAPIError().WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

// handleServiceError maps domain errors to API errors and logs the rest.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	apiErr := apierror.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.Error("service error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	apiErr.WriteJSON(w)
}
