package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

func TestFromError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   Code
	}{
		{"not found", fmt.Errorf("%w: scan job x", shared.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"validation", fmt.Errorf("%w: unknown scan kind", shared.ErrValidation), http.StatusUnprocessableEntity, CodeValidationFailed},
		{"conflict", shared.ErrAlreadyExists, http.StatusConflict, CodeConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
		{"api error", BadRequest("bad"), http.StatusBadRequest, CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	assert.Nil(t, FromError(nil))
}

func TestFromError_InternalHidesMessage(t *testing.T) {
	apiErr := FromError(errors.New("dial tcp 10.0.0.5:5432: refused"))
	assert.Equal(t, "An internal error occurred", apiErr.Message)
	assert.ErrorContains(t, apiErr, "refused")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound("Scan").WriteJSON(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Code)
	assert.Equal(t, "Scan not found", body.Message)
}

func TestWriteJSON_Details(t *testing.T) {
	var v ValidationErrors
	v.Add("kind", "must be one of: discovery")

	rec := httptest.NewRecorder()
	v.ToAPIError().WriteJSON(rec)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t,
		`{"code":"VALIDATION_FAILED","message":"Validation failed","details":[{"field":"kind","message":"must be one of: discovery"}]}`,
		rec.Body.String())
}

func TestValidationErrors(t *testing.T) {
	var v ValidationErrors
	assert.False(t, v.HasErrors())

	v.Add("kind", "is required")
	require.True(t, v.HasErrors())

	apiErr := v.ToAPIError()
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, v, apiErr.Details)
}
