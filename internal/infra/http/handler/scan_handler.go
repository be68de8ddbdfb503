package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openctemio/secmon/internal/app/scan"
	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/validator"
)

// ScanService is the scan surface used by ScanHandler.
type ScanService interface {
	StartScan(ctx context.Context, tenantID shared.ID, kind scanjob.Kind) (*scan.StartResult, error)
	GetScan(ctx context.Context, tenantID, id shared.ID) (*scanjob.Job, error)
	ListScans(ctx context.Context, tenantID shared.ID) ([]*scanjob.Job, error)
}

// ScanHandler handles HTTP requests for scan jobs.
type ScanHandler struct {
	service   ScanService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(service ScanService, v *validator.Validator, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "scan"),
	}
}

// StartScanRequest is the body of POST /api/v1/scans.
type StartScanRequest struct {
	Kind string `json:"kind" validate:"required,scan_kind"`
}

// StartScanResponse is returned with 202 Accepted.
type StartScanResponse struct {
	ScanID    string        `json:"scan_id"`
	Kind      scanjob.Kind  `json:"kind"`
	State     scanjob.State `json:"state"`
	Coalesced bool          `json:"coalesced"`
}

// ScanResponse represents a scan job in API responses.
type ScanResponse struct {
	ID         string          `json:"id"`
	Kind       scanjob.Kind    `json:"kind"`
	State      scanjob.State   `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Duration   string          `json:"duration,omitempty"`
	Result     *scanjob.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func toScanResponse(j *scanjob.Job) ScanResponse {
	resp := ScanResponse{
		ID:         j.ID.String(),
		Kind:       j.Kind,
		State:      j.State,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Result:     j.Result,
		Error:      j.Error,
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

// StartScan handles POST /api/v1/scans. A start while the same kind is in
// flight for the tenant returns the existing job with coalesced=true.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	kind, err := scanjob.ParseKind(req.Kind)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.service.StartScan(r.Context(), tenantID, kind)
	if err != nil {
		if errors.Is(err, scan.ErrShuttingDown) {
			apierror.ServiceUnavailable("Scans are not accepted while shutting down").WriteJSON(w)
			return
		}
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, StartScanResponse{
		ScanID:    res.Job.ID.String(),
		Kind:      res.Job.Kind,
		State:     res.Job.State,
		Coalesced: res.Coalesced,
	})
}

// GetScan handles GET /api/v1/scans/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	id, err := shared.IDFromString(pathParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	job, err := h.service.GetScan(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			apierror.NotFound("Scan").WriteJSON(w)
			return
		}
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toScanResponse(job))
}

// ListScans handles GET /api/v1/scans?limit=N, newest first.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	limit := parseQueryInt(r.URL.Query().Get("limit"), scan.DefaultListLimit)
	limit = min(max(limit, 1), scan.DefaultListLimit)

	jobs, err := h.service.ListScans(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	data := make([]ScanResponse, len(jobs))
	for i, j := range jobs {
		data[i] = toScanResponse(j)
	}
	writeJSON(w, http.StatusOK, ListResponse[ScanResponse]{Data: data, Total: len(data)})
}
