package handler

import (
	"context"
	"net/http"

	"github.com/openctemio/secmon/internal/app/score"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// ScoreSource returns the current score of a tenant. It never fails.
type ScoreSource interface {
	GetCurrentScore(ctx context.Context, tenantID shared.ID) score.Snapshot
}

// ScoreHandler serves the security score.
type ScoreHandler struct {
	scores ScoreSource
}

// NewScoreHandler creates a new ScoreHandler.
func NewScoreHandler(scores ScoreSource) *ScoreHandler {
	return &ScoreHandler{scores: scores}
}

// GetScore handles GET /api/v1/security/score.
func (h *ScoreHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.scores.GetCurrentScore(r.Context(), tenantID))
}
