package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/policy"
)

// TrailReader returns the audit trail for a funding request.
type TrailReader interface {
	Trail(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error)
}

// AuditHandler serves GET /api/v1/requests/{id}/audit.
type AuditHandler struct {
	Audit  TrailReader
	Logger *slog.Logger
}

func (h *AuditHandler) GetTrail(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !policy.Allow(actor.Role, policy.OpReadTrail) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	trail, err := h.Audit.Trail(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}
