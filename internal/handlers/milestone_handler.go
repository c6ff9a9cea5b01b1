package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/policy"
	"github.com/nilefi/backend/internal/services"
)

// MilestoneCore is the subset of the funding service needed for milestone endpoints.
type MilestoneCore interface {
	StartMilestone(ctx context.Context, actorID, milestoneID uuid.UUID) error
	SubmitMilestoneProof(ctx context.Context, actorID, milestoneID uuid.UUID, proofRef string) error
	VerifyMilestone(ctx context.Context, verifierID, milestoneID uuid.UUID, approve bool) error
	ReleaseMilestoneFunds(ctx context.Context, actorID, milestoneID uuid.UUID, amount decimal.Decimal) (*models.Milestone, error)
}

// ProofUploader stores proof documents and returns a content reference.
type ProofUploader interface {
	Upload(ctx context.Context, r io.Reader, meta map[string]string) (string, error)
}

// MilestoneHandler serves the /api/v1/milestones endpoints.
type MilestoneHandler struct {
	Core      MilestoneCore
	Storage   ProofUploader
	Validator *services.Validator
	Logger    *slog.Logger
}

// Start handles POST /api/v1/milestones/{id}/start.
func (h *MilestoneHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpStartMilestone)
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Core.StartMilestone(r.Context(), actor.ID, milestoneID); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.MilestoneStatusInProgress})
}

type proofPayload struct {
	ProofRef string `json:"proof_ref"`
	Document string `json:"document"`
	Note     string `json:"note"`
}

// SubmitProof handles POST /api/v1/milestones/{id}/proof.
// The caller either references an already-stored document (proof_ref) or
// submits the document inline, in which case it is uploaded first.
func (h *MilestoneHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpSubmitProof)
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.Validator.Validate(r.Context(), services.SchemaMilestoneProof, body); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	var req proofPayload
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	proofRef := req.ProofRef
	if proofRef == "" {
		proofRef, err = h.Storage.Upload(r.Context(), strings.NewReader(req.Document), map[string]string{
			"milestone_id": milestoneID.String(),
			"uploaded_by":  actor.ID.String(),
		})
		if err != nil {
			writeServiceError(w, h.Logger, &services.ExternalServiceError{Op: "storage.upload", Err: err})
			return
		}
	}

	if err := h.Core.SubmitMilestoneProof(r.Context(), actor.ID, milestoneID, proofRef); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    models.MilestoneStatusCompleted,
		"proof_ref": proofRef,
	})
}

type verifyPayload struct {
	Decision string `json:"decision"`
}

// Verify handles POST /api/v1/milestones/{id}/verify with decision approve|reject.
func (h *MilestoneHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpVerify)
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Decision != "approve" && req.Decision != "reject" {
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}
	if err := h.Core.VerifyMilestone(r.Context(), actor.ID, milestoneID, req.Decision == "approve"); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	status := models.MilestoneStatusVerified
	if req.Decision == "reject" {
		status = models.MilestoneStatusInProgress
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type releasePayload struct {
	Amount string `json:"amount"`
}

// Release handles POST /api/v1/milestones/{id}/release.
func (h *MilestoneHandler) Release(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpRelease)
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req releasePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	ms, err := h.Core.ReleaseMilestoneFunds(r.Context(), actor.ID, milestoneID, amount)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *MilestoneHandler) authorize(w http.ResponseWriter, r *http.Request, op string) (*middleware.Actor, bool) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if !policy.Allow(actor.Role, op) {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return actor, true
}
