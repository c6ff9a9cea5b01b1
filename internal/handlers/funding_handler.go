package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/policy"
	"github.com/nilefi/backend/internal/services"
)

// FundingCore is the subset of the funding service needed by the handler.
type FundingCore interface {
	CreateRequest(ctx context.Context, startupID uuid.UUID, ownerAccount, title, description string, totalAmount decimal.Decimal, specs []models.MilestoneSpec) (*models.FundingRequest, error)
	Publish(ctx context.Context, actorID, requestID uuid.UUID) (*models.FundingRequest, error)
	GetRequest(ctx context.Context, requestID uuid.UUID) (*models.FundingRequest, error)
}

// RequestLister lists funding requests for the read endpoints.
type RequestLister interface {
	ListOpen(ctx context.Context) ([]*models.FundingRequest, error)
	ListByStartup(ctx context.Context, startupID uuid.UUID) ([]*models.FundingRequest, error)
}

// AccountLookup resolves an actor id to its account (for the ledger account).
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// FundingHandler serves the /api/v1/requests endpoints.
type FundingHandler struct {
	Funding   FundingCore
	Requests  RequestLister
	Accounts  AccountLookup
	Validator *services.Validator
	Logger    *slog.Logger
}

type createRequestPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TotalAmount string `json:"total_amount"`
	Milestones  []struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Percentage  float64 `json:"percentage"`
	} `json:"milestones"`
}

type requestResponse struct {
	*models.FundingRequest
	ProgressPercentage decimal.Decimal `json:"progress_percentage"`
}

func toRequestResponse(fr *models.FundingRequest) requestResponse {
	return requestResponse{FundingRequest: fr, ProgressPercentage: fr.ProgressPercentage()}
}

// CreateRequest handles POST /api/v1/requests.
// The body is validated against the funding_request schema before parsing.
func (h *FundingHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpCreateRequest)
	if !ok {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.Validator.Validate(r.Context(), services.SchemaFundingRequest, body); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	var req createRequestPayload
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_amount")
		return
	}

	acc, err := h.Accounts.GetByID(r.Context(), actor.ID.String())
	if err != nil || acc == nil {
		writeError(w, http.StatusUnauthorized, "unknown account")
		return
	}

	specs := make([]models.MilestoneSpec, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		specs = append(specs, models.MilestoneSpec{
			Title:       m.Title,
			Description: m.Description,
			Percentage:  decimal.NewFromFloat(m.Percentage),
		})
	}

	fr, err := h.Funding.CreateRequest(r.Context(), actor.ID, acc.LedgerAccount, req.Title, req.Description, total, specs)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(fr))
}

// Publish handles POST /api/v1/requests/{id}/publish.
func (h *FundingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpPublishRequest)
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	fr, err := h.Funding.Publish(r.Context(), actor.ID, requestID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(fr))
}

// GetRequest handles GET /api/v1/requests/{id}.
func (h *FundingHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	fr, err := h.Funding.GetRequest(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(fr))
}

// ListRequests handles GET /api/v1/requests.
// Startups get their own requests; everyone else gets the open ones.
func (h *FundingHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var (
		list []*models.FundingRequest
		err  error
	)
	if actor.Role == models.RoleStartup {
		list, err = h.Requests.ListByStartup(r.Context(), actor.ID)
	} else {
		list, err = h.Requests.ListOpen(r.Context())
	}
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	out := make([]requestResponse, 0, len(list))
	for _, fr := range list {
		out = append(out, toRequestResponse(fr))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FundingHandler) authorize(w http.ResponseWriter, r *http.Request, op string) (*middleware.Actor, bool) {
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
