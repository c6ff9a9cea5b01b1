package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/policy"
	"github.com/nilefi/backend/internal/services"
)

// DepositCore is the deposit subset of the funding service.
type DepositCore interface {
	AcceptDeposit(ctx context.Context, lenderID uuid.UUID, lenderAccount string, requestID uuid.UUID, amount decimal.Decimal) (*models.Investment, error)
	ConfirmDeposit(ctx context.Context, investmentID uuid.UUID, externalTxRef string) (*models.Investment, error)
}

// TrackerCore is the investment-tracker subset needed by the handler.
type TrackerCore interface {
	ListForRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Investment, error)
	ListForLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Investment, error)
	Reconcile(ctx context.Context, requestID uuid.UUID) error
	CancelRequestAndRefund(ctx context.Context, actorID, requestID uuid.UUID) error
}

// RequestGetter resolves a funding request for ownership checks.
type RequestGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.FundingRequest, error)
}

// InvestmentGetter resolves an investment for ownership checks.
type InvestmentGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
}

// InvestmentHandler serves investment and tracker endpoints.
type InvestmentHandler struct {
	Deposits    DepositCore
	Tracker     TrackerCore
	Requests    RequestGetter
	Investments InvestmentGetter
	Accounts    AccountLookup
	Validator   *services.Validator
	Logger      *slog.Logger
}

type investPayload struct {
	Amount        string `json:"amount"`
	LenderAccount string `json:"lender_account"`
}

// Invest handles POST /api/v1/requests/{id}/invest.
func (h *InvestmentHandler) Invest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpInvest)
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.Validator.Validate(r.Context(), services.SchemaInvestment, body); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	var req investPayload
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	lenderAccount := req.LenderAccount
	if lenderAccount == "" {
		acc, err := h.Accounts.GetByID(r.Context(), actor.ID.String())
		if err != nil || acc == nil {
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		lenderAccount = acc.LedgerAccount
	}

	inv, err := h.Deposits.AcceptDeposit(r.Context(), actor.ID, lenderAccount, requestID, amount)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type confirmPayload struct {
	ExternalTxRef string `json:"external_tx_ref"`
}

// Confirm handles POST /api/v1/investments/{id}/confirm.
// Confirming an already-DEPOSITED investment is a no-op and returns 200.
// Admins may confirm any investment; a lender may only confirm their own.
func (h *InvestmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpConfirmDeposit)
	if !ok {
		return
	}
	investmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if actor.Role != models.RoleAdmin {
		inv, err := h.Investments.GetByID(r.Context(), investmentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusNotFound, "investment not found")
				return
			}
			writeServiceError(w, h.Logger, err)
			return
		}
		if inv.LenderID != actor.ID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	var req confirmPayload
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	inv, err := h.Deposits.ConfirmDeposit(r.Context(), investmentID, req.ExternalTxRef)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListForRequest handles GET /api/v1/requests/{id}/investments.
func (h *InvestmentHandler) ListForRequest(w http.ResponseWriter, r *http.Request) {
	if middleware.ActorFromCtx(r.Context()) == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.Tracker.ListForRequest(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListMine handles GET /api/v1/investments.
func (h *InvestmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.Tracker.ListForLender(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Cancel handles POST /api/v1/requests/{id}/cancel.
// Admins may cancel any request; a startup may only cancel its own.
func (h *InvestmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, policy.OpCancelRequest)
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if actor.Role != models.RoleAdmin {
		fr, err := h.Requests.GetByID(r.Context(), requestID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusNotFound, "funding request not found")
				return
			}
			writeServiceError(w, h.Logger, err)
			return
		}
		if fr.StartupID != actor.ID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	if err := h.Tracker.CancelRequestAndRefund(r.Context(), actor.ID, requestID); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.RequestStatusCancelled})
}

// Reconcile handles POST /api/v1/requests/{id}/reconcile.
func (h *InvestmentHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	_, ok := h.authorize(w, r, policy.OpReconcile)
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Tracker.Reconcile(r.Context(), requestID); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "consistent"})
}

func (h *InvestmentHandler) authorize(w http.ResponseWriter, r *http.Request, op string) (*middleware.Actor, bool) {
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
