// Package dashboard serves the account-profile and operator-summary
// endpoints backing the frontend dashboard.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/policy"
)

// AccountSource resolves the authenticated actor's account.
type AccountSource interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// RequestStats aggregates funding request figures.
type RequestStats interface {
	StatusCounts(ctx context.Context) (map[string]int, error)
	TotalRaised(ctx context.Context) (decimal.Decimal, error)
}

// MirrorStats reports the state of the consensus-log mirror backlog.
type MirrorStats interface {
	MirrorStatusCounts(ctx context.Context) (map[string]int, error)
}

// EscrowBalance reads the custodial account balance.
type EscrowBalance interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

type Handler struct {
	Accounts AccountSource
	Requests RequestStats
	Mirror   MirrorStats
	Escrow   EscrowBalance
	Logger   *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := h.Accounts.GetByID(r.Context(), actor.ID.String())
	if err != nil || acc == nil {
		h.Logger.Error("get account failed", "account_id", actor.ID, "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             acc.ID,
		"email":          acc.Email,
		"display_name":   acc.DisplayName,
		"role":           acc.Role,
		"ledger_account": acc.LedgerAccount,
		"created_at":     acc.CreatedAt,
	})
}

// GetSummary handles GET /api/v1/dashboard/summary. Admin only.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !policy.Allow(actor.Role, policy.OpReadSummary) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	statusCounts, err := h.Requests.StatusCounts(r.Context())
	if err != nil {
		h.Logger.Error("request status counts failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	totalRaised, err := h.Requests.TotalRaised(r.Context())
	if err != nil {
		h.Logger.Error("total raised failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	mirrorCounts, err := h.Mirror.MirrorStatusCounts(r.Context())
	if err != nil {
		h.Logger.Error("mirror status counts failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// The mock escrow cannot fail here; a real adapter can, and the summary
	// is still useful without the balance.
	balance, err := h.Escrow.Balance(r.Context())
	if err != nil {
		h.Logger.Warn("escrow balance unavailable", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests_by_status": statusCounts,
		"total_raised":       totalRaised,
		"mirror_backlog":     mirrorCounts,
		"escrow_balance":     balance,
	})
}
