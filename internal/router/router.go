package router

import (
	"net/http"

	"github.com/nilefi/backend/internal/auth"
	"github.com/nilefi/backend/internal/dashboard"
	"github.com/nilefi/backend/internal/handlers"
)

// Middleware wraps a handler, e.g. JWT auth.
type Middleware func(http.Handler) http.Handler

// New returns an http.Handler serving the API under /api/v1.
// Auth endpoints are public; everything else goes through authMW.
func New(
	authHandler *auth.Handler,
	fundingH *handlers.FundingHandler,
	milestoneH *handlers.MilestoneHandler,
	investmentH *handlers.InvestmentHandler,
	auditH *handlers.AuditHandler,
	dashboardH *dashboard.Handler,
	authMW Middleware,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMW(h))
	}

	protected("POST "+base+"/requests", fundingH.CreateRequest)
	protected("GET "+base+"/requests", fundingH.ListRequests)
	protected("GET "+base+"/requests/{id}", fundingH.GetRequest)
	protected("POST "+base+"/requests/{id}/publish", fundingH.Publish)
	protected("POST "+base+"/requests/{id}/invest", investmentH.Invest)
	protected("GET "+base+"/requests/{id}/investments", investmentH.ListForRequest)
	protected("POST "+base+"/requests/{id}/cancel", investmentH.Cancel)
	protected("POST "+base+"/requests/{id}/reconcile", investmentH.Reconcile)
	protected("GET "+base+"/requests/{id}/audit", auditH.GetTrail)

	protected("POST "+base+"/investments/{id}/confirm", investmentH.Confirm)
	protected("GET "+base+"/investments", investmentH.ListMine)

	protected("POST "+base+"/milestones/{id}/start", milestoneH.Start)
	protected("POST "+base+"/milestones/{id}/proof", milestoneH.SubmitProof)
	protected("POST "+base+"/milestones/{id}/verify", milestoneH.Verify)
	protected("POST "+base+"/milestones/{id}/release", milestoneH.Release)

	protected("GET "+base+"/account/me", dashboardH.GetMe)
	protected("GET "+base+"/dashboard/summary", dashboardH.GetSummary)

	return mux
}
