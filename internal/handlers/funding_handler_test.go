package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/middleware"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- FundingCore mock ---

type mockFundingCore struct {
	created   *models.FundingRequest
	published bool
	err       error
}

func (m *mockFundingCore) CreateRequest(_ context.Context, startupID uuid.UUID, ownerAccount, title, description string, totalAmount decimal.Decimal, specs []models.MilestoneSpec) (*models.FundingRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	fr := &models.FundingRequest{
		ID:           uuid.New(),
		StartupID:    startupID,
		OwnerAccount: ownerAccount,
		Title:        title,
		Description:  description,
		TotalAmount:  totalAmount,
		Status:       models.RequestStatusDraft,
	}
	fr.Milestones, _ = models.BuildMilestones(fr.ID, totalAmount, specs)
	m.created = fr
	return fr, nil
}

func (m *mockFundingCore) Publish(_ context.Context, _, requestID uuid.UUID) (*models.FundingRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.published = true
	return &models.FundingRequest{ID: requestID, Status: models.RequestStatusOpen}, nil
}

func (m *mockFundingCore) GetRequest(_ context.Context, requestID uuid.UUID) (*models.FundingRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.FundingRequest{ID: requestID, Status: models.RequestStatusOpen}, nil
}

// --- RequestLister mock ---

type mockLister struct {
	open []*models.FundingRequest
	own  []*models.FundingRequest
}

func (m *mockLister) ListOpen(context.Context) ([]*models.FundingRequest, error) { return m.open, nil }
func (m *mockLister) ListByStartup(context.Context, uuid.UUID) ([]*models.FundingRequest, error) {
	return m.own, nil
}

// --- AccountLookup mock ---

type mockAccounts struct {
	accounts map[string]*models.Account
}

func (m *mockAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return acc, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func schemasDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas")
}

func newTestValidator(t *testing.T) *services.Validator {
	t.Helper()
	v, err := services.NewValidator(context.Background(), schemasDir(t))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// injectActor sets the authenticated actor into the request context.
func injectActor(r *http.Request, id uuid.UUID, role string) *http.Request {
	return r.WithContext(middleware.WithActor(r.Context(), &middleware.Actor{ID: id, Role: role}))
}

func newFundingHandler(t *testing.T) (*FundingHandler, *mockFundingCore, *mockAccounts) {
	t.Helper()
	core := &mockFundingCore{}
	accounts := &mockAccounts{accounts: make(map[string]*models.Account)}
	h := &FundingHandler{
		Funding:   core,
		Requests:  &mockLister{},
		Accounts:  accounts,
		Validator: newTestValidator(t),
		Logger:    discardLogger(),
	}
	return h, core, accounts
}

const validCreateBody = `{
	"title": "Solar microgrid",
	"description": "Village microgrid rollout",
	"total_amount": "1000.00",
	"milestones": [
		{"title": "Site survey", "percentage": 60},
		{"title": "Installation", "percentage": 40}
	]
}`

// =====================================================================
// POST /api/v1/requests
// =====================================================================

func TestCreateRequest_ValidPayload(t *testing.T) {
	h, core, accounts := newFundingHandler(t)
	startupID := uuid.New()
	accounts.accounts[startupID.String()] = &models.Account{ID: startupID, LedgerAccount: "0.0.5001"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(validCreateBody))
	req = injectActor(req, startupID, models.RoleStartup)
	rec := httptest.NewRecorder()

	h.CreateRequest(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if core.created == nil {
		t.Fatal("core never called")
	}
	if core.created.OwnerAccount != "0.0.5001" {
		t.Errorf("owner account = %s", core.created.OwnerAccount)
	}
	var resp requestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.RequestStatusDraft {
		t.Errorf("status = %s, want DRAFT", resp.Status)
	}
}

func TestCreateRequest_InvalidSchema(t *testing.T) {
	h, _, accounts := newFundingHandler(t)
	startupID := uuid.New()
	accounts.accounts[startupID.String()] = &models.Account{ID: startupID}

	// total_amount must be a decimal string.
	body := `{"title":"x","description":"y","total_amount":12.5,"milestones":[{"title":"m","percentage":100}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(body))
	req = injectActor(req, startupID, models.RoleStartup)
	rec := httptest.NewRecorder()

	h.CreateRequest(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateRequest_LenderForbidden(t *testing.T) {
	h, _, _ := newFundingHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(validCreateBody))
	req = injectActor(req, uuid.New(), models.RoleLender)
	rec := httptest.NewRecorder()

	h.CreateRequest(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateRequest_NoActor(t *testing.T) {
	h, _, _ := newFundingHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(validCreateBody))
	rec := httptest.NewRecorder()

	h.CreateRequest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// =====================================================================
// POST /api/v1/requests/{id}/publish
// =====================================================================

func TestPublish_OK(t *testing.T) {
	h, core, _ := newFundingHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/x/publish", nil)
	req.SetPathValue("id", uuid.NewString())
	req = injectActor(req, uuid.New(), models.RoleStartup)
	rec := httptest.NewRecorder()

	h.Publish(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !core.published {
		t.Error("core.Publish never called")
	}
}

func TestPublish_BadID(t *testing.T) {
	h, _, _ := newFundingHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/x/publish", nil)
	req.SetPathValue("id", "not-a-uuid")
	req = injectActor(req, uuid.New(), models.RoleStartup)
	rec := httptest.NewRecorder()

	h.Publish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// =====================================================================
// GET /api/v1/requests/{id}
// =====================================================================

func TestGetRequest_NotFoundMapsTo404(t *testing.T) {
	h, core, _ := newFundingHandler(t)
	core.err = fmt.Errorf("funding request: %w", services.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/x", nil)
	req.SetPathValue("id", uuid.NewString())
	req = injectActor(req, uuid.New(), models.RoleLender)
	rec := httptest.NewRecorder()

	h.GetRequest(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// =====================================================================
// GET /api/v1/requests
// =====================================================================

func TestListRequests_StartupSeesOwn(t *testing.T) {
	h, _, _ := newFundingHandler(t)
	h.Requests = &mockLister{
		own:  []*models.FundingRequest{{ID: uuid.New()}, {ID: uuid.New()}},
		open: []*models.FundingRequest{{ID: uuid.New()}},
	}

	for _, tc := range []struct {
		role string
		want int
	}{
		{models.RoleStartup, 2},
		{models.RoleLender, 1},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
		req = injectActor(req, uuid.New(), tc.role)
		rec := httptest.NewRecorder()

		h.ListRequests(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.role, rec.Code)
		}
		var out []requestResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s: decode: %v", tc.role, err)
		}
		if len(out) != tc.want {
			t.Errorf("%s: got %d requests, want %d", tc.role, len(out), tc.want)
		}
	}
}
