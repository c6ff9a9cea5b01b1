package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/services"
)

// --- MilestoneCore mock ---

type mockMilestoneCore struct {
	started    bool
	proofRef   string
	verified   *bool
	releaseAmt decimal.Decimal
	err        error
}

func (m *mockMilestoneCore) StartMilestone(context.Context, uuid.UUID, uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.started = true
	return nil
}

func (m *mockMilestoneCore) SubmitMilestoneProof(_ context.Context, _, _ uuid.UUID, proofRef string) error {
	if m.err != nil {
		return m.err
	}
	m.proofRef = proofRef
	return nil
}

func (m *mockMilestoneCore) VerifyMilestone(_ context.Context, _, _ uuid.UUID, approve bool) error {
	if m.err != nil {
		return m.err
	}
	m.verified = &approve
	return nil
}

func (m *mockMilestoneCore) ReleaseMilestoneFunds(_ context.Context, _, milestoneID uuid.UUID, amount decimal.Decimal) (*models.Milestone, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.releaseAmt = amount
	return &models.Milestone{ID: milestoneID, Status: models.MilestoneStatusReleased, ReleasedAmount: amount}, nil
}

// --- ProofUploader mock ---

type mockUploader struct {
	uploaded []byte
	meta     map[string]string
	err      error
}

func (m *mockUploader) Upload(_ context.Context, r io.Reader, meta map[string]string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.uploaded, _ = io.ReadAll(r)
	m.meta = meta
	return "bafkuploaded", nil
}

func newMilestoneHandler(t *testing.T) (*MilestoneHandler, *mockMilestoneCore, *mockUploader) {
	t.Helper()
	core := &mockMilestoneCore{}
	up := &mockUploader{}
	h := &MilestoneHandler{
		Core:      core,
		Storage:   up,
		Validator: newTestValidator(t),
		Logger:    discardLogger(),
	}
	return h, core, up
}

func milestoneReq(method, action, body string, actorID uuid.UUID, role string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/v1/milestones/x/"+action, rd)
	req.SetPathValue("id", uuid.NewString())
	return injectActor(req, actorID, role)
}

// =====================================================================
// POST /api/v1/milestones/{id}/start
// =====================================================================

func TestStart_OK(t *testing.T) {
	h, core, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Start(rec, milestoneReq(http.MethodPost, "start", "", uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !core.started {
		t.Error("core.StartMilestone never called")
	}
}

func TestStart_LenderForbidden(t *testing.T) {
	h, _, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Start(rec, milestoneReq(http.MethodPost, "start", "", uuid.New(), models.RoleLender))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

// =====================================================================
// POST /api/v1/milestones/{id}/proof
// =====================================================================

func TestSubmitProof_ExistingRefSkipsUpload(t *testing.T) {
	h, core, up := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	body := `{"proof_ref":"bafkexisting"}`
	h.SubmitProof(rec, milestoneReq(http.MethodPost, "proof", body, uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if core.proofRef != "bafkexisting" {
		t.Errorf("proof ref = %s", core.proofRef)
	}
	if up.uploaded != nil {
		t.Error("unexpected upload for pre-stored ref")
	}
}

func TestSubmitProof_InlineDocumentUploads(t *testing.T) {
	h, core, up := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	body := `{"document":"completion report contents","note":"phase one done"}`
	h.SubmitProof(rec, milestoneReq(http.MethodPost, "proof", body, uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(up.uploaded) != "completion report contents" {
		t.Errorf("uploaded content = %q", up.uploaded)
	}
	if up.meta["milestone_id"] == "" || up.meta["uploaded_by"] == "" {
		t.Errorf("upload metadata incomplete: %v", up.meta)
	}
	if core.proofRef != "bafkuploaded" {
		t.Errorf("proof ref = %s, want storage ref", core.proofRef)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["proof_ref"] != "bafkuploaded" {
		t.Errorf("response proof_ref = %s", resp["proof_ref"])
	}
}

func TestSubmitProof_MissingBothFields(t *testing.T) {
	h, _, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.SubmitProof(rec, milestoneReq(http.MethodPost, "proof", `{"note":"no proof"}`, uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitProof_UploadFailure(t *testing.T) {
	h, _, up := newMilestoneHandler(t)
	up.err = io.ErrUnexpectedEOF
	rec := httptest.NewRecorder()

	h.SubmitProof(rec, milestoneReq(http.MethodPost, "proof", `{"document":"x"}`, uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

// =====================================================================
// POST /api/v1/milestones/{id}/verify
// =====================================================================

func TestVerify_Decisions(t *testing.T) {
	for _, tc := range []struct {
		decision   string
		wantStatus string
		approve    bool
	}{
		{"approve", models.MilestoneStatusVerified, true},
		{"reject", models.MilestoneStatusInProgress, false},
	} {
		h, core, _ := newMilestoneHandler(t)
		rec := httptest.NewRecorder()

		body := `{"decision":"` + tc.decision + `"}`
		h.Verify(rec, milestoneReq(http.MethodPost, "verify", body, uuid.New(), models.RoleAdmin))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.decision, rec.Code, rec.Body.String())
		}
		if core.verified == nil || *core.verified != tc.approve {
			t.Errorf("%s: approve flag = %v", tc.decision, core.verified)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["status"] != tc.wantStatus {
			t.Errorf("%s: status = %s, want %s", tc.decision, resp["status"], tc.wantStatus)
		}
	}
}

func TestVerify_BadDecision(t *testing.T) {
	h, _, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Verify(rec, milestoneReq(http.MethodPost, "verify", `{"decision":"maybe"}`, uuid.New(), models.RoleAdmin))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVerify_StartupForbidden(t *testing.T) {
	h, _, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Verify(rec, milestoneReq(http.MethodPost, "verify", `{"decision":"approve"}`, uuid.New(), models.RoleStartup))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

// =====================================================================
// POST /api/v1/milestones/{id}/release
// =====================================================================

func TestRelease_OK(t *testing.T) {
	h, core, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Release(rec, milestoneReq(http.MethodPost, "release", `{"amount":"600.00"}`, uuid.New(), models.RoleAdmin))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !core.releaseAmt.Equal(decimal.RequireFromString("600.00")) {
		t.Errorf("release amount = %s", core.releaseAmt)
	}
}

func TestRelease_InvalidAmount(t *testing.T) {
	h, _, _ := newMilestoneHandler(t)
	rec := httptest.NewRecorder()

	h.Release(rec, milestoneReq(http.MethodPost, "release", `{"amount":"lots"}`, uuid.New(), models.RoleAdmin))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRelease_InvalidStateMapsTo409(t *testing.T) {
	h, core, _ := newMilestoneHandler(t)
	core.err = services.ErrInvalidState
	rec := httptest.NewRecorder()

	h.Release(rec, milestoneReq(http.MethodPost, "release", `{"amount":"600.00"}`, uuid.New(), models.RoleAdmin))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRelease_EscrowFailureMapsTo502(t *testing.T) {
	h, core, _ := newMilestoneHandler(t)
	core.err = &services.ReleaseFailedError{MilestoneID: uuid.New(), Err: io.ErrUnexpectedEOF}
	rec := httptest.NewRecorder()

	h.Release(rec, milestoneReq(http.MethodPost, "release", `{"amount":"600.00"}`, uuid.New(), models.RoleAdmin))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
