package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory stores shared by the service tests. They mirror the SQL guards
// the real repositories enforce, including ErrNoRowsUpdated on failed
// conditional updates, so the services exercise the same code paths they
// would against Postgres.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- memDB holds the shared state; the mock stores below wrap it. ---

type memDB struct {
	mu          sync.Mutex
	requests    map[uuid.UUID]*models.FundingRequest
	milestones  map[uuid.UUID]*models.Milestone
	investments map[uuid.UUID]*models.Investment
}

func newMemDB() *memDB {
	return &memDB{
		requests:    make(map[uuid.UUID]*models.FundingRequest),
		milestones:  make(map[uuid.UUID]*models.Milestone),
		investments: make(map[uuid.UUID]*models.Investment),
	}
}

func (db *memDB) putRequest(fr *models.FundingRequest) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *fr
	db.requests[fr.ID] = &cp
}

func (db *memDB) putMilestone(m *models.Milestone) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *m
	db.milestones[m.ID] = &cp
}

func (db *memDB) putInvestment(inv *models.Investment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *inv
	db.investments[inv.ID] = &cp
}

func (db *memDB) request(id uuid.UUID) *models.FundingRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	if fr, ok := db.requests[id]; ok {
		cp := *fr
		return &cp
	}
	return nil
}

func (db *memDB) milestone(id uuid.UUID) *models.Milestone {
	db.mu.Lock()
	defer db.mu.Unlock()
	if m, ok := db.milestones[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

func (db *memDB) investment(id uuid.UUID) *models.Investment {
	db.mu.Lock()
	defer db.mu.Unlock()
	if inv, ok := db.investments[id]; ok {
		cp := *inv
		return &cp
	}
	return nil
}

// --- mockRequests implements RequestStore and TrackerRequestStore. ---

type mockRequests struct{ db *memDB }

func (r *mockRequests) CreateTx(_ context.Context, _ pgx.Tx, fr *models.FundingRequest) error {
	r.db.putRequest(fr)
	return nil
}

func (r *mockRequests) GetByID(_ context.Context, id uuid.UUID) (*models.FundingRequest, error) {
	if fr := r.db.request(id); fr != nil {
		return fr, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *mockRequests) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.FundingRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *mockRequests) UpdateStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fr.Status = status
	return nil
}

func (r *mockRequests) MarkFundedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok || fr.Status != models.RequestStatusOpen {
		return repository.ErrNoRowsUpdated
	}
	fr.Status = models.RequestStatusFunded
	fr.FundedAt = &at
	return nil
}

func (r *mockRequests) MarkCompletedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	fr.Status = models.RequestStatusCompleted
	fr.CompletedAt = &at
	return nil
}

func (r *mockRequests) AddToRaisedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return decimal.Zero, repository.ErrNoRowsUpdated
	}
	next := fr.AmountRaised.Add(amount)
	if next.GreaterThan(fr.TotalAmount) {
		return decimal.Zero, repository.ErrNoRowsUpdated
	}
	fr.AmountRaised = next
	return next, nil
}

func (r *mockRequests) SubtractFromRaisedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	next := fr.AmountRaised.Sub(amount)
	if next.IsNegative() {
		return repository.ErrNoRowsUpdated
	}
	fr.AmountRaised = next
	return nil
}

func (r *mockRequests) SetCancelRequestedTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fr.CancelRequested = true
	return nil
}

func (r *mockRequests) SetHalted(_ context.Context, id uuid.UUID, halted bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	fr, ok := r.db.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fr.Halted = halted
	return nil
}

// --- mockMilestones implements MilestoneStore. ---

type mockMilestones struct{ db *memDB }

func (r *mockMilestones) CreateTx(_ context.Context, _ pgx.Tx, m *models.Milestone) error {
	r.db.putMilestone(m)
	return nil
}

func (r *mockMilestones) GetByID(_ context.Context, id uuid.UUID) (*models.Milestone, error) {
	if m := r.db.milestone(id); m != nil {
		return m, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *mockMilestones) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Milestone, error) {
	return r.GetByID(ctx, id)
}

func (r *mockMilestones) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*models.Milestone, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Milestone
	for _, m := range r.db.milestones {
		if m.FundingRequestID == requestID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockMilestones) ListByRequestTx(ctx context.Context, _ pgx.Tx, requestID uuid.UUID) ([]*models.Milestone, error) {
	return r.ListByRequest(ctx, requestID)
}

func (r *mockMilestones) MarkInProgressTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || m.Status != models.MilestoneStatusPending {
		return repository.ErrNoRowsUpdated
	}
	m.Status = models.MilestoneStatusInProgress
	return nil
}

func (r *mockMilestones) MarkCompletedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, proofRef string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || (m.Status != models.MilestoneStatusPending && m.Status != models.MilestoneStatusInProgress) {
		return repository.ErrNoRowsUpdated
	}
	m.Status = models.MilestoneStatusCompleted
	m.ProofRef = &proofRef
	m.CompletedAt = &at
	return nil
}

func (r *mockMilestones) MarkVerifiedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || m.Status != models.MilestoneStatusCompleted {
		return repository.ErrNoRowsUpdated
	}
	m.Status = models.MilestoneStatusVerified
	m.VerifiedAt = &at
	return nil
}

func (r *mockMilestones) MarkRejectedTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || m.Status != models.MilestoneStatusCompleted {
		return repository.ErrNoRowsUpdated
	}
	m.Status = models.MilestoneStatusInProgress
	m.ProofRef = nil
	m.CompletedAt = nil
	return nil
}

func (r *mockMilestones) AddReleasedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal, txHash string) (decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || m.Status != models.MilestoneStatusVerified {
		return decimal.Zero, repository.ErrNoRowsUpdated
	}
	next := m.ReleasedAmount.Add(amount)
	if next.GreaterThan(m.TargetAmount) {
		return decimal.Zero, repository.ErrNoRowsUpdated
	}
	m.ReleasedAmount = next
	m.ReleaseTxHash = &txHash
	return next, nil
}

func (r *mockMilestones) MarkReleasedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok || m.Status != models.MilestoneStatusVerified {
		return repository.ErrNoRowsUpdated
	}
	m.Status = models.MilestoneStatusReleased
	m.ReleasedAt = &at
	return nil
}

func (r *mockMilestones) CountUnreleasedTx(_ context.Context, _ pgx.Tx, requestID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, m := range r.db.milestones {
		if m.FundingRequestID == requestID && m.Status != models.MilestoneStatusReleased {
			n++
		}
	}
	return n, nil
}

// --- mockInvestments implements DepositStore and TrackerInvestmentStore. ---

type mockInvestments struct{ db *memDB }

func (r *mockInvestments) CreateTx(_ context.Context, _ pgx.Tx, inv *models.Investment) error {
	r.db.putInvestment(inv)
	return nil
}

func (r *mockInvestments) GetByID(_ context.Context, id uuid.UUID) (*models.Investment, error) {
	if inv := r.db.investment(id); inv != nil {
		return inv, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *mockInvestments) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Investment, error) {
	return r.GetByID(ctx, id)
}

func (r *mockInvestments) SumByStatusTx(_ context.Context, _ pgx.Tx, requestID uuid.UUID, statuses ...string) (decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	sum := decimal.Zero
	for _, inv := range r.db.investments {
		if inv.FundingRequestID != requestID {
			continue
		}
		for _, st := range statuses {
			if inv.Status == st {
				sum = sum.Add(inv.Amount)
				break
			}
		}
	}
	return sum, nil
}

func (r *mockInvestments) ConfirmTx(_ context.Context, _ pgx.Tx, id uuid.UUID, txHash string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.investments[id]
	if !ok || inv.Status != models.InvestmentStatusPending {
		return repository.ErrNoRowsUpdated
	}
	inv.Status = models.InvestmentStatusDeposited
	inv.DepositTxHash = &txHash
	inv.DepositedAt = &at
	return nil
}

func (r *mockInvestments) MarkCompletedByRequestTx(_ context.Context, _ pgx.Tx, requestID uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, inv := range r.db.investments {
		if inv.FundingRequestID != requestID {
			continue
		}
		if inv.Status == models.InvestmentStatusDeposited || inv.Status == models.InvestmentStatusActive {
			inv.Status = models.InvestmentStatusCompleted
			inv.CompletedAt = &at
		}
	}
	return nil
}

func (r *mockInvestments) MarkRefundedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, refundTxHash string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.investments[id]
	if !ok {
		return false, nil
	}
	if inv.Status != models.InvestmentStatusDeposited && inv.Status != models.InvestmentStatusActive {
		return false, nil
	}
	inv.Status = models.InvestmentStatusRefunded
	inv.RefundTxHash = &refundTxHash
	return true, nil
}

func (r *mockInvestments) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*models.Investment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Investment
	for _, inv := range r.db.investments {
		if inv.FundingRequestID == requestID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockInvestments) ListByLender(_ context.Context, lenderID uuid.UUID) ([]*models.Investment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Investment
	for _, inv := range r.db.investments {
		if inv.LenderID == lenderID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- recordingAudit collects every audit event the services emit. ---

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, _ pgx.Tx, ev AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAudit) byType(eventType string) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEvent
	for _, ev := range a.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
