package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/consensus"
	"github.com/nilefi/backend/internal/escrow"
	"github.com/nilefi/backend/internal/metrics"
	"github.com/nilefi/backend/internal/models"
	"github.com/nilefi/backend/internal/repository"
)

// externalCallTimeout bounds every escrow/consensus call made while a
// per-request row lock is held.
const externalCallTimeout = 30 * time.Second

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RequestStore is the funding-request repository surface the state machine needs.
type RequestStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, fr *models.FundingRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FundingRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.FundingRequest, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	MarkFundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	AddToRaisedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// MilestoneStore is the milestone repository surface the state machine needs.
type MilestoneStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, m *models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Milestone, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Milestone, error)
	ListByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) ([]*models.Milestone, error)
	MarkInProgressTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, proofRef string, at time.Time) error
	MarkVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	MarkRejectedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	AddReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, txHash string) (decimal.Decimal, error)
	MarkReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	CountUnreleasedTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (int, error)
}

// DepositStore is the investment repository surface the state machine needs.
type DepositStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, inv *models.Investment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Investment, error)
	SumByStatusTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, statuses ...string) (decimal.Decimal, error)
	ConfirmTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash string, at time.Time) error
	MarkCompletedByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, at time.Time) error
}

// AuditRecorder appends an audit entry inside the operation's transaction.
type AuditRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, ev AuditEvent) error
}

// FundingService owns the lifecycle of funding requests and their
// milestones: it decides every status transition and enforces the financial
// invariants. All state-changing operations on one request are serialized by
// a SELECT FOR UPDATE on the request row; operations on different requests
// proceed in parallel.
type FundingService struct {
	pool        TxBeginner
	requests    RequestStore
	milestones  MilestoneStore
	investments DepositStore
	audit       AuditRecorder
	escrow      escrow.Service
	ledger      consensus.Service
	logger      *slog.Logger
}

func NewFundingService(pool TxBeginner, requests RequestStore, milestones MilestoneStore, investments DepositStore, audit AuditRecorder, esc escrow.Service, ledger consensus.Service, logger *slog.Logger) *FundingService {
	return &FundingService{
		pool:        pool,
		requests:    requests,
		milestones:  milestones,
		investments: investments,
		audit:       audit,
		escrow:      esc,
		ledger:      ledger,
		logger:      logger,
	}
}

// CreateRequest validates the milestone plan, provisions a consensus topic
// (best effort), and persists the draft request with its milestones.
func (s *FundingService) CreateRequest(ctx context.Context, startupID uuid.UUID, ownerAccount, title, description string, totalAmount decimal.Decimal, specs []models.MilestoneSpec) (*models.FundingRequest, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: total_amount must be > 0", ErrValidation)
	}

	requestID := uuid.New()
	milestones, err := models.BuildMilestones(requestID, totalAmount, specs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Dedicated topic per request. Failure leaves the topic nil; mirroring
	// falls back to the platform topic until an operator re-provisions.
	var topicID *string
	topicCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	topic, err := s.ledger.CreateTopic(topicCtx, "NileFi funding request "+requestID.String())
	cancel()
	if err != nil {
		s.logger.Warn("create consensus topic", "request_id", requestID, "error", err)
	} else {
		topicID = &topic
	}

	fr := &models.FundingRequest{
		ID:           requestID,
		StartupID:    startupID,
		OwnerAccount: ownerAccount,
		Title:        title,
		Description:  description,
		TotalAmount:  totalAmount.RoundBank(2),
		AmountRaised: decimal.Zero,
		Status:       models.RequestStatusDraft,
		TopicID:      topicID,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.requests.CreateTx(ctx, tx, fr); err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if err := s.milestones.CreateTx(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventCreateRequest,
		RequestID: &fr.ID,
		ActorID:   &startupID,
		Payload: map[string]any{
			"request_id":   fr.ID.String(),
			"startup_id":   startupID.String(),
			"title":        title,
			"total_amount": fr.TotalAmount.String(),
			"milestones":   len(milestones),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	fr.Milestones = milestones
	return fr, nil
}

// Publish moves a draft request into OPEN after re-validating the milestone
// plan against the total.
func (s *FundingService) Publish(ctx context.Context, actorID, requestID uuid.UUID) (*models.FundingRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if fr.CancelRequested {
		return nil, fmt.Errorf("%w: request is being cancelled", ErrInvalidState)
	}
	if fr.Status != models.RequestStatusDraft {
		return nil, fmt.Errorf("%w: cannot publish request in status %s", ErrInvalidState, fr.Status)
	}
	milestones, err := s.milestones.ListByRequestTx(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateMilestonePlan(fr.TotalAmount, milestones); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.requests.UpdateStatusTx(ctx, tx, requestID, models.RequestStatusOpen); err != nil {
		return nil, err
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventRequestPublished,
		RequestID: &requestID,
		ActorID:   &actorID,
		Payload: map[string]any{
			"request_id":   requestID.String(),
			"total_amount": fr.TotalAmount.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	fr.Status = models.RequestStatusOpen
	fr.Milestones = milestones
	return fr, nil
}

// AcceptDeposit records an investor's intent as a PENDING investment. The
// raised amount is untouched until the escrow confirms receipt, but the
// pending amount is reserved: later intents cannot oversubscribe the target.
func (s *FundingService) AcceptDeposit(ctx context.Context, lenderID uuid.UUID, lenderAccount string, requestID uuid.UUID, amount decimal.Decimal) (*models.Investment, error) {
	if amount.LessThan(models.MinimumInvestment) {
		return nil, fmt.Errorf("%w: minimum investment is %s", ErrValidation, models.MinimumInvestment)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if fr.CancelRequested {
		return nil, fmt.Errorf("%w: request is being cancelled", ErrInvalidState)
	}
	if fr.Status != models.RequestStatusOpen && fr.Status != models.RequestStatusFunded {
		return nil, fmt.Errorf("%w: request is not open for funding (status %s)", ErrInvalidState, fr.Status)
	}

	pending, err := s.investments.SumByStatusTx(ctx, tx, requestID, models.InvestmentStatusPending)
	if err != nil {
		return nil, err
	}
	if fr.AmountRaised.Add(pending).Add(amount).GreaterThan(fr.TotalAmount) {
		available := fr.TotalAmount.Sub(fr.AmountRaised).Sub(pending)
		return nil, fmt.Errorf("%w: only %s remains available", ErrOverfunding, available)
	}

	inv := &models.Investment{
		ID:               uuid.New(),
		FundingRequestID: requestID,
		LenderID:         lenderID,
		LenderAccount:    lenderAccount,
		Amount:           amount.RoundBank(2),
		Status:           models.InvestmentStatusPending,
	}
	if err := s.investments.CreateTx(ctx, tx, inv); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inv, nil
}

// ConfirmDeposit completes the second phase of a deposit: the escrow
// transfer is executed (or the investor-initiated transfer reference
// recorded), the investment flips to DEPOSITED, amount_raised is
// incremented, and OPEN -> FUNDED is re-evaluated — all atomically.
// Replaying a confirmed deposit is a no-op.
func (s *FundingService) ConfirmDeposit(ctx context.Context, investmentID uuid.UUID, externalTxRef string) (*models.Investment, error) {
	inv, err := s.investments.GetByID(ctx, investmentID)
	if err != nil {
		return nil, s.mapNotFound(err, "investment")
	}
	if inv.Status == models.InvestmentStatusDeposited {
		return inv, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Request row first, then the investment: one canonical lock order for
	// every operation, so concurrent confirms and releases cannot deadlock.
	fr, err := s.lockRequest(ctx, tx, inv.FundingRequestID)
	if err != nil {
		return nil, err
	}
	if fr.CancelRequested {
		return nil, fmt.Errorf("%w: request is being cancelled", ErrInvalidState)
	}
	if fr.Status != models.RequestStatusOpen && fr.Status != models.RequestStatusFunded {
		return nil, fmt.Errorf("%w: request is not open for funding (status %s)", ErrInvalidState, fr.Status)
	}

	inv, err = s.investments.GetByIDForUpdate(ctx, tx, investmentID)
	if err != nil {
		return nil, s.mapNotFound(err, "investment")
	}
	if inv.Status == models.InvestmentStatusDeposited {
		return inv, nil
	}
	if inv.Status != models.InvestmentStatusPending {
		return nil, fmt.Errorf("%w: investment is %s, not PENDING", ErrInvalidState, inv.Status)
	}

	// The escrow call happens while the row lock is held: the local
	// transition depends on its outcome. Bounded by the external timeout.
	txRef := externalTxRef
	if txRef == "" {
		escrowCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
		txRef, err = s.escrow.Deposit(escrowCtx, inv.LenderAccount, inv.Amount)
		cancel()
		if err != nil {
			return nil, &ExternalServiceError{Op: "escrow.deposit", IdempotencyKey: investmentID.String(), Err: err}
		}
	}

	now := time.Now()
	if err := s.investments.ConfirmTx(ctx, tx, investmentID, txRef, now); err != nil {
		return nil, err
	}
	newRaised, err := s.requests.AddToRaisedTx(ctx, tx, inv.FundingRequestID, inv.Amount)
	if err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return nil, fmt.Errorf("%w: deposit of %s exceeds remaining capacity", ErrOverfunding, inv.Amount)
		}
		return nil, err
	}
	if newRaised.GreaterThanOrEqual(fr.TotalAmount) && fr.Status == models.RequestStatusOpen {
		if err := s.requests.MarkFundedTx(ctx, tx, inv.FundingRequestID, now); err != nil {
			return nil, err
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventDeposit,
		RequestID: &inv.FundingRequestID,
		ActorID:   &inv.LenderID,
		TxHash:    &txRef,
		Payload: map[string]any{
			"investment_id": inv.ID.String(),
			"lender_id":     inv.LenderID.String(),
			"amount":        inv.Amount.String(),
			"amount_raised": newRaised.String(),
			"tx_hash":       txRef,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.DepositsConfirmed.Inc()

	inv.Status = models.InvestmentStatusDeposited
	inv.DepositTxHash = &txRef
	inv.DepositedAt = &now
	return inv, nil
}

// StartMilestone moves a milestone into IN_PROGRESS and the parent request
// into ACTIVE.
func (s *FundingService) StartMilestone(ctx context.Context, actorID, milestoneID uuid.UUID) error {
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return s.mapNotFound(err, "milestone")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, m.FundingRequestID)
	if err != nil {
		return err
	}
	switch fr.Status {
	case models.RequestStatusOpen, models.RequestStatusFunded, models.RequestStatusActive:
	default:
		return fmt.Errorf("%w: request is %s", ErrInvalidState, fr.Status)
	}
	if _, err := s.milestones.GetByIDForUpdate(ctx, tx, milestoneID); err != nil {
		return s.mapNotFound(err, "milestone")
	}
	if err := s.milestones.MarkInProgressTx(ctx, tx, milestoneID); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return fmt.Errorf("%w: milestone is not PENDING", ErrInvalidState)
		}
		return err
	}
	if fr.Status != models.RequestStatusActive {
		if err := s.requests.UpdateStatusTx(ctx, tx, fr.ID, models.RequestStatusActive); err != nil {
			return err
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventMilestoneStarted,
		RequestID: &fr.ID,
		ActorID:   &actorID,
		Payload: map[string]any{
			"milestone_id": milestoneID.String(),
			"order":        m.Order,
		},
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SubmitMilestoneProof records completion proof for a milestone and moves
// the parent request to ACTIVE if it was only FUNDED.
func (s *FundingService) SubmitMilestoneProof(ctx context.Context, actorID, milestoneID uuid.UUID, proofRef string) error {
	if proofRef == "" {
		return fmt.Errorf("%w: proof reference is required", ErrValidation)
	}
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return s.mapNotFound(err, "milestone")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, m.FundingRequestID)
	if err != nil {
		return err
	}
	if fr.Status != models.RequestStatusFunded && fr.Status != models.RequestStatusActive {
		return fmt.Errorf("%w: request is %s, proof requires FUNDED or ACTIVE", ErrInvalidState, fr.Status)
	}
	m, err = s.milestones.GetByIDForUpdate(ctx, tx, milestoneID)
	if err != nil {
		return s.mapNotFound(err, "milestone")
	}
	if m.Status != models.MilestoneStatusPending && m.Status != models.MilestoneStatusInProgress {
		return fmt.Errorf("%w: milestone is %s", ErrInvalidState, m.Status)
	}
	if err := s.milestones.MarkCompletedTx(ctx, tx, milestoneID, proofRef, time.Now()); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return fmt.Errorf("%w: milestone is not awaiting proof", ErrInvalidState)
		}
		return err
	}
	if fr.Status == models.RequestStatusFunded {
		if err := s.requests.UpdateStatusTx(ctx, tx, fr.ID, models.RequestStatusActive); err != nil {
			return err
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventMilestoneComplete,
		RequestID: &fr.ID,
		ActorID:   &actorID,
		Payload: map[string]any{
			"milestone_id": milestoneID.String(),
			"proof_ref":    proofRef,
		},
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// VerifyMilestone approves (-> VERIFIED) or rejects (back to IN_PROGRESS,
// proof cleared) a completed milestone. Both outcomes are audited.
func (s *FundingService) VerifyMilestone(ctx context.Context, verifierID, milestoneID uuid.UUID, approve bool) error {
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return s.mapNotFound(err, "milestone")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, m.FundingRequestID)
	if err != nil {
		return err
	}
	m, err = s.milestones.GetByIDForUpdate(ctx, tx, milestoneID)
	if err != nil {
		return s.mapNotFound(err, "milestone")
	}
	if m.Status != models.MilestoneStatusCompleted {
		return fmt.Errorf("%w: milestone is %s, verification requires COMPLETED", ErrInvalidState, m.Status)
	}

	decision := "approved"
	if approve {
		if err := s.milestones.MarkVerifiedTx(ctx, tx, milestoneID, time.Now()); err != nil {
			return err
		}
	} else {
		decision = "rejected"
		if err := s.milestones.MarkRejectedTx(ctx, tx, milestoneID); err != nil {
			return err
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventVerifyMilestone,
		RequestID: &fr.ID,
		ActorID:   &verifierID,
		Payload: map[string]any{
			"milestone_id": milestoneID.String(),
			"decision":     decision,
		},
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseMilestoneFunds pays part or all of a verified milestone's target to
// the request owner. The milestone reaches RELEASED only when the cumulative
// released amount equals its target; when the last milestone releases, the
// request completes and its investments are marked COMPLETED. A failed
// escrow transfer persists nothing.
func (s *FundingService) ReleaseMilestoneFunds(ctx context.Context, actorID, milestoneID uuid.UUID, amount decimal.Decimal) (*models.Milestone, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: release amount must be > 0", ErrValidation)
	}
	m, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return nil, s.mapNotFound(err, "milestone")
	}
	// Checked before any lock or escrow traffic: a release on a milestone
	// that is not VERIFIED must have no observable side effect.
	if m.Status != models.MilestoneStatusVerified {
		return nil, fmt.Errorf("%w: milestone is %s, release requires VERIFIED", ErrInvalidState, m.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	fr, err := s.lockRequest(ctx, tx, m.FundingRequestID)
	if err != nil {
		return nil, err
	}
	m, err = s.milestones.GetByIDForUpdate(ctx, tx, milestoneID)
	if err != nil {
		return nil, s.mapNotFound(err, "milestone")
	}
	if m.Status != models.MilestoneStatusVerified {
		return nil, fmt.Errorf("%w: milestone is %s, release requires VERIFIED", ErrInvalidState, m.Status)
	}
	if m.ReleasedAmount.Add(amount).GreaterThan(m.TargetAmount) {
		remaining := m.TargetAmount.Sub(m.ReleasedAmount)
		return nil, fmt.Errorf("%w: release of %s exceeds milestone remainder %s", ErrValidation, amount, remaining)
	}

	memo := fmt.Sprintf("milestone:%s release", milestoneID)
	escrowCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	txHash, err := s.escrow.Release(escrowCtx, fr.OwnerAccount, amount, memo)
	cancel()
	if err != nil {
		return nil, &ReleaseFailedError{MilestoneID: milestoneID, Err: err}
	}

	now := time.Now()
	newReleased, err := s.milestones.AddReleasedTx(ctx, tx, milestoneID, amount, txHash)
	if err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return nil, fmt.Errorf("%w: cumulative release would exceed target", ErrValidation)
		}
		return nil, err
	}
	fullyReleased := newReleased.Equal(m.TargetAmount)
	if fullyReleased {
		if err := s.milestones.MarkReleasedTx(ctx, tx, milestoneID, now); err != nil {
			return nil, err
		}
		remaining, err := s.milestones.CountUnreleasedTx(ctx, tx, fr.ID)
		if err != nil {
			return nil, err
		}
		if remaining == 0 {
			if err := s.requests.MarkCompletedTx(ctx, tx, fr.ID, now); err != nil {
				return nil, err
			}
			if err := s.investments.MarkCompletedByRequestTx(ctx, tx, fr.ID, now); err != nil {
				return nil, err
			}
		}
	}
	err = s.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventReleaseFunds,
		RequestID: &fr.ID,
		ActorID:   &actorID,
		TxHash:    &txHash,
		Payload: map[string]any{
			"milestone_id":    milestoneID.String(),
			"amount":          amount.String(),
			"released_amount": newReleased.String(),
			"target_amount":   m.TargetAmount.String(),
			"tx_hash":         txHash,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.FundsReleased.Inc()

	m.ReleasedAmount = newReleased
	m.ReleaseTxHash = &txHash
	if fullyReleased {
		m.Status = models.MilestoneStatusReleased
		m.ReleasedAt = &now
	}
	return m, nil
}

// GetRequest returns a request with its milestones attached.
func (s *FundingService) GetRequest(ctx context.Context, requestID uuid.UUID) (*models.FundingRequest, error) {
	fr, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, s.mapNotFound(err, "funding request")
	}
	milestones, err := s.milestones.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	fr.Milestones = milestones
	return fr, nil
}

// lockRequest acquires the per-request lock and applies the halt gate common
// to every mutation.
func (s *FundingService) lockRequest(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*models.FundingRequest, error) {
	fr, err := s.requests.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, s.mapNotFound(err, "funding request")
	}
	if fr.Halted {
		return nil, ErrRequestHalted
	}
	return fr, nil
}

func (s *FundingService) mapNotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
