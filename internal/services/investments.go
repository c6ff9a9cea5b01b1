package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/escrow"
	"github.com/nilefi/backend/internal/metrics"
	"github.com/nilefi/backend/internal/models"
)

// TrackerInvestmentStore is the investment repository surface for the tracker.
type TrackerInvestmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Investment, error)
	ListByLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Investment, error)
	SumByStatusTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, statuses ...string) (decimal.Decimal, error)
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundTxHash string) (bool, error)
}

// TrackerRequestStore is the request repository surface for the tracker.
type TrackerRequestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.FundingRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.FundingRequest, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	SetCancelRequestedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	SubtractFromRaisedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error
	SetHalted(ctx context.Context, id uuid.UUID, halted bool) error
}

// InvestmentTracker reconciles investments against the funding ledger's
// raised amount, serves the investment query surface, and drives the
// cancellation/refund workflow.
type InvestmentTracker struct {
	pool        TxBeginner
	requests    TrackerRequestStore
	investments TrackerInvestmentStore
	audit       AuditRecorder
	escrow      escrow.Service
	logger      *slog.Logger
}

func NewInvestmentTracker(pool TxBeginner, requests TrackerRequestStore, investments TrackerInvestmentStore, audit AuditRecorder, esc escrow.Service, logger *slog.Logger) *InvestmentTracker {
	return &InvestmentTracker{
		pool:        pool,
		requests:    requests,
		investments: investments,
		audit:       audit,
		escrow:      esc,
		logger:      logger,
	}
}

func (t *InvestmentTracker) ListForRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Investment, error) {
	return t.investments.ListByRequest(ctx, requestID)
}

func (t *InvestmentTracker) ListForLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Investment, error) {
	return t.investments.ListByLender(ctx, lenderID)
}

// Reconcile checks the core invariant: amount_raised must equal the sum of
// all deposited, active, and completed investments. A mismatch halts the
// request and is fatal until operators intervene.
func (t *InvestmentTracker) Reconcile(ctx context.Context, requestID uuid.UUID) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fr, err := t.requests.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: funding request", ErrNotFound)
		}
		return err
	}
	sum, err := t.investments.SumByStatusTx(ctx, tx, requestID,
		models.InvestmentStatusDeposited, models.InvestmentStatusActive, models.InvestmentStatusCompleted)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if sum.Equal(fr.AmountRaised) {
		return nil
	}

	// Halt outside the read transaction so the freeze always lands.
	if err := t.requests.SetHalted(ctx, requestID, true); err != nil {
		t.logger.Error("halt request after reconciliation failure", "request_id", requestID, "error", err)
	}
	metrics.ReconciliationFailures.Inc()
	t.logger.Error("reconciliation failure",
		"request_id", requestID,
		"amount_raised", fr.AmountRaised.String(),
		"investment_sum", sum.String())
	return fmt.Errorf("%w: amount_raised=%s investments=%s", ErrReconciliation, fr.AmountRaised, sum)
}

// CancelRequestAndRefund cancels a non-terminal request and refunds every
// investment still holding escrowed funds. The refund pass runs without the
// request row lock (only the two bracketing transactions take it); each
// refund is idempotent keyed on the investment ID, so the whole operation
// may be retried until every refund lands and the request flips to
// CANCELLED.
func (t *InvestmentTracker) CancelRequestAndRefund(ctx context.Context, actorID, requestID uuid.UUID) error {
	// Phase 1: gate new deposits while refunds are in flight.
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	fr, err := t.requests.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: funding request", ErrNotFound)
		}
		return err
	}
	if fr.Halted {
		tx.Rollback(ctx)
		return ErrRequestHalted
	}
	if fr.Status == models.RequestStatusCompleted || fr.Status == models.RequestStatusCancelled {
		tx.Rollback(ctx)
		return fmt.Errorf("%w: request is already %s", ErrInvalidState, fr.Status)
	}
	if err := t.requests.SetCancelRequestedTx(ctx, tx, requestID); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Phase 2: refunds, one short transaction per investment.
	all, err := t.investments.ListByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	var failed []error
	for _, inv := range all {
		switch inv.Status {
		case models.InvestmentStatusDeposited, models.InvestmentStatusActive:
		default:
			continue
		}
		if err := t.refundOne(ctx, actorID, inv); err != nil {
			t.logger.Warn("refund failed", "investment_id", inv.ID, "error", err)
			failed = append(failed, fmt.Errorf("investment %s: %w", inv.ID, err))
		}
	}
	if len(failed) > 0 {
		return &ExternalServiceError{
			Op:             "escrow.refund",
			IdempotencyKey: requestID.String(),
			Err:            errors.Join(failed...),
		}
	}

	// Phase 3: all refunds confirmed; close the request.
	tx, err = t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := t.requests.GetByIDForUpdate(ctx, tx, requestID); err != nil {
		return err
	}
	outstanding, err := t.investments.SumByStatusTx(ctx, tx, requestID,
		models.InvestmentStatusDeposited, models.InvestmentStatusActive)
	if err != nil {
		return err
	}
	if !outstanding.IsZero() {
		return fmt.Errorf("%w: %s still escrowed after refund pass", ErrInvalidState, outstanding)
	}
	if err := t.requests.UpdateStatusTx(ctx, tx, requestID, models.RequestStatusCancelled); err != nil {
		return err
	}
	err = t.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventRequestCancelled,
		RequestID: &requestID,
		ActorID:   &actorID,
		Payload: map[string]any{
			"request_id": requestID.String(),
		},
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *InvestmentTracker) refundOne(ctx context.Context, actorID uuid.UUID, inv *models.Investment) error {
	memo := fmt.Sprintf("refund:%s", inv.ID)
	escrowCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	txHash, err := t.escrow.Refund(escrowCtx, inv.LenderAccount, inv.Amount, memo)
	cancel()
	if err != nil {
		return err
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	marked, err := t.investments.MarkRefundedTx(ctx, tx, inv.ID, txHash)
	if err != nil {
		return err
	}
	// Release the refunded share of amount_raised in the same transaction,
	// keeping amount_raised equal to the sum of non-refunded investments. The
	// marked flag guards a replayed refund from subtracting twice.
	if marked {
		if err := t.requests.SubtractFromRaisedTx(ctx, tx, inv.FundingRequestID, inv.Amount); err != nil {
			return err
		}
	}
	err = t.audit.Record(ctx, tx, AuditEvent{
		Type:      models.EventRefund,
		RequestID: &inv.FundingRequestID,
		ActorID:   &actorID,
		TxHash:    &txHash,
		Payload: map[string]any{
			"investment_id": inv.ID.String(),
			"lender_id":     inv.LenderID.String(),
			"amount":        inv.Amount.String(),
			"tx_hash":       txHash,
		},
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	metrics.RefundsIssued.Inc()
	return nil
}
