package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/models"
)

type InvestmentRepo struct {
	pool *pgxpool.Pool
}

func NewInvestmentRepo(pool *pgxpool.Pool) *InvestmentRepo {
	return &InvestmentRepo{pool: pool}
}

const investmentColumns = `id, funding_request_id, lender_id, lender_account, amount, status,
		deposit_tx_hash, refund_tx_hash, created_at, updated_at, deposited_at, completed_at`

func scanInvestment(row pgx.Row) (*models.Investment, error) {
	var inv models.Investment
	err := row.Scan(&inv.ID, &inv.FundingRequestID, &inv.LenderID, &inv.LenderAccount,
		&inv.Amount, &inv.Status, &inv.DepositTxHash, &inv.RefundTxHash,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.DepositedAt, &inv.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvestmentRepo) CreateTx(ctx context.Context, tx pgx.Tx, inv *models.Investment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO investments (id, funding_request_id, lender_id, lender_account, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, inv.ID, inv.FundingRequestID, inv.LenderID, inv.LenderAccount, inv.Amount, inv.Status).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (r *InvestmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return scanInvestment(r.pool.QueryRow(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
}

func (r *InvestmentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Investment, error) {
	return scanInvestment(tx.QueryRow(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id))
}

// SumByStatusTx totals investment amounts for a request across the given
// statuses. Used both for the pending-reservation check on acceptDeposit and
// for the reconciliation invariant.
func (r *InvestmentRepo) SumByStatusTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, statuses ...string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT coalesce(sum(amount), 0) FROM investments
		WHERE funding_request_id = $1 AND status = ANY($2)
	`, requestID, statuses).Scan(&sum)
	return sum, err
}

// ConfirmTx flips PENDING -> DEPOSITED and records the deposit transaction.
func (r *InvestmentRepo) ConfirmTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE investments SET status = $1, deposit_tx_hash = $2, deposited_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, models.InvestmentStatusDeposited, txHash, at, id, models.InvestmentStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// MarkCompletedByRequestTx completes every deposited/active investment of the
// request. Called once when the last milestone is released.
func (r *InvestmentRepo) MarkCompletedByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE investments SET status = $1, completed_at = $2, updated_at = now()
		WHERE funding_request_id = $3 AND status IN ($4, $5)
	`, models.InvestmentStatusCompleted, at, requestID,
		models.InvestmentStatusDeposited, models.InvestmentStatusActive)
	return err
}

// MarkRefundedTx records a confirmed refund. The status guard makes a
// retried refund a no-op; the returned flag reports whether this call did
// the flip, so the caller only releases the raised amount once.
func (r *InvestmentRepo) MarkRefundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundTxHash string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE investments SET status = $1, refund_tx_hash = $2, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)
	`, models.InvestmentStatusRefunded, refundTxHash, id,
		models.InvestmentStatusDeposited, models.InvestmentStatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *InvestmentRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Investment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE funding_request_id = $1 ORDER BY created_at DESC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvestments(rows)
}

func (r *InvestmentRepo) ListByLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Investment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE lender_id = $1 ORDER BY created_at DESC
	`, lenderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvestments(rows)
}

func collectInvestments(rows pgx.Rows) ([]*models.Investment, error) {
	var list []*models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}
