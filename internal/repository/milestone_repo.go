package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nilefi/backend/internal/models"
)

type MilestoneRepo struct {
	pool *pgxpool.Pool
}

func NewMilestoneRepo(pool *pgxpool.Pool) *MilestoneRepo {
	return &MilestoneRepo{pool: pool}
}

const milestoneColumns = `id, funding_request_id, title, description, ord, target_amount,
		percentage_of_request, released_amount, status, proof_ref, verify_message_id,
		release_tx_hash, created_at, updated_at, completed_at, verified_at, released_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	err := row.Scan(&m.ID, &m.FundingRequestID, &m.Title, &m.Description, &m.Order,
		&m.TargetAmount, &m.PercentageOfRequest, &m.ReleasedAmount, &m.Status,
		&m.ProofRef, &m.VerifyMessageID, &m.ReleaseTxHash,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt, &m.VerifiedAt, &m.ReleasedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MilestoneRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.Milestone) error {
	return tx.QueryRow(ctx, `
		INSERT INTO milestones (id, funding_request_id, title, description, ord, target_amount, percentage_of_request, released_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, m.ID, m.FundingRequestID, m.Title, m.Description, m.Order,
		m.TargetAmount, m.PercentageOfRequest, m.ReleasedAmount, m.Status).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *MilestoneRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return scanMilestone(r.pool.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id))
}

func (r *MilestoneRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Milestone, error) {
	return scanMilestone(tx.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 FOR UPDATE`, id))
}

func (r *MilestoneRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Milestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE funding_request_id = $1 ORDER BY ord
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func (r *MilestoneRepo) ListByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) ([]*models.Milestone, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE funding_request_id = $1 ORDER BY ord
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func collectMilestones(rows pgx.Rows) ([]*models.Milestone, error) {
	var list []*models.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *MilestoneRepo) MarkInProgressTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE milestones SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.MilestoneStatusInProgress, id, models.MilestoneStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (r *MilestoneRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, proofRef string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE milestones SET status = $1, proof_ref = $2, completed_at = $3, updated_at = now()
		WHERE id = $4 AND status IN ($5, $6)
	`, models.MilestoneStatusCompleted, proofRef, at, id,
		models.MilestoneStatusPending, models.MilestoneStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (r *MilestoneRepo) MarkVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE milestones SET status = $1, verified_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.MilestoneStatusVerified, at, id, models.MilestoneStatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// MarkRejectedTx sends a rejected milestone back to IN_PROGRESS with its
// proof cleared, so the startup can submit a new proof.
func (r *MilestoneRepo) MarkRejectedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE milestones SET status = $1, proof_ref = NULL, completed_at = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.MilestoneStatusInProgress, id, models.MilestoneStatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (r *MilestoneRepo) SetVerifyMessageID(ctx context.Context, id uuid.UUID, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE milestones SET verify_message_id = $1, updated_at = now() WHERE id = $2
	`, messageID, id)
	return err
}

// AddReleasedTx accumulates a partial release. The guard enforces that the
// cumulative released amount can never exceed target_amount.
func (r *MilestoneRepo) AddReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, txHash string) (decimal.Decimal, error) {
	var newReleased decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE milestones
		SET released_amount = released_amount + $1, release_tx_hash = $2, updated_at = now()
		WHERE id = $3 AND status = $4 AND released_amount + $1 <= target_amount
		RETURNING released_amount
	`, amount, txHash, id, models.MilestoneStatusVerified).Scan(&newReleased)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNoRowsUpdated
	}
	return newReleased, err
}

func (r *MilestoneRepo) MarkReleasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE milestones SET status = $1, released_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.MilestoneStatusReleased, at, id, models.MilestoneStatusVerified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// CountUnreleasedTx counts milestones of the request not yet fully released.
func (r *MilestoneRepo) CountUnreleasedTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM milestones WHERE funding_request_id = $1 AND status <> $2
	`, requestID, models.MilestoneStatusReleased).Scan(&n)
	return n, err
}
