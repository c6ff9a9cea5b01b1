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

// ErrNoRowsUpdated is returned by conditional updates whose WHERE guard did
// not match. Callers translate it into the appropriate domain error.
var ErrNoRowsUpdated = errors.New("no rows updated")

type FundingRepo struct {
	pool *pgxpool.Pool
}

func NewFundingRepo(pool *pgxpool.Pool) *FundingRepo {
	return &FundingRepo{pool: pool}
}

// Begin starts a transaction. State-changing service operations run inside
// one so the per-request row lock covers the whole transition.
func (r *FundingRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const fundingRequestColumns = `id, startup_id, owner_account, title, description, total_amount, amount_raised,
		status, hcs_topic_id, halted, cancel_requested, created_at, updated_at, funded_at, completed_at`

func scanFundingRequest(row pgx.Row) (*models.FundingRequest, error) {
	var fr models.FundingRequest
	err := row.Scan(&fr.ID, &fr.StartupID, &fr.OwnerAccount, &fr.Title, &fr.Description,
		&fr.TotalAmount, &fr.AmountRaised, &fr.Status, &fr.TopicID, &fr.Halted,
		&fr.CancelRequested, &fr.CreatedAt, &fr.UpdatedAt, &fr.FundedAt, &fr.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

func (r *FundingRepo) CreateTx(ctx context.Context, tx pgx.Tx, fr *models.FundingRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO funding_requests (id, startup_id, owner_account, title, description, total_amount, amount_raised, status, hcs_topic_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, fr.ID, fr.StartupID, fr.OwnerAccount, fr.Title, fr.Description,
		fr.TotalAmount, fr.AmountRaised, fr.Status, fr.TopicID).Scan(&fr.CreatedAt, &fr.UpdatedAt)
}

func (r *FundingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FundingRequest, error) {
	return scanFundingRequest(r.pool.QueryRow(ctx,
		`SELECT `+fundingRequestColumns+` FROM funding_requests WHERE id = $1`, id))
}

// GetByIDForUpdate locks the request row for the duration of the transaction.
// This is the per-request serialization point: every state-changing operation
// acquires it first, so concurrent deposits and releases cannot interleave.
func (r *FundingRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.FundingRequest, error) {
	return scanFundingRequest(tx.QueryRow(ctx,
		`SELECT `+fundingRequestColumns+` FROM funding_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *FundingRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE funding_requests SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// MarkFundedTx flips OPEN -> FUNDED and stamps funded_at. The status guard
// keeps a replayed call from clobbering a later state.
func (r *FundingRepo) MarkFundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE funding_requests SET status = $1, funded_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.RequestStatusFunded, at, id, models.RequestStatusOpen)
	return err
}

func (r *FundingRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE funding_requests SET status = $1, completed_at = $2, updated_at = now() WHERE id = $3
	`, models.RequestStatusCompleted, at, id)
	return err
}

// AddToRaisedTx atomically increments amount_raised. The WHERE guard re-checks
// the overfunding invariant at commit granularity; zero rows affected means
// the deposit would overshoot the total.
func (r *FundingRepo) AddToRaisedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var newRaised decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE funding_requests
		SET amount_raised = amount_raised + $1, updated_at = now()
		WHERE id = $2 AND amount_raised + $1 <= total_amount
		RETURNING amount_raised
	`, amount, id).Scan(&newRaised)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNoRowsUpdated
	}
	return newRaised, err
}

// SubtractFromRaisedTx releases a refunded investment's share of
// amount_raised. The WHERE guard keeps the counter from going negative on a
// replayed refund.
func (r *FundingRepo) SubtractFromRaisedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE funding_requests
		SET amount_raised = amount_raised - $1, updated_at = now()
		WHERE id = $2 AND amount_raised - $1 >= 0
	`, amount, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// TopicID returns the request's consensus topic, if one was provisioned.
func (r *FundingRepo) TopicID(ctx context.Context, id uuid.UUID) (*string, error) {
	var topic *string
	err := r.pool.QueryRow(ctx, `SELECT hcs_topic_id FROM funding_requests WHERE id = $1`, id).Scan(&topic)
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// SetHalted freezes (or unfreezes) all writes to a request after a
// reconciliation failure. Deliberately outside any transaction so the freeze
// lands even when the detecting transaction rolls back.
func (r *FundingRepo) SetHalted(ctx context.Context, id uuid.UUID, halted bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE funding_requests SET halted = $1, updated_at = now() WHERE id = $2
	`, halted, id)
	return err
}

func (r *FundingRepo) SetCancelRequestedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE funding_requests SET cancel_requested = true, updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *FundingRepo) ListByStartup(ctx context.Context, startupID uuid.UUID) ([]*models.FundingRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fundingRequestColumns+` FROM funding_requests
		WHERE startup_id = $1 ORDER BY created_at DESC
	`, startupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.FundingRequest
	for rows.Next() {
		fr, err := scanFundingRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, fr)
	}
	return list, rows.Err()
}

// StatusCounts returns the number of funding requests per status.
func (r *FundingRepo) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM funding_requests GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// TotalRaised sums amount_raised over all non-cancelled requests.
func (r *FundingRepo) TotalRaised(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_raised), 0) FROM funding_requests
		WHERE status != $1
	`, models.RequestStatusCancelled).Scan(&total)
	return total, err
}

func (r *FundingRepo) ListOpen(ctx context.Context) ([]*models.FundingRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fundingRequestColumns+` FROM funding_requests
		WHERE status = $1 ORDER BY created_at DESC
	`, models.RequestStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.FundingRequest
	for rows.Next() {
		fr, err := scanFundingRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, fr)
	}
	return list, rows.Err()
}
