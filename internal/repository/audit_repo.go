package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nilefi/backend/internal/models"
)

// AuditRepo persists the local append-only audit trail. Entries are written
// in the same transaction as the state change they describe; only the mirror
// bookkeeping fields are ever updated afterwards.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

const auditColumns = `id, event_type, funding_request_id, payload, actor_id,
		mirror_status, mirror_message_id, transaction_hash, created_at`

func scanAuditEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	err := row.Scan(&e.ID, &e.EventType, &e.FundingRequestID, &e.Payload, &e.ActorID,
		&e.MirrorStatus, &e.MirrorMessageID, &e.TransactionHash, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *AuditRepo) AppendTx(ctx context.Context, tx pgx.Tx, e *models.AuditLogEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO audit_log (id, event_type, funding_request_id, payload, actor_id, mirror_status, transaction_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.EventType, e.FundingRequestID, e.Payload, e.ActorID, e.MirrorStatus, e.TransactionHash).
		Scan(&e.CreatedAt)
}

func (r *AuditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLogEntry, error) {
	return scanAuditEntry(r.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, id))
}

// MarkMirrored records a successful consensus-log mirror.
func (r *AuditRepo) MarkMirrored(ctx context.Context, id uuid.UUID, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audit_log SET mirror_status = $1, mirror_message_id = $2 WHERE id = $3
	`, models.MirrorStatusConfirmed, messageID, id)
	return err
}

// MarkMirrorFailed records that mirroring was abandoned after retries. The
// entry itself stays; only external visibility is degraded.
func (r *AuditRepo) MarkMirrorFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audit_log SET mirror_status = $1 WHERE id = $2
	`, models.MirrorStatusFailed, id)
	return err
}

// ListByRequest returns the audit trail for one funding request in the order
// the state transitions were committed.
func (r *AuditRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_log
		WHERE funding_request_id = $1 ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// MirrorStatusCounts returns how many audit entries sit in each mirror
// status. A growing PENDING count means the consensus log is behind.
func (r *AuditRepo) MirrorStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT mirror_status, COUNT(*) FROM audit_log GROUP BY mirror_status
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
