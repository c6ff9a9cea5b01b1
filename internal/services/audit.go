package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nilefi/backend/internal/mirror"
	"github.com/nilefi/backend/internal/models"
)

// AuditStore is the minimal audit repository interface for the recorder.
type AuditStore interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.AuditLogEntry) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error)
}

// EnqueueMirrorTxFunc enqueues a consensus-mirror job within the given
// transaction. Provided by main using river.Client.InsertTx so the job
// commits atomically with the audit entry.
type EnqueueMirrorTxFunc func(ctx context.Context, tx pgx.Tx, args mirror.LogEventArgs) error

// AuditEvent is one state-changing operation to be recorded.
type AuditEvent struct {
	Type      string
	RequestID *uuid.UUID
	ActorID   *uuid.UUID
	TxHash    *string
	Payload   map[string]any
}

// AuditService records every state-changing operation locally, in the same
// transaction as the state change, and schedules the best-effort mirror to
// the consensus log. Local recording is mandatory; mirroring is not allowed
// to block or fail the transition.
type AuditService struct {
	store   AuditStore
	enqueue EnqueueMirrorTxFunc
	logger  *slog.Logger
}

func NewAuditService(store AuditStore, enqueue EnqueueMirrorTxFunc, logger *slog.Logger) *AuditService {
	return &AuditService{store: store, enqueue: enqueue, logger: logger}
}

// Record appends one audit entry inside tx and enqueues its mirror job.
// A failed enqueue is logged and swallowed: the entry commits as PENDING and
// stays visible for out-of-band requeue, but the financial transition is
// never held hostage by queue trouble.
func (s *AuditService) Record(ctx context.Context, tx pgx.Tx, ev AuditEvent) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	entry := &models.AuditLogEntry{
		ID:               uuid.New(),
		EventType:        ev.Type,
		FundingRequestID: ev.RequestID,
		Payload:          body,
		ActorID:          ev.ActorID,
		TransactionHash:  ev.TxHash,
		MirrorStatus:     models.MirrorStatusPending,
	}
	if err := s.store.AppendTx(ctx, tx, entry); err != nil {
		return err
	}
	if s.enqueue == nil {
		return nil
	}
	if err := s.enqueue(ctx, tx, mirror.LogEventArgs{AuditID: entry.ID}); err != nil {
		s.logger.Warn("enqueue ledger mirror", "audit_id", entry.ID, "event_type", ev.Type, "error", err)
	}
	return nil
}

// Trail returns the audit entries for a request in commit order.
func (s *AuditService) Trail(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error) {
	return s.store.ListByRequest(ctx, requestID)
}
