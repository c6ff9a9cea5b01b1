// Package mirror retries the best-effort copy of audit entries to the
// external consensus log. Jobs are enqueued transactionally with the state
// change that produced the entry; river retries with backoff until the
// mirror lands or attempts run out. A committed financial transition is
// never rolled back by anything in this package.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/nilefi/backend/internal/consensus"
	"github.com/nilefi/backend/internal/metrics"
	"github.com/nilefi/backend/internal/models"
)

type LogEventArgs struct {
	AuditID uuid.UUID `json:"audit_id"`
}

func (LogEventArgs) Kind() string { return "mirror_ledger_event" }

// AuditStore is the subset of the audit repository the worker needs.
type AuditStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLogEntry, error)
	MarkMirrored(ctx context.Context, id uuid.UUID, messageID string) error
	MarkMirrorFailed(ctx context.Context, id uuid.UUID) error
}

// TopicLookup resolves a funding request's dedicated consensus topic.
type TopicLookup interface {
	TopicID(ctx context.Context, requestID uuid.UUID) (*string, error)
}

// MilestoneRefs back-fills the consensus message reference onto milestones
// once their verification event lands on the ledger.
type MilestoneRefs interface {
	SetVerifyMessageID(ctx context.Context, id uuid.UUID, messageID string) error
}

type Worker struct {
	river.WorkerDefaults[LogEventArgs]
	audits       AuditStore
	topics       TopicLookup
	milestones   MilestoneRefs
	ledger       consensus.Service
	defaultTopic string
	logger       *slog.Logger
}

func NewWorker(audits AuditStore, topics TopicLookup, milestones MilestoneRefs, ledger consensus.Service, defaultTopic string, logger *slog.Logger) *Worker {
	return &Worker{audits: audits, topics: topics, milestones: milestones, ledger: ledger, defaultTopic: defaultTopic, logger: logger}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[LogEventArgs]) error {
	entry, err := w.audits.GetByID(ctx, job.Args.AuditID)
	if err != nil {
		return fmt.Errorf("load audit entry %s: %w", job.Args.AuditID, err)
	}
	// Replays after a crash between LogEvent and MarkMirrored are possible;
	// an already-confirmed entry is done.
	if entry.MirrorStatus == models.MirrorStatusConfirmed {
		return nil
	}

	topic := w.resolveTopic(ctx, entry)

	messageID, err := w.ledger.LogEvent(ctx, topic, entry.EventType, entry.Payload)
	if err != nil {
		metrics.MirrorFailures.Inc()
		w.logger.Warn("ledger mirror attempt failed",
			"audit_id", entry.ID, "event_type", entry.EventType,
			"attempt", job.Attempt, "error", err)
		if job.Attempt >= job.MaxAttempts {
			if markErr := w.audits.MarkMirrorFailed(ctx, entry.ID); markErr != nil {
				w.logger.Error("mark mirror failed", "audit_id", entry.ID, "error", markErr)
			}
		}
		return fmt.Errorf("mirror %s to topic %s: %w", entry.EventType, topic, err)
	}

	if err := w.audits.MarkMirrored(ctx, entry.ID, messageID); err != nil {
		return fmt.Errorf("record mirror message id: %w", err)
	}
	if entry.EventType == models.EventVerifyMilestone && w.milestones != nil {
		w.backfillVerifyRef(ctx, entry, messageID)
	}
	metrics.MirrorConfirmed.Inc()
	return nil
}

// backfillVerifyRef parses the milestone ID out of the event payload and
// stores the consensus message reference on the milestone. Best effort: a
// miss here only degrades traceability.
func (w *Worker) backfillVerifyRef(ctx context.Context, entry *models.AuditLogEntry, messageID string) {
	var payload struct {
		MilestoneID string `json:"milestone_id"`
	}
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		w.logger.Warn("parse verify payload", "audit_id", entry.ID, "error", err)
		return
	}
	milestoneID, err := uuid.Parse(payload.MilestoneID)
	if err != nil {
		w.logger.Warn("parse milestone id", "audit_id", entry.ID, "error", err)
		return
	}
	if err := w.milestones.SetVerifyMessageID(ctx, milestoneID, messageID); err != nil {
		w.logger.Warn("set verify message id", "milestone_id", milestoneID, "error", err)
	}
}

// resolveTopic prefers the request's dedicated topic and falls back to the
// platform topic when the request has none (topic creation failed or the
// event is not tied to a request).
func (w *Worker) resolveTopic(ctx context.Context, entry *models.AuditLogEntry) string {
	if entry.FundingRequestID == nil {
		return w.defaultTopic
	}
	topic, err := w.topics.TopicID(ctx, *entry.FundingRequestID)
	if err != nil || topic == nil || *topic == "" {
		return w.defaultTopic
	}
	return *topic
}
