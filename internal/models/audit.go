package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Domain event types mirrored to the consensus log. Closed enum: add here and
// nowhere else.
const (
	EventCreateRequest     = "CREATE_REQUEST"
	EventRequestPublished  = "REQUEST_PUBLISHED"
	EventDeposit           = "DEPOSIT"
	EventMilestoneStarted  = "MILESTONE_STARTED"
	EventMilestoneComplete = "MILESTONE_COMPLETE"
	EventVerifyMilestone   = "VERIFY_MILESTONE"
	EventReleaseFunds      = "RELEASE_FUNDS"
	EventRefund            = "REFUND"
	EventRequestCancelled  = "REQUEST_CANCELLED"
)

// Mirror status for the best-effort consensus-log copy of an audit entry.
// The local entry always commits with the state change; the mirror is
// retried out-of-band and never blocks the transition.
const (
	MirrorStatusPending   = "PENDING"
	MirrorStatusConfirmed = "CONFIRMED"
	MirrorStatusFailed    = "FAILED"
)

// AuditLogEntry is the local, append-only record of a state-changing
// operation. Entries are never mutated after creation except for the mirror
// bookkeeping fields.
type AuditLogEntry struct {
	ID               uuid.UUID       `json:"id"`
	EventType        string          `json:"event_type"`
	FundingRequestID *uuid.UUID      `json:"funding_request_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	ActorID          *uuid.UUID      `json:"actor_id,omitempty"`
	MirrorStatus     string          `json:"mirror_status"`
	MirrorMessageID  *string         `json:"mirror_message_id,omitempty"`
	TransactionHash  *string         `json:"transaction_hash,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
