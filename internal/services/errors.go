package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Local errors: the operation was rejected before any side effect. Safe to
// fix the input and retry.
var (
	// ErrInvalidState is returned when an operation is not valid for the
	// entity's current status.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrOverfunding is returned when a deposit would push the raised amount
	// past the request total. Partial accepts are never performed.
	ErrOverfunding = errors.New("deposit would exceed funding target")

	// ErrValidation is returned for malformed or out-of-policy input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown entity IDs.
	ErrNotFound = errors.New("not found")

	// ErrReconciliation signals that the raised-amount invariant is broken.
	// Writes to the affected request are halted until operators intervene.
	ErrReconciliation = errors.New("reconciliation failure: raised amount does not match investments")

	// ErrRequestHalted is returned when a request has been frozen after a
	// reconciliation failure.
	ErrRequestHalted = errors.New("request is halted pending reconciliation review")
)

// ExternalServiceError wraps a failed or timed-out escrow/consensus call.
// The local state is unchanged, but the external system may have acted, so
// callers must retry with the same idempotency key.
type ExternalServiceError struct {
	Op             string
	IdempotencyKey string
	Err            error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service failure in %s (idempotency key %s): %v", e.Op, e.IdempotencyKey, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ReleaseFailedError is returned when the escrow transfer for a milestone
// release is rejected. No local state was advanced; the release may be
// retried as-is.
type ReleaseFailedError struct {
	MilestoneID uuid.UUID
	Err         error
}

func (e *ReleaseFailedError) Error() string {
	return fmt.Sprintf("release for milestone %s failed: %v", e.MilestoneID, e.Err)
}

func (e *ReleaseFailedError) Unwrap() error { return e.Err }
