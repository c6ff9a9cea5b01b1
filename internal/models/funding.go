package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Funding request status enums. Transitions are monotonic except for the
// CANCELLED escape hatch (see services.FundingService).
const (
	RequestStatusDraft     = "DRAFT"
	RequestStatusOpen      = "OPEN"
	RequestStatusFunded    = "FUNDED"
	RequestStatusActive    = "ACTIVE"
	RequestStatusCompleted = "COMPLETED"
	RequestStatusCancelled = "CANCELLED"
)

// Milestone status enums.
const (
	MilestoneStatusPending    = "PENDING"
	MilestoneStatusInProgress = "IN_PROGRESS"
	MilestoneStatusCompleted  = "COMPLETED"
	MilestoneStatusVerified   = "VERIFIED"
	MilestoneStatusReleased   = "RELEASED"
	MilestoneStatusRejected   = "REJECTED"
)

// PercentageTolerance is the rounding slack allowed when checking that
// milestone percentages sum to 100 and target amounts sum to total_amount.
var PercentageTolerance = decimal.RequireFromString("0.01")

// HundredPercent is the required sum of milestone percentages.
var HundredPercent = decimal.NewFromInt(100)

type FundingRequest struct {
	ID              uuid.UUID       `json:"id"`
	StartupID       uuid.UUID       `json:"startup_id"`
	OwnerAccount    string          `json:"owner_account"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountRaised    decimal.Decimal `json:"amount_raised"`
	Status          string          `json:"status"`
	TopicID         *string         `json:"hcs_topic_id,omitempty"`
	Halted          bool            `json:"-"`
	CancelRequested bool            `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FundedAt        *time.Time      `json:"funded_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	Milestones []*Milestone `json:"milestones,omitempty"`
}

// ProgressPercentage reports how much of the goal has been raised, 0-100.
func (r *FundingRequest) ProgressPercentage() decimal.Decimal {
	if r.TotalAmount.IsZero() {
		return decimal.Zero
	}
	return r.AmountRaised.Div(r.TotalAmount).Mul(HundredPercent).RoundBank(2)
}

// IsFullyFunded reports whether the goal is met.
func (r *FundingRequest) IsFullyFunded() bool {
	return r.AmountRaised.GreaterThanOrEqual(r.TotalAmount)
}

type Milestone struct {
	ID                  uuid.UUID       `json:"id"`
	FundingRequestID    uuid.UUID       `json:"funding_request_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Order               int             `json:"order"`
	TargetAmount        decimal.Decimal `json:"target_amount"`
	PercentageOfRequest decimal.Decimal `json:"percentage_of_request"`
	ReleasedAmount      decimal.Decimal `json:"released_amount"`
	Status              string          `json:"status"`
	ProofRef            *string         `json:"proof_ref,omitempty"`
	VerifyMessageID     *string         `json:"verify_message_id,omitempty"`
	ReleaseTxHash       *string         `json:"release_tx_hash,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	VerifiedAt          *time.Time      `json:"verified_at,omitempty"`
	ReleasedAt          *time.Time      `json:"released_at,omitempty"`
}

// MilestoneSpec is the caller-supplied plan for one milestone of a new request.
type MilestoneSpec struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage_of_request"`
}

// BuildMilestones converts a milestone plan into concrete milestones.
// Target amounts are computed once here (banker's rounding to 2 places) and
// are immutable afterwards. Returns an error when percentages do not sum to
// 100 within tolerance, or when the rounded targets drift from total_amount
// by more than the tolerance.
func BuildMilestones(requestID uuid.UUID, totalAmount decimal.Decimal, specs []MilestoneSpec) ([]*Milestone, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one milestone is required")
	}
	pctSum := decimal.Zero
	for i, spec := range specs {
		if spec.Percentage.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("milestone %d: percentage must be > 0", i+1)
		}
		pctSum = pctSum.Add(spec.Percentage)
	}
	if pctSum.Sub(HundredPercent).Abs().GreaterThan(PercentageTolerance) {
		return nil, fmt.Errorf("milestone percentages sum to %s, want 100", pctSum)
	}

	milestones := make([]*Milestone, len(specs))
	targetSum := decimal.Zero
	for i, spec := range specs {
		target := totalAmount.Mul(spec.Percentage).Div(HundredPercent).RoundBank(2)
		targetSum = targetSum.Add(target)
		milestones[i] = &Milestone{
			ID:                  uuid.New(),
			FundingRequestID:    requestID,
			Title:               spec.Title,
			Description:         spec.Description,
			Order:               i + 1,
			TargetAmount:        target,
			PercentageOfRequest: spec.Percentage,
			ReleasedAmount:      decimal.Zero,
			Status:              MilestoneStatusPending,
		}
	}
	if targetSum.Sub(totalAmount).Abs().GreaterThan(PercentageTolerance) {
		return nil, fmt.Errorf("milestone targets sum to %s, want %s", targetSum, totalAmount)
	}
	return milestones, nil
}

// ValidateMilestonePlan re-checks an existing milestone set against the
// request total. Used at publish time so a draft cannot go live with a plan
// that no longer reconciles.
func ValidateMilestonePlan(totalAmount decimal.Decimal, milestones []*Milestone) error {
	if len(milestones) == 0 {
		return fmt.Errorf("request has no milestones")
	}
	pctSum := decimal.Zero
	targetSum := decimal.Zero
	for _, m := range milestones {
		pctSum = pctSum.Add(m.PercentageOfRequest)
		targetSum = targetSum.Add(m.TargetAmount)
	}
	if pctSum.Sub(HundredPercent).Abs().GreaterThan(PercentageTolerance) {
		return fmt.Errorf("milestone percentages sum to %s, want 100", pctSum)
	}
	if targetSum.Sub(totalAmount).Abs().GreaterThan(PercentageTolerance) {
		return fmt.Errorf("milestone targets sum to %s, want %s", targetSum, totalAmount)
	}
	return nil
}
