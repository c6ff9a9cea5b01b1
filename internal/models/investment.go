package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Investment status enums.
const (
	InvestmentStatusPending   = "PENDING"
	InvestmentStatusDeposited = "DEPOSITED"
	InvestmentStatusActive    = "ACTIVE"
	InvestmentStatusCompleted = "COMPLETED"
	InvestmentStatusRefunded  = "REFUNDED"
)

// MinimumInvestment is the smallest deposit accepted on any request.
var MinimumInvestment = decimal.RequireFromString("100.00")

type Investment struct {
	ID               uuid.UUID       `json:"id"`
	FundingRequestID uuid.UUID       `json:"funding_request_id"`
	LenderID         uuid.UUID       `json:"lender_id"`
	LenderAccount    string          `json:"lender_account"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	DepositTxHash    *string         `json:"deposit_tx_hash,omitempty"`
	RefundTxHash     *string         `json:"refund_tx_hash,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DepositedAt      *time.Time      `json:"deposited_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// CountsTowardRaised reports whether this investment's amount is part of the
// request's amount_raised reconciliation sum.
func (i *Investment) CountsTowardRaised() bool {
	switch i.Status {
	case InvestmentStatusDeposited, InvestmentStatusActive, InvestmentStatusCompleted:
		return true
	}
	return false
}
