package models

import (
	"time"

	"github.com/google/uuid"
)

// Platform roles.
const (
	RoleStartup = "STARTUP"
	RoleLender  = "LENDER"
	RoleAdmin   = "ADMIN"
)

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	LedgerAccount string    `json:"ledger_account"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
