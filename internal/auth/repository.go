package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nilefi/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account and returns the created Account.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName, role, ledgerAccount string) (*models.Account, error) {
	a := models.Account{
		Email:         email,
		DisplayName:   displayName,
		Role:          role,
		LedgerAccount: ledgerAccount,
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, role, ledger_account)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, email, passwordHash, displayName, role, ledgerAccount)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail returns the account and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, ledger_account, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.Role, &a.LedgerAccount, &passwordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &a, passwordHash, nil
}

// GetByID returns the account, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, ledger_account, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.Role, &a.LedgerAccount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
