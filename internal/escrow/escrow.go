// Package escrow abstracts the custodial account that pools investor funds
// until milestone-gated release. In production this is a Hedera custodial
// account operated by the platform; the mock variant keeps balances in
// memory. Both sit behind the Service interface so the funding core never
// touches SDK types.
package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Service is the custodial escrow account contract.
type Service interface {
	// Deposit pulls amount from the investor's account into escrow and
	// returns the transfer transaction hash.
	Deposit(ctx context.Context, fromAccount string, amount decimal.Decimal) (string, error)
	// Release pays amount out of escrow to the startup's account.
	Release(ctx context.Context, toAccount string, amount decimal.Decimal, memo string) (string, error)
	// Refund returns amount from escrow to an investor. Memo carries the
	// idempotency key so a retried refund is detectable downstream.
	Refund(ctx context.Context, toAccount string, amount decimal.Decimal, memo string) (string, error)
	// Balance reports the escrow account's current balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Transfer records one movement through the mock escrow account.
type Transfer struct {
	Kind    string // deposit | release | refund
	Account string
	Amount  decimal.Decimal
	Memo    string
	TxHash  string
}

// MockService is the in-memory escrow used in development and tests.
type MockService struct {
	mu        sync.Mutex
	seq       int64
	balance   decimal.Decimal
	transfers []Transfer

	// Failure switches for tests.
	FailDeposit error
	FailRelease error
	FailRefund  error
}

func NewMockService() *MockService {
	return &MockService{balance: decimal.Zero}
}

var _ Service = (*MockService)(nil)

func (m *MockService) Deposit(_ context.Context, fromAccount string, amount decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeposit != nil {
		return "", m.FailDeposit
	}
	m.balance = m.balance.Add(amount)
	hash := m.txHash()
	m.transfers = append(m.transfers, Transfer{Kind: "deposit", Account: fromAccount, Amount: amount, TxHash: hash})
	return hash, nil
}

func (m *MockService) Release(_ context.Context, toAccount string, amount decimal.Decimal, memo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRelease != nil {
		return "", m.FailRelease
	}
	if m.balance.LessThan(amount) {
		return "", fmt.Errorf("escrow balance %s below release amount %s", m.balance, amount)
	}
	m.balance = m.balance.Sub(amount)
	hash := m.txHash()
	m.transfers = append(m.transfers, Transfer{Kind: "release", Account: toAccount, Amount: amount, Memo: memo, TxHash: hash})
	return hash, nil
}

func (m *MockService) Refund(_ context.Context, toAccount string, amount decimal.Decimal, memo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRefund != nil {
		return "", m.FailRefund
	}
	if m.balance.LessThan(amount) {
		return "", fmt.Errorf("escrow balance %s below refund amount %s", m.balance, amount)
	}
	m.balance = m.balance.Sub(amount)
	hash := m.txHash()
	m.transfers = append(m.transfers, Transfer{Kind: "refund", Account: toAccount, Amount: amount, Memo: memo, TxHash: hash})
	return hash, nil
}

func (m *MockService) Balance(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

// Transfers returns a copy of all recorded movements.
func (m *MockService) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

func (m *MockService) txHash() string {
	m.seq++
	return fmt.Sprintf("0x%016x%016x", time.Now().UnixNano(), m.seq)
}
