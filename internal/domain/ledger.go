// internal/domain/ledger.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User carries the internally tracked spendable balance
type User struct {
	ID                 string
	Balance            decimal.Decimal
	BalanceCorrectedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LedgerSnapshot is the history a balance is recomputed from, read under the user lock
type LedgerSnapshot struct {
	UserID                 string
	StoredBalance          decimal.Decimal
	ConfirmedDeposits      decimal.Decimal
	OutstandingWithdrawals decimal.Decimal
}

// Expected returns the balance implied by the deposit and withdrawal history
func (s LedgerSnapshot) Expected() decimal.Decimal {
	return s.ConfirmedDeposits.Sub(s.OutstandingWithdrawals)
}

// Reconciliation is the outcome of one balance recomputation
type Reconciliation struct {
	UserID                 string
	StoredBalance          decimal.Decimal
	ComputedBalance        decimal.Decimal
	ConfirmedDeposits      decimal.Decimal
	OutstandingWithdrawals decimal.Decimal
	Corrected              bool
	CheckedAt              time.Time
}

// Delta returns computed minus stored
func (r *Reconciliation) Delta() decimal.Decimal {
	return r.ComputedBalance.Sub(r.StoredBalance)
}
