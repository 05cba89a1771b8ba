// internal/domain/deposit.go
package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus represents the lifecycle of a deposit intent
type DepositStatus string

const (
	DepositStatusWaiting        DepositStatus = "waiting"
	DepositStatusMatchedPending DepositStatus = "matched_pending"
	DepositStatusConfirmed      DepositStatus = "confirmed"
	DepositStatusExpired        DepositStatus = "expired"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusWaiting:        {DepositStatusMatchedPending, DepositStatusExpired},
	DepositStatusMatchedPending: {DepositStatusConfirmed},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	return slices.Contains(depositTransitions[s], next)
}

// DepositSourcesOf lists, sorted, every status that may move to next.
// Repositories guard their updates with it so the table above is the only
// place the lifecycle is written down.
func DepositSourcesOf(next DepositStatus) []string {
	var out []string
	for from, allowed := range depositTransitions {
		if slices.Contains(allowed, next) {
			out = append(out, string(from))
		}
	}
	slices.Sort(out)
	return out
}

// DepositIntent is a user's announced deposit to the shared custodial address.
// UniqueAmount is what the user must send; BaseAmount is what gets credited.
type DepositIntent struct {
	ID           string
	UserID       string
	BaseAmount   decimal.Decimal
	UniqueAmount decimal.Decimal
	Address      string
	Salt         uint32

	Status        DepositStatus
	TxHash        *string
	FromAddress   *string
	BlockNumber   *uint64
	Confirmations int

	CreatedAt   time.Time
	ExpiresAt   time.Time
	MatchedAt   *time.Time
	ConfirmedAt *time.Time
	ExpiredAt   *time.Time
	UpdatedAt   time.Time
}

// Matched reports whether a chain transfer has been bound to the intent
func (d *DepositIntent) Matched() bool {
	return d.TxHash != nil
}

// IsOpen reports whether the intent can still be matched at now
func (d *DepositIntent) IsOpen(now time.Time) bool {
	return d.Status == DepositStatusWaiting && now.Before(d.ExpiresAt)
}

// TransferFlag explains why an observed transfer was not bound to an intent
type TransferFlag string

const (
	TransferFlagUnmatched TransferFlag = "unmatched"
	TransferFlagAmbiguous TransferFlag = "ambiguous"
)

// UnmatchedTransfer is an incoming custodial transfer kept for manual review
type UnmatchedTransfer struct {
	TxHash       string
	FromAddress  string
	Amount       decimal.Decimal
	BlockNumber  uint64
	Reason       TransferFlag
	CandidateIDs []string
	CreatedAt    time.Time
}
