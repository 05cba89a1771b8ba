// internal/domain/withdrawal.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalStatusQueued     WithdrawalStatus = "queued"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusSent       WithdrawalStatus = "sent"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
	WithdrawalStatusRefunded   WithdrawalStatus = "refunded"
)

// processing -> queued only happens when the signer halts before touching the chain
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusQueued:     {WithdrawalStatusProcessing, WithdrawalStatusFailed},
	WithdrawalStatusProcessing: {WithdrawalStatusSent, WithdrawalStatusFailed, WithdrawalStatusQueued},
	WithdrawalStatusFailed:     {WithdrawalStatusRefunded},
}

func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsDebit reports whether the creation-time debit is still in effect
func (s WithdrawalStatus) HoldsDebit() bool {
	return s != WithdrawalStatusRefunded
}

// WithdrawalRequest is a queued payout from the custodial address
type WithdrawalRequest struct {
	ID        string
	UserID    string
	ToAddress string
	Amount    decimal.Decimal

	Status              WithdrawalStatus
	TxHash              *string
	Nonce               *uint64
	ProcessingStartedAt *time.Time
	ErrorReason         *string

	CreatedAt  time.Time
	SentAt     *time.Time
	FailedAt   *time.Time
	RefundedAt *time.Time
	UpdatedAt  time.Time
}

// Cancellable reports whether the request can still be aborted by the user
func (w *WithdrawalRequest) Cancellable() bool {
	return w.Status == WithdrawalStatusQueued
}
