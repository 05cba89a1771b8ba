// internal/domain/errors.go
package domain

import "errors"

// Chain
var (
	// ErrChainUnavailable is transient: retry with backoff
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrChainRejected is permanent: the node refused the request
	ErrChainRejected = errors.New("chain rejected request")
)

// Custody
var (
	ErrKeyDecryption                = errors.New("custodial key decryption failed")
	ErrInsufficientCustodialBalance = errors.New("insufficient custodial balance")
	ErrSignerHalted                 = errors.New("withdrawal signer halted")
)

// Deposits
var (
	ErrDuplicateUniqueAmount = errors.New("duplicate amount in flight")
	ErrAmbiguousMatch        = errors.New("ambiguous deposit match")
)

// Withdrawals / ledger
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotCancellable      = errors.New("withdrawal can no longer be cancelled")
	ErrInvalidAddress      = errors.New("invalid destination address")
)

// Generic
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStaleState     = errors.New("record changed state concurrently")
)
