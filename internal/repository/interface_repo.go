// internal/repository/interface_repo.go
package repository

import (
	"context"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/shopspring/decimal"
)

// MatchInfo binds an observed chain transfer to a deposit intent
type MatchInfo struct {
	TxHash        string
	FromAddress   string
	BlockNumber   uint64
	Confirmations int
	MatchedAt     time.Time
}

// Every state-changing method returning (bool, error) is guarded by the
// expected current status and reports whether this call made the transition.

type DepositRepository interface {
	// Create fails with domain.ErrDuplicateUniqueAmount when a waiting intent holds the amount
	Create(ctx context.Context, intent *domain.DepositIntent) error
	GetByID(ctx context.Context, id string) (*domain.DepositIntent, error)
	GetByTxHash(ctx context.Context, txHash string) (*domain.DepositIntent, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositIntent, error)
	ListWaiting(ctx context.Context) ([]*domain.DepositIntent, error)
	ListMatchedPending(ctx context.Context) ([]*domain.DepositIntent, error)

	MarkMatched(ctx context.Context, id string, m MatchInfo) (bool, error)
	UpdateConfirmations(ctx context.Context, id string, blockNumber uint64, confirmations int) error
	// ConfirmAndCredit moves matched_pending -> confirmed and credits the base
	// amount in one transaction
	ConfirmAndCredit(ctx context.Context, id string, confirmations int, at time.Time) (bool, error)
	// ExpireOverdue expires waiting intents with expires_at <= cutoff, stamping them at now
	ExpireOverdue(ctx context.Context, cutoff, now time.Time) ([]*domain.DepositIntent, error)
}

type WithdrawalRepository interface {
	// CreateWithDebit fails with domain.ErrInsufficientBalance when the ledger cannot cover the amount
	CreateWithDebit(ctx context.Context, w *domain.WithdrawalRequest) error
	GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WithdrawalRequest, error)

	// ClaimNextQueued returns domain.ErrNotFound when the queue is empty
	ClaimNextQueued(ctx context.Context, now time.Time) (*domain.WithdrawalRequest, error)
	Requeue(ctx context.Context, id string) (bool, error)
	SetBroadcastInfo(ctx context.Context, id, txHash string, nonce uint64) (bool, error)
	MarkSent(ctx context.Context, id, txHash string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, from domain.WithdrawalStatus, reason string, at time.Time) (bool, error)
	// FailStuck fails a processing request that never recorded a tx hash and
	// was claimed before cutoff
	FailStuck(ctx context.Context, id string, cutoff time.Time, reason string, at time.Time) (bool, error)
	// Refund moves failed -> refunded and credits the amount back in one transaction
	Refund(ctx context.Context, id string, at time.Time) (bool, error)

	ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.WithdrawalRequest, error)
	ListFailed(ctx context.Context) ([]*domain.WithdrawalRequest, error)
}

// ReconcileFunc decides the corrected balance from a locked snapshot
type ReconcileFunc func(snap domain.LedgerSnapshot) (corrected decimal.Decimal, apply bool)

type LedgerRepository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, userID string, at time.Time, fn ReconcileFunc) (*domain.Reconciliation, error)
}

type CheckpointRepository interface {
	GetCheckpoint(ctx context.Context, key string) (uint64, bool, error)
	SaveCheckpoint(ctx context.Context, key string, height uint64) error
}

type TransferRepository interface {
	// RecordFlagged is idempotent per tx hash
	RecordFlagged(ctx context.Context, t *domain.UnmatchedTransfer) (bool, error)
	ListFlagged(ctx context.Context, limit, offset int) ([]*domain.UnmatchedTransfer, error)
}

// SignerLock grants exclusive signing rights for one custodial address
type SignerLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
