// internal/repository/memory/store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"

	"github.com/shopspring/decimal"
)

// Store is an in-process implementation of every repository interface with
// the same guarded-transition semantics as the Postgres repositories. A single
// mutex stands in for row locks and transactions.
type Store struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	deposits    map[string]*domain.DepositIntent
	withdrawals map[string]*domain.WithdrawalRequest
	checkpoints map[string]uint64
	flagged     map[string]*domain.UnmatchedTransfer
	corrections []domain.Reconciliation
	lockHolder  *SignerLock
}

func NewStore() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		deposits:    make(map[string]*domain.DepositIntent),
		withdrawals: make(map[string]*domain.WithdrawalRequest),
		checkpoints: make(map[string]uint64),
		flagged:     make(map[string]*domain.UnmatchedTransfer),
	}
}

var (
	_ repository.DepositRepository    = (*Store)(nil)
	_ repository.WithdrawalRepository = (*withdrawals)(nil)
	_ repository.LedgerRepository     = (*Store)(nil)
	_ repository.CheckpointRepository = (*Store)(nil)
	_ repository.TransferRepository   = (*Store)(nil)
)

// Withdrawals exposes the withdrawal side, whose method names overlap with deposits
func (s *Store) Withdrawals() repository.WithdrawalRepository {
	return &withdrawals{s}
}

// SetBalance seeds a user's ledger balance
func (s *Store) SetBalance(userID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureUser(userID, time.Now()).Balance = balance
}

// Corrections returns the recorded balance corrections
func (s *Store) Corrections() []domain.Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Reconciliation(nil), s.corrections...)
}

func (s *Store) ensureUser(userID string, now time.Time) *domain.User {
	u, ok := s.users[userID]
	if !ok {
		u = &domain.User{ID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		s.users[userID] = u
	}
	return u
}

// ============================================================================
// DEPOSITS
// ============================================================================

func (s *Store) Create(ctx context.Context, intent *domain.DepositIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deposits[intent.ID]; exists {
		return fmt.Errorf("deposit intent %s already exists", intent.ID)
	}
	for _, d := range s.deposits {
		if d.Status == domain.DepositStatusWaiting && d.UniqueAmount.Equal(intent.UniqueAmount) {
			return domain.ErrDuplicateUniqueAmount
		}
	}

	s.ensureUser(intent.UserID, intent.CreatedAt)
	intent.UpdatedAt = intent.CreatedAt
	cp := *intent
	s.deposits[intent.ID] = &cp
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.DepositIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetByTxHash(ctx context.Context, txHash string) (*domain.DepositIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.deposits {
		if d.TxHash != nil && *d.TxHash == txHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositIntent, error) {
	out := s.filterDeposits(func(d *domain.DepositIntent) bool { return d.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) ListWaiting(ctx context.Context) ([]*domain.DepositIntent, error) {
	out := s.filterDeposits(func(d *domain.DepositIntent) bool { return d.Status == domain.DepositStatusWaiting })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListMatchedPending(ctx context.Context) ([]*domain.DepositIntent, error) {
	out := s.filterDeposits(func(d *domain.DepositIntent) bool { return d.Status == domain.DepositStatusMatchedPending })
	sort.SliceStable(out, func(i, j int) bool { return *out[i].BlockNumber < *out[j].BlockNumber })
	return out, nil
}

func (s *Store) MarkMatched(ctx context.Context, id string, m repository.MatchInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok || !d.Status.CanTransitionTo(domain.DepositStatusMatchedPending) {
		return false, nil
	}
	for _, other := range s.deposits {
		if other.TxHash != nil && *other.TxHash == m.TxHash {
			return false, nil
		}
	}

	txHash, from, block, at := m.TxHash, m.FromAddress, m.BlockNumber, m.MatchedAt
	d.Status = domain.DepositStatusMatchedPending
	d.TxHash = utils.StringPtr(txHash)
	d.FromAddress = utils.StringPtr(from)
	d.BlockNumber = &block
	d.Confirmations = m.Confirmations
	d.MatchedAt = &at
	d.UpdatedAt = at
	return true, nil
}

func (s *Store) UpdateConfirmations(ctx context.Context, id string, blockNumber uint64, confirmations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok || d.Status != domain.DepositStatusMatchedPending {
		return nil
	}
	d.BlockNumber = &blockNumber
	d.Confirmations = confirmations
	d.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ConfirmAndCredit(ctx context.Context, id string, confirmations int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok || !d.Status.CanTransitionTo(domain.DepositStatusConfirmed) {
		return false, nil
	}
	u, ok := s.users[d.UserID]
	if !ok {
		return false, fmt.Errorf("confirm deposit %s: user %s: %w", id, d.UserID, domain.ErrNotFound)
	}

	d.Status = domain.DepositStatusConfirmed
	d.Confirmations = confirmations
	d.ConfirmedAt = &at
	d.UpdatedAt = at
	u.Balance = u.Balance.Add(d.BaseAmount)
	u.UpdatedAt = at
	return true, nil
}

func (s *Store) ExpireOverdue(ctx context.Context, cutoff, now time.Time) ([]*domain.DepositIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.DepositIntent
	for _, d := range s.deposits {
		if !d.Status.CanTransitionTo(domain.DepositStatusExpired) || d.ExpiresAt.After(cutoff) {
			continue
		}
		at := now
		d.Status = domain.DepositStatusExpired
		d.ExpiredAt = &at
		d.UpdatedAt = now
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) filterDeposits(keep func(*domain.DepositIntent) bool) []*domain.DepositIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.DepositIntent
	for _, d := range s.deposits {
		if keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// ============================================================================
// LEDGER
// ============================================================================

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Reconcile(ctx context.Context, userID string, at time.Time, fn repository.ReconcileFunc) (*domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	snap := domain.LedgerSnapshot{
		UserID:                 userID,
		StoredBalance:          u.Balance,
		ConfirmedDeposits:      decimal.Zero,
		OutstandingWithdrawals: decimal.Zero,
	}
	for _, d := range s.deposits {
		if d.UserID == userID && d.Status == domain.DepositStatusConfirmed {
			snap.ConfirmedDeposits = snap.ConfirmedDeposits.Add(d.BaseAmount)
		}
	}
	for _, w := range s.withdrawals {
		if w.UserID == userID && w.Status.HoldsDebit() {
			snap.OutstandingWithdrawals = snap.OutstandingWithdrawals.Add(w.Amount)
		}
	}

	corrected, apply := fn(snap)
	rec := &domain.Reconciliation{
		UserID:                 userID,
		StoredBalance:          snap.StoredBalance,
		ComputedBalance:        snap.Expected(),
		ConfirmedDeposits:      snap.ConfirmedDeposits,
		OutstandingWithdrawals: snap.OutstandingWithdrawals,
		CheckedAt:              at,
	}
	if !apply {
		return rec, nil
	}

	u.Balance = corrected
	u.BalanceCorrectedAt = &at
	u.UpdatedAt = at
	rec.ComputedBalance = corrected
	rec.Corrected = true
	s.corrections = append(s.corrections, *rec)
	return rec, nil
}

// ============================================================================
// CHECKPOINTS AND FLAGGED TRANSFERS
// ============================================================================

func (s *Store) GetCheckpoint(ctx context.Context, key string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.checkpoints[key]
	return h, ok, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, key string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[key] = height
	return nil
}

func (s *Store) RecordFlagged(ctx context.Context, t *domain.UnmatchedTransfer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flagged[t.TxHash]; exists {
		return false, nil
	}
	cp := *t
	cp.CandidateIDs = append([]string(nil), t.CandidateIDs...)
	s.flagged[t.TxHash] = &cp
	return true, nil
}

func (s *Store) ListFlagged(ctx context.Context, limit, offset int) ([]*domain.UnmatchedTransfer, error) {
	s.mu.Lock()
	out := make([]*domain.UnmatchedTransfer, 0, len(s.flagged))
	for _, t := range s.flagged {
		cp := *t
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TxHash < out[j].TxHash
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

// ============================================================================
// SIGNER LOCK
// ============================================================================

// SignerLock is an exclusive lock shared by every holder created from the same store
type SignerLock struct {
	store   *Store
	address string
}

var _ repository.SignerLock = (*SignerLock)(nil)

func (s *Store) NewSignerLock(address string) *SignerLock {
	return &SignerLock{store: s, address: strings.ToLower(address)}
}

func (l *SignerLock) TryAcquire(ctx context.Context) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	switch l.store.lockHolder {
	case nil:
		l.store.lockHolder = l
		return true, nil
	case l:
		return true, nil
	default:
		return false, nil
	}
}

func (l *SignerLock) Release(ctx context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if l.store.lockHolder == l {
		l.store.lockHolder = nil
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
