// internal/repository/memory/withdrawals.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"
)

type withdrawals struct {
	s *Store
}

func (r *withdrawals) CreateWithDebit(ctx context.Context, w *domain.WithdrawalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.withdrawals[w.ID]; exists {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	u, ok := r.s.users[w.UserID]
	if !ok || u.Balance.LessThan(w.Amount) {
		return domain.ErrInsufficientBalance
	}

	u.Balance = u.Balance.Sub(w.Amount)
	u.UpdatedAt = w.CreatedAt
	w.UpdatedAt = w.CreatedAt
	cp := *w
	r.s.withdrawals[w.ID] = &cp
	return nil
}

func (r *withdrawals) GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *withdrawals) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	out := r.filter(func(w *domain.WithdrawalRequest) bool { return w.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *withdrawals) ClaimNextQueued(ctx context.Context, now time.Time) (*domain.WithdrawalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var next *domain.WithdrawalRequest
	for _, w := range r.s.withdrawals {
		if w.Status != domain.WithdrawalStatusQueued {
			continue
		}
		if next == nil || w.CreatedAt.Before(next.CreatedAt) ||
			(w.CreatedAt.Equal(next.CreatedAt) && w.ID < next.ID) {
			next = w
		}
	}
	if next == nil {
		return nil, domain.ErrNotFound
	}

	started := now
	next.Status = domain.WithdrawalStatusProcessing
	next.ProcessingStartedAt = &started
	next.UpdatedAt = now
	cp := *next
	return &cp, nil
}

func (r *withdrawals) Requeue(ctx context.Context, id string) (bool, error) {
	return r.update(id, func(w *domain.WithdrawalRequest) bool {
		if w.Status != domain.WithdrawalStatusProcessing || w.TxHash != nil {
			return false
		}
		w.Status = domain.WithdrawalStatusQueued
		w.ProcessingStartedAt = nil
		w.UpdatedAt = time.Now()
		return true
	})
}

func (r *withdrawals) SetBroadcastInfo(ctx context.Context, id, txHash string, nonce uint64) (bool, error) {
	return r.update(id, func(w *domain.WithdrawalRequest) bool {
		if w.Status != domain.WithdrawalStatusProcessing {
			return false
		}
		w.TxHash = &txHash
		w.Nonce = &nonce
		w.UpdatedAt = time.Now()
		return true
	})
}

func (r *withdrawals) MarkSent(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	return r.update(id, func(w *domain.WithdrawalRequest) bool {
		if w.Status != domain.WithdrawalStatusProcessing {
			return false
		}
		w.Status = domain.WithdrawalStatusSent
		w.TxHash = &txHash
		w.SentAt = &at
		w.ErrorReason = nil
		w.UpdatedAt = at
		return true
	})
}

func (r *withdrawals) MarkFailed(ctx context.Context, id string, from domain.WithdrawalStatus, reason string, at time.Time) (bool, error) {
	if !from.CanTransitionTo(domain.WithdrawalStatusFailed) {
		return false, fmt.Errorf("withdrawal cannot fail from %s", from)
	}
	return r.update(id, func(w *domain.WithdrawalRequest) bool {
		if w.Status != from {
			return false
		}
		fail(w, reason, at)
		return true
	})
}

func (r *withdrawals) FailStuck(ctx context.Context, id string, cutoff time.Time, reason string, at time.Time) (bool, error) {
	return r.update(id, func(w *domain.WithdrawalRequest) bool {
		if w.Status != domain.WithdrawalStatusProcessing || w.TxHash != nil ||
			w.ProcessingStartedAt == nil || !w.ProcessingStartedAt.Before(cutoff) {
			return false
		}
		fail(w, reason, at)
		return true
	})
}

func (r *withdrawals) Refund(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalStatusFailed {
		return false, nil
	}
	u, ok := r.s.users[w.UserID]
	if !ok {
		return false, fmt.Errorf("refund withdrawal %s: user %s: %w", id, w.UserID, domain.ErrNotFound)
	}

	w.Status = domain.WithdrawalStatusRefunded
	w.RefundedAt = &at
	w.UpdatedAt = at
	u.Balance = u.Balance.Add(w.Amount)
	u.UpdatedAt = at
	return true, nil
}

func (r *withdrawals) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.WithdrawalRequest, error) {
	out := r.filter(func(w *domain.WithdrawalRequest) bool {
		return w.Status == domain.WithdrawalStatusProcessing &&
			w.ProcessingStartedAt != nil && w.ProcessingStartedAt.Before(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProcessingStartedAt.Before(*out[j].ProcessingStartedAt) })
	return out, nil
}

func (r *withdrawals) ListFailed(ctx context.Context) ([]*domain.WithdrawalRequest, error) {
	out := r.filter(func(w *domain.WithdrawalRequest) bool { return w.Status == domain.WithdrawalStatusFailed })
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.Before(*out[j].FailedAt) })
	return out, nil
}

func (r *withdrawals) update(id string, apply func(*domain.WithdrawalRequest) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.withdrawals[id]
	if !ok {
		return false, nil
	}
	return apply(w), nil
}

func (r *withdrawals) filter(keep func(*domain.WithdrawalRequest) bool) []*domain.WithdrawalRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.WithdrawalRequest
	for _, w := range r.s.withdrawals {
		if keep(w) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out
}

func fail(w *domain.WithdrawalRequest, reason string, at time.Time) {
	w.Status = domain.WithdrawalStatusFailed
	w.ErrorReason = utils.StringPtr(reason)
	w.FailedAt = &at
	w.UpdatedAt = at
}
