// internal/usecase/reconcile_usecase.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileUsecase repairs ledger drift from the deposit and withdrawal
// history. It is an administrative path, never part of a user request.
type ReconcileUsecase struct {
	ledgerRepo repository.LedgerRepository
	bus        *events.Bus
	epsilon    decimal.Decimal
	now        func() time.Time
	logger     *zap.Logger
}

func NewReconcileUsecase(ledgerRepo repository.LedgerRepository, bus *events.Bus, epsilon decimal.Decimal, logger *zap.Logger) *ReconcileUsecase {
	return &ReconcileUsecase{
		ledgerRepo: ledgerRepo,
		bus:        bus,
		epsilon:    epsilon,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Recompute derives the user's balance as confirmed deposits minus withdrawals
// still holding their debit, and overwrites the stored value when it drifted
// beyond epsilon.
func (uc *ReconcileUsecase) Recompute(ctx context.Context, userID string) (*domain.Reconciliation, error) {
	rec, err := uc.ledgerRepo.Reconcile(ctx, userID, uc.now(), func(snap domain.LedgerSnapshot) (decimal.Decimal, bool) {
		expected := snap.Expected()
		return expected, expected.Sub(snap.StoredBalance).Abs().GreaterThan(uc.epsilon)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile %s: %w", userID, err)
	}
	if !rec.Corrected {
		return rec, nil
	}

	metrics.BalanceCorrections.Inc()
	uc.logger.Warn("ledger balance corrected",
		zap.String("user_id", userID),
		zap.String("stored", rec.StoredBalance.String()),
		zap.String("computed", rec.ComputedBalance.String()),
		zap.String("delta", rec.Delta().String()))

	evt := events.NewEvent(domain.EventBalanceCorrected, userID, userID)
	evt.Amount = rec.Delta().String()
	evt.Reason = fmt.Sprintf("stored %s, computed %s", rec.StoredBalance, rec.ComputedBalance)
	uc.bus.Emit(ctx, evt)
	return rec, nil
}

// RecomputeAll reconciles every user and keeps going past individual failures
func (uc *ReconcileUsecase) RecomputeAll(ctx context.Context) (checked, corrected int, err error) {
	ids, err := uc.ledgerRepo.ListUserIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list users: %w", err)
	}

	failures := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return checked, corrected, ctx.Err()
		}
		rec, err := uc.Recompute(ctx, id)
		if err != nil {
			failures++
			uc.logger.Error("reconciliation failed", zap.String("user_id", id), zap.Error(err))
			continue
		}
		checked++
		if rec.Corrected {
			corrected++
		}
	}

	uc.logger.Info("reconciliation pass finished",
		zap.Int("checked", checked),
		zap.Int("corrected", corrected),
		zap.Int("failed", failures))
	if failures > 0 {
		return checked, corrected, fmt.Errorf("%d of %d users failed to reconcile", failures, len(ids))
	}
	return checked, corrected, nil
}
