// internal/usecase/withdrawal_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const reasonCancelled = "cancelled by user"

// KeySource lends the decrypted custodial key to fn
type KeySource interface {
	WithKey(ctx context.Context, fn func(key []byte) error) error
}

// NonceAllocator hands out outgoing sequence numbers
type NonceAllocator interface {
	Next(ctx context.Context, address string) (uint64, error)
	Reset(ctx context.Context, address string) error
}

// Waker is notified when new work is queued
type Waker interface {
	Wake()
}

type WithdrawalUsecase struct {
	withdrawalRepo repository.WithdrawalRepository
	ledgerRepo     repository.LedgerRepository
	chain          domain.ChainClient
	keys           KeySource
	nonces         NonceAllocator
	bus            *events.Bus
	settings       WithdrawalSettings

	// one in-flight sign+broadcast per custodial address
	signMu sync.Mutex
	waker  Waker
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

func NewWithdrawalUsecase(
	withdrawalRepo repository.WithdrawalRepository,
	ledgerRepo repository.LedgerRepository,
	chain domain.ChainClient,
	keys KeySource,
	nonces NonceAllocator,
	bus *events.Bus,
	settings WithdrawalSettings,
	logger *zap.Logger,
) *WithdrawalUsecase {
	if settings.BroadcastAttempts < 1 {
		settings.BroadcastAttempts = 1
	}
	if settings.GasLimit == 0 {
		settings.GasLimit = 21000
	}
	return &WithdrawalUsecase{
		withdrawalRepo: withdrawalRepo,
		ledgerRepo:     ledgerRepo,
		chain:          chain,
		keys:           keys,
		nonces:         nonces,
		bus:            bus,
		settings:       settings,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          sleepCtx,
		logger:         logger,
	}
}

// SetWaker registers the worker to nudge after a request is queued
func (uc *WithdrawalUsecase) SetWaker(w Waker) {
	uc.waker = w
}

// ============================================================================
// REQUESTS
// ============================================================================

// Create debits the user's ledger and queues the payout in one step
func (uc *WithdrawalUsecase) Create(ctx context.Context, userID, toAddress string, amt decimal.Decimal) (*domain.WithdrawalRequest, error) {
	userID = strings.TrimSpace(userID)
	toAddress = strings.TrimSpace(toAddress)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if err := ethereum.ValidateAddress(toAddress); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err)
	}
	if ethereum.SameAddress(toAddress, uc.settings.Address) {
		return nil, fmt.Errorf("%w: destination is the custodial address", domain.ErrInvalidAddress)
	}
	if !amt.IsPositive() || amt.LessThan(uc.settings.MinAmount) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s", domain.ErrInvalidAmount, uc.settings.MinAmount)
	}
	if amt.Exponent() < -uc.settings.Decimals {
		return nil, fmt.Errorf("%w: at most %d decimal places", domain.ErrInvalidAmount, uc.settings.Decimals)
	}

	w := &domain.WithdrawalRequest{
		ID:        utils.GenerateID("wd"),
		UserID:    userID,
		ToAddress: toAddress,
		Amount:    amt,
		Status:    domain.WithdrawalStatusQueued,
		CreatedAt: uc.now(),
	}
	if err := uc.withdrawalRepo.CreateWithDebit(ctx, w); err != nil {
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(domain.WithdrawalStatusQueued)).Inc()
	uc.logger.Info("withdrawal queued",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", userID),
		zap.String("to", toAddress),
		zap.String("amount", amt.String()))

	if uc.waker != nil {
		uc.waker.Wake()
	}
	return w, nil
}

func (uc *WithdrawalUsecase) Get(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return uc.withdrawalRepo.GetByID(ctx, id)
}

func (uc *WithdrawalUsecase) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	return uc.withdrawalRepo.ListByUser(ctx, userID, clampLimit(limit), offset)
}

func (uc *WithdrawalUsecase) Balance(ctx context.Context, userID string) (*domain.User, error) {
	return uc.ledgerRepo.GetUser(ctx, userID)
}

// Cancel aborts a request the signer has not claimed yet and refunds it
func (uc *WithdrawalUsecase) Cancel(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, err := uc.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.Cancellable() {
		return nil, domain.ErrNotCancellable
	}

	failed, err := uc.fail(ctx, w, domain.WithdrawalStatusQueued, reasonCancelled)
	if err != nil {
		return nil, err
	}
	if !failed {
		// claimed by the signer in the meantime
		return nil, domain.ErrNotCancellable
	}
	if _, err := uc.refund(ctx, w); err != nil {
		return nil, err
	}
	return uc.withdrawalRepo.GetByID(ctx, id)
}

// ============================================================================
// FAILURE AND REFUND
// ============================================================================

// failAndRefund moves w from `from` to failed and credits the user back. Both
// steps are guarded, so concurrent callers produce one refund.
func (uc *WithdrawalUsecase) failAndRefund(ctx context.Context, w *domain.WithdrawalRequest, from domain.WithdrawalStatus, reason string) error {
	failed, err := uc.fail(ctx, w, from, reason)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	_, err = uc.refund(ctx, w)
	return err
}

func (uc *WithdrawalUsecase) fail(ctx context.Context, w *domain.WithdrawalRequest, from domain.WithdrawalStatus, reason string) (bool, error) {
	ok, err := uc.withdrawalRepo.MarkFailed(ctx, w.ID, from, reason, uc.now())
	if err != nil {
		return false, err
	}
	if ok {
		uc.onFailed(ctx, w, reason)
	}
	return ok, nil
}

func (uc *WithdrawalUsecase) onFailed(ctx context.Context, w *domain.WithdrawalRequest, reason string) {
	metrics.WithdrawalTransitions.WithLabelValues(string(domain.WithdrawalStatusFailed)).Inc()
	uc.logger.Warn("withdrawal failed",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", w.UserID),
		zap.String("reason", reason))

	evt := events.NewEvent(domain.EventWithdrawalFailed, w.UserID, w.ID)
	evt.Amount = w.Amount.String()
	evt.Reason = reason
	uc.bus.Emit(ctx, evt)
}

func (uc *WithdrawalUsecase) refund(ctx context.Context, w *domain.WithdrawalRequest) (bool, error) {
	ok, err := uc.withdrawalRepo.Refund(ctx, w.ID, uc.now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(domain.WithdrawalStatusRefunded)).Inc()
	uc.logger.Info("withdrawal refunded",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", w.UserID),
		zap.String("amount", w.Amount.String()))

	evt := events.NewEvent(domain.EventWithdrawalRefunded, w.UserID, w.ID)
	evt.Amount = w.Amount.String()
	uc.bus.Emit(ctx, evt)
	return true, nil
}

// ============================================================================
// SWEEPS
// ============================================================================

// SweepStuck fails and refunds processing requests that were claimed longer
// than the stuck timeout ago and never signed. Signed requests are left to the
// signer, which resolves them from the chain.
func (uc *WithdrawalUsecase) SweepStuck(ctx context.Context) (int, error) {
	now := uc.now()
	cutoff := now.Add(-uc.settings.StuckTimeout)

	stuck, err := uc.withdrawalRepo.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck withdrawals: %w", err)
	}

	swept := 0
	for _, w := range stuck {
		if w.TxHash != nil {
			continue
		}
		reason := fmt.Sprintf("processing timeout after %s", uc.settings.StuckTimeout)
		ok, err := uc.withdrawalRepo.FailStuck(ctx, w.ID, cutoff, reason, now)
		if err != nil {
			return swept, err
		}
		if !ok {
			continue
		}
		uc.onFailed(ctx, w, reason)
		if _, err := uc.refund(ctx, w); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// RefundOrphans completes refunds for requests that failed without one, e.g.
// after a crash between the two steps.
func (uc *WithdrawalUsecase) RefundOrphans(ctx context.Context) (int, error) {
	failed, err := uc.withdrawalRepo.ListFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed withdrawals: %w", err)
	}

	refunded := 0
	for _, w := range failed {
		ok, err := uc.refund(ctx, w)
		if err != nil {
			return refunded, err
		}
		if ok {
			refunded++
		}
	}
	return refunded, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isChainRejection reports whether err is a permanent refusal by the node
func isChainRejection(err error) bool {
	return errors.Is(err, domain.ErrChainRejected)
}
