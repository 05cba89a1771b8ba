// internal/usecase/withdrawal_processor.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"

	"go.uber.org/zap"
)

// ============================================================================
// SIGNING PIPELINE
// ============================================================================

// ProcessNext claims the oldest queued request and drives it to sent or
// failed+refunded. It reports false when the queue was empty. An error
// wrapping domain.ErrSignerHalted means the signer must stop.
func (uc *WithdrawalUsecase) ProcessNext(ctx context.Context) (bool, error) {
	uc.signMu.Lock()
	defer uc.signMu.Unlock()

	w, err := uc.withdrawalRepo.ClaimNextQueued(ctx, uc.now())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim withdrawal: %w", err)
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(domain.WithdrawalStatusProcessing)).Inc()
	start := time.Now()
	defer func() { metrics.BroadcastDuration.Observe(time.Since(start).Seconds()) }()

	return true, uc.execute(ctx, w)
}

func (uc *WithdrawalUsecase) execute(ctx context.Context, w *domain.WithdrawalRequest) error {
	log := uc.logger.With(zap.String("withdrawal_id", w.ID), zap.String("to", w.ToAddress))
	value := ethereum.ToWei(w.Amount, uc.settings.Decimals)

	suggested, err := uc.chain.SuggestGasPrice(ctx)
	if err != nil {
		return uc.requeue(ctx, w, fmt.Errorf("failed to get gas price: %w", err))
	}
	gasPrice := ethereum.CapGasPrice(suggested, uc.settings.MaxGasPrice)

	balance, err := uc.chain.BalanceAt(ctx, uc.settings.Address)
	if err != nil {
		return uc.requeue(ctx, w, fmt.Errorf("failed to get custodial balance: %w", err))
	}
	required := new(big.Int).Add(value, ethereum.MaxFee(uc.settings.GasLimit, gasPrice))
	if balance.Cmp(required) < 0 {
		log.Error("custodial balance too low for withdrawal",
			zap.String("balance", balance.String()),
			zap.String("required", required.String()))

		alert := events.NewEvent(domain.EventAlertCustodialBalance, w.UserID, w.ID)
		alert.Amount = w.Amount.String()
		alert.Reason = fmt.Sprintf("balance %s wei, required %s wei", balance, required)
		uc.bus.Emit(ctx, alert)

		return uc.failAndRefund(ctx, w, domain.WithdrawalStatusProcessing, domain.ErrInsufficientCustodialBalance.Error())
	}

	var signed *ethereum.SignedTx
	err = uc.keys.WithKey(ctx, func(key []byte) error {
		// allocate only once the key is known good so a halt leaves no gap
		nonce, err := uc.nonces.Next(ctx, uc.settings.Address)
		if err != nil {
			return fmt.Errorf("failed to allocate nonce: %w", err)
		}
		tx := ethereum.BuildTransfer(nonce, w.ToAddress, value, uc.settings.GasLimit, gasPrice)
		signed, err = ethereum.SignTransfer(tx, key, uc.settings.ChainID)
		if err != nil {
			uc.resetNonce(ctx)
			return err
		}
		return nil
	})
	if errors.Is(err, domain.ErrKeyDecryption) {
		log.Error("custodial key unavailable, halting signer", zap.Error(err))
		alert := events.NewEvent(domain.EventAlertKeyDecryption, "", w.ID)
		alert.Reason = err.Error()
		uc.bus.Emit(ctx, alert)
		return uc.requeue(ctx, w, fmt.Errorf("%w: %w", domain.ErrSignerHalted, err))
	}
	if err != nil {
		return uc.requeue(ctx, w, err)
	}

	recorded, err := uc.withdrawalRepo.SetBroadcastInfo(ctx, w.ID, signed.Hash, signed.Nonce)
	if err != nil {
		uc.resetNonce(ctx)
		return fmt.Errorf("failed to record signed transaction: %w", err)
	}
	if !recorded {
		// swept as stuck while we were signing; never broadcast
		log.Warn("withdrawal left processing before broadcast, discarding signed tx")
		uc.resetNonce(ctx)
		return nil
	}
	log = log.With(zap.String("tx_hash", signed.Hash), zap.Uint64("nonce", signed.Nonce))

	return uc.broadcast(ctx, w, signed, log)
}

// broadcast submits the same signed bytes up to BroadcastAttempts times. A
// resubmission carries the same hash and nonce, so it cannot pay twice.
func (uc *WithdrawalUsecase) broadcast(ctx context.Context, w *domain.WithdrawalRequest, signed *ethereum.SignedTx, log *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= uc.settings.BroadcastAttempts; attempt++ {
		hash, err := uc.chain.SendRawTransaction(ctx, signed.Raw)
		if err == nil {
			if hash == "" {
				hash = signed.Hash
			}
			return uc.markSent(ctx, w, hash)
		}
		lastErr = err

		if isChainRejection(err) {
			log.Warn("broadcast rejected", zap.Error(err))
			uc.resetNonce(ctx)
			return uc.failAndRefund(ctx, w, domain.WithdrawalStatusProcessing, err.Error())
		}

		log.Warn("broadcast attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", uc.settings.BroadcastAttempts),
			zap.Error(err))
		if attempt < uc.settings.BroadcastAttempts {
			backoff := uc.settings.BroadcastBackoff * time.Duration(1<<(attempt-1))
			if err := uc.sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}

	// the node may have accepted one of the attempts before the connection broke
	w.TxHash = &signed.Hash
	w.Nonce = &signed.Nonce
	resolved, err := uc.resolveSigned(ctx, w, lastErr.Error())
	if err != nil {
		return fmt.Errorf("broadcast outcome unknown for %s: %w", w.ID, err)
	}
	if !resolved {
		log.Warn("broadcast outcome unknown, leaving processing for the signer to resolve")
	}
	return nil
}

func (uc *WithdrawalUsecase) markSent(ctx context.Context, w *domain.WithdrawalRequest, hash string) error {
	ok, err := uc.withdrawalRepo.MarkSent(ctx, w.ID, hash, uc.now())
	if err != nil {
		return fmt.Errorf("failed to mark withdrawal sent: %w", err)
	}
	if !ok {
		return nil
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(domain.WithdrawalStatusSent)).Inc()
	uc.logger.Info("withdrawal sent",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", w.UserID),
		zap.String("tx_hash", hash))

	evt := events.NewEvent(domain.EventWithdrawalSent, w.UserID, w.ID)
	evt.Amount = w.Amount.String()
	evt.TxHash = hash
	uc.bus.Emit(ctx, evt)
	return nil
}

// ============================================================================
// SIGNED BUT UNRESOLVED
// ============================================================================

// ResolvePending settles processing requests older than the stuck timeout that
// already carry a signed transaction. Only the lock-holding signer calls it.
func (uc *WithdrawalUsecase) ResolvePending(ctx context.Context) (int, error) {
	uc.signMu.Lock()
	defer uc.signMu.Unlock()

	cutoff := uc.now().Add(-uc.settings.StuckTimeout)
	stuck, err := uc.withdrawalRepo.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck withdrawals: %w", err)
	}

	resolved := 0
	for _, w := range stuck {
		if w.TxHash == nil {
			continue
		}
		ok, err := uc.resolveSigned(ctx, w, "transaction dropped by the network")
		if err != nil {
			uc.logger.Warn("could not resolve signed withdrawal",
				zap.String("withdrawal_id", w.ID),
				zap.Error(err))
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// resolveSigned decides a signed request from chain state. Mined successfully
// means sent; mined and reverted, or provably absent from the node, means
// failed and refunded. Anything else stays processing.
func (uc *WithdrawalUsecase) resolveSigned(ctx context.Context, w *domain.WithdrawalRequest, reason string) (bool, error) {
	receipt, err := uc.chain.TransactionReceipt(ctx, *w.TxHash)
	switch {
	case err == nil && receipt.Success:
		return true, uc.markSent(ctx, w, *w.TxHash)
	case err == nil:
		return true, uc.failAndRefund(ctx, w, domain.WithdrawalStatusProcessing, "transaction reverted")
	case !errors.Is(err, domain.ErrNotFound):
		return false, err
	}

	if w.Nonce == nil {
		return false, nil
	}
	pending, err := uc.chain.PendingNonceAt(ctx, uc.settings.Address)
	if err != nil {
		return false, err
	}
	if pending > *w.Nonce {
		// the node holds our nonce, so the transaction is pending
		return false, nil
	}

	uc.resetNonce(ctx)
	return true, uc.failAndRefund(ctx, w, domain.WithdrawalStatusProcessing, reason)
}

func (uc *WithdrawalUsecase) requeue(ctx context.Context, w *domain.WithdrawalRequest, cause error) error {
	ok, err := uc.withdrawalRepo.Requeue(ctx, w.ID)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to requeue %s: %w", w.ID, err))
	}
	if ok {
		uc.logger.Info("withdrawal returned to queue",
			zap.String("withdrawal_id", w.ID),
			zap.Error(cause))
	}
	return cause
}

func (uc *WithdrawalUsecase) resetNonce(ctx context.Context) {
	if err := uc.nonces.Reset(ctx, uc.settings.Address); err != nil {
		uc.logger.Warn("failed to reset nonce cache", zap.Error(err))
	}
}
