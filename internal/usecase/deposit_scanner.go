// internal/usecase/deposit_scanner.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/amount"
	"github.com/Gazprom100/TAPDEL-sub000/internal/cache"
	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// BLOCK SCANNING
// ============================================================================

// ScanBlocks processes the next range of blocks after the persisted watermark.
// Any chain or store error aborts the tick before the watermark moves, so the
// same range is retried on the next call. Matching is idempotent per tx hash.
func (uc *DepositUsecase) ScanBlocks(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	head, err := uc.chain.BlockNumber(ctx)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("head").Inc()
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	last, err := uc.watermark(ctx, head)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("checkpoint").Inc()
		return err
	}
	if head <= last {
		return nil
	}

	to := min(head, last+uc.settings.MaxBlocksPerTick)
	blocks, err := uc.fetchBlocks(ctx, last+1, to)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("fetch").Inc()
		return err
	}

	open, err := uc.depositRepo.ListWaiting(ctx)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("failed to load open intents: %w", err)
	}

	for _, block := range blocks {
		for _, tr := range block.Transfers {
			if !ethereum.SameAddress(tr.To, uc.settings.Address) {
				continue
			}
			if open, err = uc.handleTransfer(ctx, block, tr, head, open); err != nil {
				metrics.ScanErrors.WithLabelValues("match").Inc()
				return err
			}
		}
	}

	if err := uc.checkpointRepo.SaveCheckpoint(ctx, uc.checkpointKey(), to); err != nil {
		metrics.ScanErrors.WithLabelValues("checkpoint").Inc()
		return err
	}
	uc.saveHint(ctx, to)
	metrics.ScannerHeight.Set(float64(to))

	uc.logger.Debug("scanned blocks",
		zap.Uint64("from", last+1),
		zap.Uint64("to", to),
		zap.Uint64("head", head))
	return nil
}

// watermark returns the last fully processed height. Postgres is the
// authority; the cache hint only seeds a store without a checkpoint.
func (uc *DepositUsecase) watermark(ctx context.Context, head uint64) (uint64, error) {
	last, found, err := uc.checkpointRepo.GetCheckpoint(ctx, uc.checkpointKey())
	if err != nil {
		return 0, fmt.Errorf("failed to load scanner checkpoint: %w", err)
	}
	if found {
		return last, nil
	}

	if uc.cache != nil {
		hint, err := uc.cache.GetUint64(ctx, uc.checkpointKey())
		if err == nil {
			uc.logger.Info("resuming scanner from cache hint", zap.Uint64("block", hint))
			return hint, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			uc.logger.Warn("failed to read scanner hint", zap.Error(err))
		}
	}

	first := head
	if uc.settings.StartBlock >= 0 {
		first = uint64(uc.settings.StartBlock)
	}
	if first == 0 {
		first = 1
	}
	uc.logger.Info("no scanner checkpoint, starting fresh", zap.Uint64("first_block", first))
	return first - 1, nil
}

func (uc *DepositUsecase) saveHint(ctx context.Context, height uint64) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Set(ctx, uc.checkpointKey(), height, 0); err != nil {
		uc.logger.Warn("failed to store scanner hint", zap.Error(err))
	}
}

func (uc *DepositUsecase) checkpointKey() string {
	return fmt.Sprintf("deposits:%d:%s", uc.settings.ChainID, strings.ToLower(uc.settings.Address))
}

// fetchBlocks reads [from, to] in parallel and returns them in height order
func (uc *DepositUsecase) fetchBlocks(ctx context.Context, from, to uint64) ([]*domain.Block, error) {
	blocks := make([]*domain.Block, to-from+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.settings.FetchConcurrency)
	for n := from; n <= to; n++ {
		g.Go(func() error {
			b, err := uc.chain.BlockByNumber(gctx, n)
			if err != nil {
				return fmt.Errorf("failed to fetch block %d: %w", n, err)
			}
			blocks[n-from] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// handleTransfer binds one incoming transfer to at most one open intent and
// returns the open set without the intent it consumed.
func (uc *DepositUsecase) handleTransfer(
	ctx context.Context,
	block *domain.Block,
	tr domain.Transfer,
	head uint64,
	open []*domain.DepositIntent,
) ([]*domain.DepositIntent, error) {
	log := uc.logger.With(zap.String("tx_hash", tr.TxHash), zap.Uint64("block", block.Number))

	// re-scan of a block already processed
	if _, err := uc.depositRepo.GetByTxHash(ctx, tr.TxHash); err == nil {
		return open, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return open, fmt.Errorf("failed to look up transfer: %w", err)
	}

	receipt, err := uc.chain.TransactionReceipt(ctx, tr.TxHash)
	if err != nil {
		return open, fmt.Errorf("failed to read receipt for %s: %w", tr.TxHash, err)
	}
	if !receipt.Success {
		log.Info("ignoring reverted transfer to custodial address")
		return open, nil
	}

	value := ethereum.ToDecimal(tr.Value, uc.settings.Decimals)

	var candidates []*domain.DepositIntent
	for _, d := range open {
		if block.Timestamp.Before(d.ExpiresAt) && amount.WithinTolerance(value, d.UniqueAmount, uc.settings.Epsilon) {
			candidates = append(candidates, d)
		}
	}

	switch len(candidates) {
	case 0:
		log.Warn("unmatched transfer to custodial address", zap.String("amount", value.String()))
		return open, uc.flag(ctx, block, tr, value, domain.TransferFlagUnmatched, nil)

	case 1:
		intent := candidates[0]
		matched, err := uc.depositRepo.MarkMatched(ctx, intent.ID, repository.MatchInfo{
			TxHash:        tr.TxHash,
			FromAddress:   tr.From,
			BlockNumber:   block.Number,
			Confirmations: confirmationsAt(head, block.Number),
			MatchedAt:     uc.now(),
		})
		if err != nil {
			return open, err
		}
		if !matched {
			// the intent was expired or matched concurrently
			log.Info("intent no longer waiting, skipping", zap.String("intent_id", intent.ID))
			return withoutIntent(open, intent.ID), nil
		}

		metrics.DepositTransitions.WithLabelValues(string(domain.DepositStatusMatchedPending)).Inc()
		log.Info("deposit matched",
			zap.String("intent_id", intent.ID),
			zap.String("user_id", intent.UserID),
			zap.String("amount", value.String()))

		evt := events.NewEvent(domain.EventDepositMatched, intent.UserID, intent.ID)
		evt.Amount = intent.BaseAmount.String()
		evt.TxHash = tr.TxHash
		uc.bus.Emit(ctx, evt)
		return withoutIntent(open, intent.ID), nil

	default:
		ids := make([]string, len(candidates))
		for i, d := range candidates {
			ids[i] = d.ID
		}
		log.Error("ambiguous deposit match, leaving for manual review",
			zap.Error(domain.ErrAmbiguousMatch),
			zap.Strings("candidates", ids))
		return open, uc.flag(ctx, block, tr, value, domain.TransferFlagAmbiguous, ids)
	}
}

func (uc *DepositUsecase) flag(
	ctx context.Context,
	block *domain.Block,
	tr domain.Transfer,
	value decimal.Decimal,
	reason domain.TransferFlag,
	candidates []string,
) error {
	recorded, err := uc.transferRepo.RecordFlagged(ctx, &domain.UnmatchedTransfer{
		TxHash:       tr.TxHash,
		FromAddress:  tr.From,
		Amount:       value,
		BlockNumber:  block.Number,
		Reason:       reason,
		CandidateIDs: candidates,
		CreatedAt:    uc.now(),
	})
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}

	metrics.TransfersFlagged.WithLabelValues(string(reason)).Inc()
	evt := events.NewEvent(domain.EventTransferFlagged, "", tr.TxHash)
	evt.Amount = value.String()
	evt.TxHash = tr.TxHash
	evt.Reason = string(reason)
	uc.bus.Emit(ctx, evt)
	return nil
}

// ============================================================================
// CONFIRMATIONS
// ============================================================================

// ProcessConfirmations advances matched intents and credits those that reached
// the confirmation threshold. The credit is guarded by the status transition,
// so a repeated pass never credits twice.
func (uc *DepositUsecase) ProcessConfirmations(ctx context.Context) error {
	pending, err := uc.depositRepo.ListMatchedPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load matched intents: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	head, err := uc.chain.BlockNumber(ctx)
	if err != nil {
		metrics.ScanErrors.WithLabelValues("head").Inc()
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	for _, d := range pending {
		if err := uc.confirm(ctx, d, head); err != nil {
			metrics.ScanErrors.WithLabelValues("confirm").Inc()
			return err
		}
	}
	return nil
}

func (uc *DepositUsecase) confirm(ctx context.Context, d *domain.DepositIntent, head uint64) error {
	log := uc.logger.With(zap.String("intent_id", d.ID), zap.String("tx_hash", utils.StringValue(d.TxHash)))

	// a re-org can drop or move the transaction
	receipt, err := uc.chain.TransactionReceipt(ctx, *d.TxHash)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("matched transaction has no receipt, waiting")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read receipt for %s: %w", *d.TxHash, err)
	}
	if !receipt.Success {
		log.Error("matched transaction reverted after re-org, leaving for manual review")
		return nil
	}

	confs := confirmationsAt(head, receipt.BlockNumber)
	if confs < uc.settings.Confirmations {
		if d.BlockNumber == nil || *d.BlockNumber != receipt.BlockNumber || d.Confirmations != confs {
			return uc.depositRepo.UpdateConfirmations(ctx, d.ID, receipt.BlockNumber, confs)
		}
		return nil
	}

	credited, err := uc.depositRepo.ConfirmAndCredit(ctx, d.ID, confs, uc.now())
	if err != nil {
		return err
	}
	if !credited {
		return nil
	}

	metrics.DepositTransitions.WithLabelValues(string(domain.DepositStatusConfirmed)).Inc()
	log.Info("deposit confirmed and credited",
		zap.String("user_id", d.UserID),
		zap.String("amount", d.BaseAmount.String()),
		zap.Int("confirmations", confs))

	evt := events.NewEvent(domain.EventDepositConfirmed, d.UserID, d.ID)
	evt.Amount = d.BaseAmount.String()
	evt.TxHash = *d.TxHash
	uc.bus.Emit(ctx, evt)
	return nil
}

func confirmationsAt(head, block uint64) int {
	if head < block {
		return 0
	}
	return int(head - block + 1)
}

func withoutIntent(open []*domain.DepositIntent, id string) []*domain.DepositIntent {
	out := open[:0:0]
	for _, d := range open {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
