// internal/usecase/deposit_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/amount"
	"github.com/Gazprom100/TAPDEL-sub000/internal/cache"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DepositUsecase struct {
	depositRepo    repository.DepositRepository
	transferRepo   repository.TransferRepository
	checkpointRepo repository.CheckpointRepository
	chain          domain.ChainClient
	cache          *cache.Cache // optional watermark hint
	bus            *events.Bus
	fingerprinter  *amount.Fingerprinter
	settings       DepositSettings
	now            func() time.Time
	logger         *zap.Logger
}

func NewDepositUsecase(
	depositRepo repository.DepositRepository,
	transferRepo repository.TransferRepository,
	checkpointRepo repository.CheckpointRepository,
	chain domain.ChainClient,
	c *cache.Cache,
	bus *events.Bus,
	settings DepositSettings,
	logger *zap.Logger,
) *DepositUsecase {
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}
	if settings.MaxBlocksPerTick == 0 {
		settings.MaxBlocksPerTick = 100
	}
	if settings.FetchConcurrency < 1 {
		settings.FetchConcurrency = 1
	}
	return &DepositUsecase{
		depositRepo:    depositRepo,
		transferRepo:   transferRepo,
		checkpointRepo: checkpointRepo,
		chain:          chain,
		cache:          c,
		bus:            bus,
		fingerprinter:  amount.NewFingerprinter(settings.Granularity, settings.Slots),
		settings:       settings,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// ============================================================================
// INTENTS
// ============================================================================

// CreateIntent announces a deposit of base from userID. The returned intent
// carries the fingerprinted amount the user has to send.
func (uc *DepositUsecase) CreateIntent(ctx context.Context, userID string, base decimal.Decimal) (*domain.DepositIntent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if !base.IsPositive() || base.LessThan(uc.settings.MinAmount) {
		return nil, fmt.Errorf("%w: minimum deposit is %s", domain.ErrInvalidAmount, uc.settings.MinAmount)
	}
	if !amount.IsRepresentable(base) {
		return nil, fmt.Errorf("%w: at most %d decimal places", domain.ErrInvalidAmount, amount.Precision)
	}

	// Waiting intents past expiry still hold their amount until the janitor sweeps them
	waiting, err := uc.depositRepo.ListWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open intents: %w", err)
	}

	for salt := 0; salt < uc.settings.MaxAttempts; salt++ {
		unique := uc.fingerprinter.Fingerprint(base, userID, uint32(salt))
		if collides(unique, waiting, uc.settings.Epsilon) {
			metrics.DepositIntentCollisions.Inc()
			continue
		}

		now := uc.now()
		intent := &domain.DepositIntent{
			ID:           utils.GenerateID("dep"),
			UserID:       userID,
			BaseAmount:   base,
			UniqueAmount: unique,
			Address:      uc.settings.Address,
			Salt:         uint32(salt),
			Status:       domain.DepositStatusWaiting,
			CreatedAt:    now,
			ExpiresAt:    now.Add(uc.settings.IntentTTL),
		}
		err := uc.depositRepo.Create(ctx, intent)
		if errors.Is(err, domain.ErrDuplicateUniqueAmount) {
			// lost a race with a concurrent creation
			metrics.DepositIntentCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.DepositIntentsCreated.Inc()
		uc.logger.Info("deposit intent created",
			zap.String("intent_id", intent.ID),
			zap.String("user_id", userID),
			zap.String("base_amount", base.String()),
			zap.String("unique_amount", utils.FormatAmount(unique, uc.settings.Symbol)),
			zap.Int("salt", salt))
		return intent, nil
	}

	uc.logger.Warn("no free unique amount for deposit intent",
		zap.String("user_id", userID),
		zap.String("base_amount", base.String()),
		zap.Int("attempts", uc.settings.MaxAttempts))
	return nil, domain.ErrDuplicateUniqueAmount
}

func collides(unique decimal.Decimal, open []*domain.DepositIntent, epsilon decimal.Decimal) bool {
	for _, d := range open {
		if amount.WithinTolerance(unique, d.UniqueAmount, epsilon) {
			return true
		}
	}
	return false
}

func (uc *DepositUsecase) GetIntent(ctx context.Context, id string) (*domain.DepositIntent, error) {
	return uc.depositRepo.GetByID(ctx, id)
}

func (uc *DepositUsecase) ListIntents(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositIntent, error) {
	return uc.depositRepo.ListByUser(ctx, userID, clampLimit(limit), offset)
}

func (uc *DepositUsecase) ListFlagged(ctx context.Context, limit, offset int) ([]*domain.UnmatchedTransfer, error) {
	return uc.transferRepo.ListFlagged(ctx, clampLimit(limit), offset)
}

// ExpireOverdue closes waiting intents whose window has passed on chain.
// The cutoff is the timestamp of the last scanned block, so an intent is
// never expired while the scanner may still hold a transfer that paid it.
func (uc *DepositUsecase) ExpireOverdue(ctx context.Context) (int, error) {
	now := uc.now()
	cutoff, scanned, err := uc.scannedThrough(ctx)
	if err != nil {
		return 0, err
	}
	if !scanned {
		return 0, nil
	}
	if now.Before(cutoff) {
		cutoff = now
	}

	expired, err := uc.depositRepo.ExpireOverdue(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	for _, d := range expired {
		metrics.DepositTransitions.WithLabelValues(string(domain.DepositStatusExpired)).Inc()
		evt := events.NewEvent(domain.EventDepositExpired, d.UserID, d.ID)
		evt.Amount = d.UniqueAmount.String()
		uc.bus.Emit(ctx, evt)
	}
	if len(expired) > 0 {
		uc.logger.Info("expired deposit intents", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// scannedThrough returns the timestamp of the block at the persisted scanner
// checkpoint; scanned is false before the first window has been committed
func (uc *DepositUsecase) scannedThrough(ctx context.Context) (time.Time, bool, error) {
	last, found, err := uc.checkpointRepo.GetCheckpoint(ctx, uc.checkpointKey())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load scanner checkpoint: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	blk, err := uc.chain.BlockByNumber(ctx, last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read scanned block %d: %w", last, err)
	}
	return blk.Timestamp, true, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 100)
}
