// internal/worker/deposit_matcher.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"go.uber.org/zap"
)

// DepositMatcher polls the chain for transfers to the custodial address and
// advances matched intents to confirmed.
type DepositMatcher struct {
	depositUsecase *usecase.DepositUsecase
	interval       time.Duration
	logger         *zap.Logger
	stopChan       chan struct{}
	stopOnce       sync.Once
}

func NewDepositMatcher(
	depositUsecase *usecase.DepositUsecase,
	interval time.Duration,
	logger *zap.Logger,
) *DepositMatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &DepositMatcher{
		depositUsecase: depositUsecase,
		interval:       interval,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}
}

// Start runs the scan loop until Stop or ctx cancellation
func (dm *DepositMatcher) Start(ctx context.Context) {
	dm.logger.Info("Starting deposit matcher", zap.Duration("interval", dm.interval))

	ticker := time.NewTicker(dm.interval)
	defer ticker.Stop()

	dm.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			dm.Tick(ctx)

		case <-dm.stopChan:
			dm.logger.Info("Stopping deposit matcher")
			return

		case <-ctx.Done():
			dm.logger.Info("Context cancelled, stopping deposit matcher")
			return
		}
	}
}

// Tick runs one scan and one confirmation pass. They are independent: a
// failed scan still lets already matched deposits confirm.
func (dm *DepositMatcher) Tick(ctx context.Context) {
	if err := dm.depositUsecase.ScanBlocks(ctx); err != nil {
		dm.logTickError("Deposit scan aborted, range will be retried", err)
	}
	if err := dm.depositUsecase.ProcessConfirmations(ctx); err != nil {
		dm.logTickError("Confirmation pass aborted", err)
	}
}

func (dm *DepositMatcher) logTickError(msg string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, domain.ErrChainUnavailable) {
		dm.logger.Warn(msg, zap.Error(err))
		return
	}
	dm.logger.Error(msg, zap.Error(err))
}

func (dm *DepositMatcher) Stop() {
	dm.stopOnce.Do(func() { close(dm.stopChan) })
}
