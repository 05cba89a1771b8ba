// internal/worker/janitor.go
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"go.uber.org/zap"
)

// Janitor expires overdue intents and settles abandoned withdrawals. Every
// sweep is guarded by status transitions, so several janitors may run at once.
type Janitor struct {
	depositUsecase    *usecase.DepositUsecase
	withdrawalUsecase *usecase.WithdrawalUsecase
	interval          time.Duration
	logger            *zap.Logger
	stopChan          chan struct{}
	stopOnce          sync.Once
}

func NewJanitor(
	depositUsecase *usecase.DepositUsecase,
	withdrawalUsecase *usecase.WithdrawalUsecase,
	interval time.Duration,
	logger *zap.Logger,
) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		depositUsecase:    depositUsecase,
		withdrawalUsecase: withdrawalUsecase,
		interval:          interval,
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Starting janitor", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)

		case <-j.stopChan:
			j.logger.Info("Stopping janitor")
			return

		case <-ctx.Done():
			j.logger.Info("Context cancelled, stopping janitor")
			return
		}
	}
}

// Sweep runs every cleanup once; a failing step does not block the others
func (j *Janitor) Sweep(ctx context.Context) {
	if _, err := j.depositUsecase.ExpireOverdue(ctx); err != nil {
		j.logger.Error("Failed to expire deposit intents", zap.Error(err))
	}

	swept, err := j.withdrawalUsecase.SweepStuck(ctx)
	if err != nil {
		j.logger.Error("Failed to sweep stuck withdrawals", zap.Error(err))
	}
	if swept > 0 {
		j.logger.Warn("Swept stuck withdrawals", zap.Int("count", swept))
	}

	refunded, err := j.withdrawalUsecase.RefundOrphans(ctx)
	if err != nil {
		j.logger.Error("Failed to refund failed withdrawals", zap.Error(err))
	}
	if refunded > 0 {
		j.logger.Warn("Refunded orphaned failed withdrawals", zap.Int("count", refunded))
	}
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}
