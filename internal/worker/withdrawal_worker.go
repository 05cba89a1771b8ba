// internal/worker/withdrawal_worker.go
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"go.uber.org/zap"
)

// WithdrawalWorker is the single signer for the custodial address. Only the
// process holding the signer lock drains the queue; others wait in standby.
type WithdrawalWorker struct {
	withdrawalUsecase *usecase.WithdrawalUsecase
	lock              repository.SignerLock
	pollInterval      time.Duration
	lockRetryInterval time.Duration
	resolveInterval   time.Duration

	wake     chan struct{}
	halted   atomic.Bool
	leader   atomic.Bool
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewWithdrawalWorker(
	withdrawalUsecase *usecase.WithdrawalUsecase,
	lock repository.SignerLock,
	pollInterval time.Duration,
	lockRetryInterval time.Duration,
	logger *zap.Logger,
) *WithdrawalWorker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if lockRetryInterval <= 0 {
		lockRetryInterval = 30 * time.Second
	}
	w := &WithdrawalWorker{
		withdrawalUsecase: withdrawalUsecase,
		lock:              lock,
		pollInterval:      pollInterval,
		lockRetryInterval: lockRetryInterval,
		resolveInterval:   time.Minute,
		wake:              make(chan struct{}, 1),
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
	withdrawalUsecase.SetWaker(w)
	return w
}

// Wake nudges the worker to look at the queue without waiting for the poll
func (w *WithdrawalWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Halted reports whether signing stopped on a key failure
func (w *WithdrawalWorker) Halted() bool {
	return w.halted.Load()
}

// Leader reports whether this process currently holds the signer lock
func (w *WithdrawalWorker) Leader() bool {
	return w.leader.Load()
}

func (w *WithdrawalWorker) Start(ctx context.Context) {
	w.logger.Info("Starting withdrawal worker", zap.Duration("poll_interval", w.pollInterval))
	defer w.release()

	for !w.Halted() {
		acquired, err := w.lock.TryAcquire(ctx)
		if err != nil {
			w.logger.Error("Failed to take signer lock", zap.Error(err))
		}
		if acquired {
			w.leader.Store(true)
			w.logger.Info("Signer lock acquired, processing withdrawals")
			if stop := w.lead(ctx); stop {
				return
			}
			w.leader.Store(false)
			continue
		}

		w.logger.Debug("Another signer holds the lock, standing by")
		select {
		case <-time.After(w.lockRetryInterval):
		case <-w.stopChan:
			w.logger.Info("Stopping withdrawal worker")
			return
		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping withdrawal worker")
			return
		}
	}
}

// lead drains the queue while the lock is held. It returns true when the
// worker should exit and false when leadership was lost.
func (w *WithdrawalWorker) lead(ctx context.Context) bool {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	resolveTicker := time.NewTicker(w.resolveInterval)
	defer resolveTicker.Stop()

	w.resolve(ctx)
	w.Drain(ctx)
	for !w.Halted() {
		select {
		case <-ticker.C:
			held, err := w.lock.TryAcquire(ctx)
			if err != nil || !held {
				w.logger.Warn("Signer lock lost, returning to standby", zap.Error(err))
				return false
			}
			w.Drain(ctx)

		case <-w.wake:
			w.Drain(ctx)

		case <-resolveTicker.C:
			w.resolve(ctx)

		case <-w.stopChan:
			w.logger.Info("Stopping withdrawal worker")
			return true

		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping withdrawal worker")
			return true
		}
	}
	return true
}

// Drain processes queued requests one at a time until the queue is empty or
// an error occurs.
func (w *WithdrawalWorker) Drain(ctx context.Context) {
	for !w.Halted() && ctx.Err() == nil {
		processed, err := w.withdrawalUsecase.ProcessNext(ctx)
		if errors.Is(err, domain.ErrSignerHalted) {
			w.halt(err)
			return
		}
		if err != nil {
			w.logger.Error("Withdrawal processing failed, backing off", zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

func (w *WithdrawalWorker) resolve(ctx context.Context) {
	n, err := w.withdrawalUsecase.ResolvePending(ctx)
	if err != nil {
		w.logger.Error("Failed to resolve signed withdrawals", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Resolved signed withdrawals", zap.Int("count", n))
	}
}

func (w *WithdrawalWorker) halt(err error) {
	if w.halted.Swap(true) {
		return
	}
	metrics.SignerHalted.Set(1)
	w.logger.Error("Withdrawal signer halted, operator action required", zap.Error(err))
}

func (w *WithdrawalWorker) release() {
	w.leader.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.lock.Release(ctx); err != nil {
		w.logger.Warn("Failed to release signer lock", zap.Error(err))
	}
}

func (w *WithdrawalWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}
