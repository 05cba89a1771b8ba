// internal/worker/reconcile_scheduler.go
package worker

import (
	"context"
	"fmt"

	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReconcileScheduler runs a full ledger reconciliation on a cron schedule
type ReconcileScheduler struct {
	cron             *cron.Cron
	reconcileUsecase *usecase.ReconcileUsecase
	schedule         string
	logger           *zap.Logger
}

func NewReconcileScheduler(reconcileUsecase *usecase.ReconcileUsecase, schedule string, logger *zap.Logger) *ReconcileScheduler {
	cl := cronLogger{logger.Sugar()}
	return &ReconcileScheduler{
		cron:             cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reconcileUsecase: reconcileUsecase,
		schedule:         schedule,
		logger:           logger,
	}
}

// Start registers the job and blocks until ctx is cancelled
func (s *ReconcileScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Run(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}
	s.logger.Info("Scheduled ledger reconciliation", zap.String("schedule", s.schedule))
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Reconcile scheduler stopped")
	return nil
}

// Run performs one reconciliation pass
func (s *ReconcileScheduler) Run(ctx context.Context) {
	checked, corrected, err := s.reconcileUsecase.RecomputeAll(ctx)
	if err != nil {
		s.logger.Error("Ledger reconciliation incomplete",
			zap.Int("checked", checked),
			zap.Int("corrected", corrected),
			zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
