package worker

import (
	"context"
	"testing"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDepositMatcherTick(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, passphrase)
	matcher := NewDepositMatcher(e.deposits, time.Second, zap.NewNop())

	intent, err := e.deposits.CreateIntent(ctx, "user-a", dec("2.5"))
	require.NoError(t, err)
	e.chain.AddTransfer(11, domain.Transfer{
		TxHash: "0xpaid",
		From:   "0x1111111111111111111111111111111111111111",
		To:     e.custody,
		Value:  ethereum.ToWei(intent.UniqueAmount, ethereum.NativeDecimals),
	})
	e.chain.SetHead(11)

	matcher.Tick(ctx)
	got, err := e.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)

	e.chain.SetHead(13)
	matcher.Tick(ctx)
	got, err = e.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusConfirmed, got.Status)
	assert.True(t, e.balance(t, "user-a").Equal(dec("2.5")))
}

func TestDepositMatcherSurvivesChainOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newEnv(t, passphrase)
	e.chain.SetHeadError(domain.ErrChainUnavailable)
	matcher := NewDepositMatcher(e.deposits, 5*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		matcher.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("matcher did not stop")
	}
}

func TestWithdrawalWorkerDrainsQueue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, passphrase)
	e.store.SetBalance("user-a", dec("10"))
	w := NewWithdrawalWorker(e.withdrawals, e.store.NewSignerLock(e.custody), time.Second, time.Second, zap.NewNop())

	first, err := e.withdrawals.Create(ctx, "user-a", destination, dec("3"))
	require.NoError(t, err)
	second, err := e.withdrawals.Create(ctx, "user-a", destination, dec("4"))
	require.NoError(t, err)

	w.Drain(ctx)

	for _, id := range []string{first.ID, second.ID} {
		got, err := e.withdrawals.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusSent, got.Status)
	}
	sent := e.chain.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Nonce()+1, sent[1].Nonce())
	assert.False(t, w.Halted())
}

func TestWithdrawalWorkerHaltsOnKeyFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "wrong passphrase")
	e.store.SetBalance("user-a", dec("10"))
	w := NewWithdrawalWorker(e.withdrawals, e.store.NewSignerLock(e.custody), time.Second, time.Second, zap.NewNop())

	req, err := e.withdrawals.Create(ctx, "user-a", destination, dec("3"))
	require.NoError(t, err)

	w.Drain(ctx)
	assert.True(t, w.Halted())

	got, err := e.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusQueued, got.Status, "request goes back to the queue")
	assert.Empty(t, e.chain.Sent())
	assert.True(t, e.balance(t, "user-a").Equal(dec("7")))

	// a halted worker exits instead of looping
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("halted worker kept running")
	}
}

func TestWithdrawalWorkerWakesAsLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, passphrase)
	e.store.SetBalance("user-a", dec("10"))
	lock := e.store.NewSignerLock(e.custody)
	w := NewWithdrawalWorker(e.withdrawals, lock, time.Hour, time.Hour, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	require.Eventually(t, w.Leader, time.Second, 5*time.Millisecond)

	// Create wakes the worker, the hour-long poll never fires
	req, err := e.withdrawals.Create(ctx, "user-a", destination, dec("1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := e.withdrawals.Get(ctx, req.ID)
		return err == nil && got.Status == domain.WithdrawalStatusSent
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	other := e.store.NewSignerLock(e.custody)
	held, err := other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "lock released on exit")
}

func TestWithdrawalWorkerStandbyWithoutLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, passphrase)
	e.store.SetBalance("user-a", dec("10"))

	holder := e.store.NewSignerLock(e.custody)
	held, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	w := NewWithdrawalWorker(e.withdrawals, e.store.NewSignerLock(e.custody), 5*time.Millisecond, 5*time.Millisecond, zap.NewNop())
	req, err := e.withdrawals.Create(ctx, "user-a", destination, dec("1"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	assert.False(t, w.Leader())
	got, err := e.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusQueued, got.Status)

	// the standby takes over once the holder goes away
	require.NoError(t, holder.Release(ctx))
	require.Eventually(t, func() bool {
		got, err := e.withdrawals.Get(ctx, req.ID)
		return err == nil && got.Status == domain.WithdrawalStatusSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWakeDoesNotBlock(t *testing.T) {
	e := newEnv(t, passphrase)
	w := NewWithdrawalWorker(e.withdrawals, e.store.NewSignerLock(e.custody), time.Second, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		w.Wake()
	}
	assert.Len(t, w.wake, 1)
}

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, passphrase, func(ds *usecase.DepositSettings, ws *usecase.WithdrawalSettings) {
		ds.IntentTTL = time.Millisecond
		ws.StuckTimeout = time.Millisecond
	})
	e.store.SetBalance("user-a", dec("10"))
	janitor := NewJanitor(e.deposits, e.withdrawals, time.Minute, zap.NewNop())

	intent, err := e.deposits.CreateIntent(ctx, "user-a", dec("1"))
	require.NoError(t, err)
	req, err := e.withdrawals.Create(ctx, "user-a", destination, dec("4"))
	require.NoError(t, err)
	_, err = e.store.Withdrawals().ClaimNextQueued(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, e.balance(t, "user-a").Equal(dec("6")))

	time.Sleep(10 * time.Millisecond)
	// expiry follows the scanned chain, so the window must close there first
	janitor.Sweep(ctx)
	gotIntent, err := e.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusWaiting, gotIntent.Status)

	e.chain.SetHead(10)
	require.NoError(t, e.deposits.ScanBlocks(ctx))
	janitor.Sweep(ctx)
	janitor.Sweep(ctx)

	gotIntent, err = e.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusExpired, gotIntent.Status)

	gotReq, err := e.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusRefunded, gotReq.Status)
	assert.True(t, e.balance(t, "user-a").Equal(dec("10")), "refunded exactly once")
}

func TestReconcileSchedulerRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, passphrase)
	e.store.SetBalance("user-a", dec("5"))

	s := NewReconcileScheduler(e.reconciler, "@every 1h", zap.NewNop())
	s.Run(ctx)

	assert.True(t, e.balance(t, "user-a").IsZero())
	assert.Len(t, e.store.Corrections(), 1)
}

func TestReconcileSchedulerRejectsBadSchedule(t *testing.T) {
	e := newEnv(t, passphrase)
	s := NewReconcileScheduler(e.reconciler, "not a cron line", zap.NewNop())
	err := s.Start(context.Background())
	assert.Error(t, err)
}
