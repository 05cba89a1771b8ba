package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// confirmDeposit pushes an intent for base straight to confirmed
func confirmDeposit(t *testing.T, f *fixture, userID, base, txHash string) {
	t.Helper()
	ctx := context.Background()
	intent, err := f.deposits.CreateIntent(ctx, userID, dec(base))
	require.NoError(t, err)
	_, err = f.store.MarkMatched(ctx, intent.ID, repository.MatchInfo{TxHash: txHash, BlockNumber: 1, MatchedAt: time.Now()})
	require.NoError(t, err)
	ok, err := f.store.ConfirmAndCredit(ctx, intent.ID, 6, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRecomputeCorrectsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)
	f.chain.SetBalance(f.custody, wei("1000"))

	confirmDeposit(t, f, "user-a", "10", "0x1")
	confirmDeposit(t, f, "user-a", "5", "0x2")
	_, err := f.withdrawals.Create(ctx, "user-a", destination, dec("4"))
	require.NoError(t, err)

	rec, err := f.reconciler.Recompute(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, rec.Corrected)
	assert.True(t, rec.ComputedBalance.Equal(dec("11")))

	f.store.SetBalance("user-a", dec("25"))
	rec, err = f.reconciler.Recompute(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, rec.Corrected)
	assert.True(t, rec.Delta().Equal(dec("-14")), rec.Delta().String())
	assert.True(t, f.balance(t, "user-a").Equal(dec("11")))
	assert.Len(t, f.published.OfType(domain.EventBalanceCorrected), 1)

	// same history, same answer
	rec, err = f.reconciler.Recompute(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, rec.Corrected)
	assert.Len(t, f.store.Corrections(), 1)
}

func TestRecomputeIgnoresDustWithinEpsilon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	confirmDeposit(t, f, "user-a", "10", "0x1")
	f.store.SetBalance("user-a", dec("10.00005"))

	rec, err := f.reconciler.Recompute(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, rec.Corrected)
	assert.True(t, f.balance(t, "user-a").Equal(dec("10.00005")))
}

func TestRecomputeRefundedWithdrawalCountsAsReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)
	f.chain.SetBalance(f.custody, wei("1000"))

	confirmDeposit(t, f, "user-a", "50", "0x1")
	w, err := f.withdrawals.Create(ctx, "user-a", destination, dec("50"))
	require.NoError(t, err)
	_, err = f.withdrawals.Cancel(ctx, w.ID)
	require.NoError(t, err)

	rec, err := f.reconciler.Recompute(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, rec.Corrected)
	assert.True(t, rec.ComputedBalance.Equal(dec("50")))
}

func TestRecomputeAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	confirmDeposit(t, f, "user-a", "10", "0x1")
	confirmDeposit(t, f, "user-b", "20", "0x2")
	f.store.SetBalance("user-b", dec("0"))

	checked, corrected, err := f.reconciler.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	assert.Equal(t, 1, corrected)
	assert.True(t, f.balance(t, "user-b").Equal(dec("20")))

	_, err = f.reconciler.Recompute(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
