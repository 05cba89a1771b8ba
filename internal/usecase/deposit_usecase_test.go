package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/amount"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	require.NoError(t, err)

	assert.Equal(t, domain.DepositStatusWaiting, intent.Status)
	assert.Equal(t, f.custody, intent.Address)
	assert.True(t, intent.BaseAmount.Equal(dec("10")))
	assert.True(t, intent.UniqueAmount.GreaterThan(dec("10")))
	assert.True(t, intent.UniqueAmount.LessThanOrEqual(dec("10.0999")))
	assert.True(t, amount.IsRepresentable(intent.UniqueAmount))
	assert.WithinDuration(t, intent.CreatedAt.Add(30*time.Minute), intent.ExpiresAt, time.Second)

	got, err := f.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, got.UniqueAmount.Equal(intent.UniqueAmount))
}

func TestCreateIntentSameUserSameAmountNeverCollapses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	first, err := f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	require.NoError(t, err)
	second, err := f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.UniqueAmount.Equal(second.UniqueAmount))
	assert.Equal(t, uint32(0), first.Salt)
	assert.NotEqual(t, uint32(0), second.Salt)
}

func TestCreateIntentExhaustedSalts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)
	f.deposits.settings.MaxAttempts = 1

	_, err := f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	require.NoError(t, err)
	_, err = f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	assert.ErrorIs(t, err, domain.ErrDuplicateUniqueAmount)
}

func TestCreateIntentValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	tests := []struct {
		name    string
		user    string
		amount  string
		wantErr error
	}{
		{"missing user", " ", "10", domain.ErrInvalidRequest},
		{"zero", "u", "0", domain.ErrInvalidAmount},
		{"below minimum", "u", "0.001", domain.ErrInvalidAmount},
		{"too precise", "u", "10.00001", domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.deposits.CreateIntent(ctx, tt.user, dec(tt.amount))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDepositMatchedThenConfirmedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("10"))
	require.NoError(t, err)

	f.chain.AddTransfer(101, domain.Transfer{
		TxHash: "0xdeposit",
		From:   "0x1111111111111111111111111111111111111111",
		To:     f.custody,
		Value:  wei(intent.UniqueAmount.String()),
	})
	f.chain.SetHead(101)

	require.NoError(t, f.deposits.ScanBlocks(ctx))
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))

	got, err := f.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
	assert.Equal(t, "0xdeposit", *got.TxHash)
	assert.Equal(t, 1, got.Confirmations)
	assert.True(t, f.balance(t, "user-a").IsZero())

	f.chain.SetHead(105)
	require.NoError(t, f.deposits.ScanBlocks(ctx))
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))
	got, _ = f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
	assert.Equal(t, 5, got.Confirmations)

	f.chain.SetHead(106)
	require.NoError(t, f.deposits.ScanBlocks(ctx))
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))
	got, _ = f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusConfirmed, got.Status)
	assert.True(t, f.balance(t, "user-a").Equal(dec("10")), "credits the base amount, not the unique amount")

	// rewind the watermark and re-scan the same range
	require.NoError(t, f.store.SaveCheckpoint(ctx, f.deposits.checkpointKey(), 99))
	require.NoError(t, f.deposits.ScanBlocks(ctx))
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))
	assert.True(t, f.balance(t, "user-a").Equal(dec("10")))

	assert.Len(t, f.published.OfType(domain.EventDepositMatched), 1)
	assert.Len(t, f.published.OfType(domain.EventDepositConfirmed), 1)
}

func TestDepositToleranceAbsorbsConversionNoise(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("3"))
	require.NoError(t, err)

	// a few wei short of the requested amount
	value := wei(intent.UniqueAmount.String())
	value.Sub(value, wei("0.000000000001"))
	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xnoisy", To: f.custody, Value: value})
	f.chain.SetHead(100)

	require.NoError(t, f.deposits.ScanBlocks(ctx))
	got, _ := f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
}

func TestDepositAmbiguousMatchIsFlagged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)
	now := time.Now().UTC()

	// two open intents that round to the same amount
	for i, unique := range []string{"10.00420", "10.00421"} {
		require.NoError(t, f.store.Create(ctx, &domain.DepositIntent{
			ID:           fmt.Sprintf("dep_%d", i),
			UserID:       fmt.Sprintf("user-%d", i),
			BaseAmount:   dec("10"),
			UniqueAmount: dec(unique),
			Address:      f.custody,
			Status:       domain.DepositStatusWaiting,
			CreatedAt:    now,
			ExpiresAt:    now.Add(time.Hour),
		}))
	}

	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xambiguous", To: f.custody, Value: wei("10.0042")})
	f.chain.SetHead(100)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	for i := 0; i < 2; i++ {
		got, err := f.deposits.GetIntent(ctx, fmt.Sprintf("dep_%d", i))
		require.NoError(t, err)
		assert.Equal(t, domain.DepositStatusWaiting, got.Status)
	}

	flagged, err := f.deposits.ListFlagged(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, domain.TransferFlagAmbiguous, flagged[0].Reason)
	assert.ElementsMatch(t, []string{"dep_0", "dep_1"}, flagged[0].CandidateIDs)
}

func TestDepositUnmatchedAndForeignTransfers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xstray", To: f.custody, Value: wei("7.5")})
	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xelsewhere", To: "0x2222222222222222222222222222222222222222", Value: wei("7.5")})
	f.chain.SetHead(100)

	require.NoError(t, f.deposits.ScanBlocks(ctx))
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	flagged, err := f.deposits.ListFlagged(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "0xstray", flagged[0].TxHash)
	assert.Equal(t, domain.TransferFlagUnmatched, flagged[0].Reason)
	assert.Len(t, f.published.OfType(domain.EventTransferFlagged), 1)
}

func TestScanErrorKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("1"))
	require.NoError(t, err)
	f.chain.AddTransfer(102, domain.Transfer{TxHash: "0xlate", To: f.custody, Value: wei(intent.UniqueAmount.String())})
	f.chain.SetHead(103)
	f.chain.FailBlock(103, domain.ErrChainUnavailable)

	err = f.deposits.ScanBlocks(ctx)
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)

	_, found, err := f.store.GetCheckpoint(ctx, f.deposits.checkpointKey())
	require.NoError(t, err)
	assert.False(t, found, "a failed tick must not persist a watermark")
	got, _ := f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusWaiting, got.Status)

	f.chain.FailBlock(103, nil)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	last, found, err := f.store.GetCheckpoint(ctx, f.deposits.checkpointKey())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(103), last)
	got, _ = f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
	assert.Equal(t, 2, got.Confirmations)
}

func TestConfirmationWaitsForMissingReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("2"))
	require.NoError(t, err)
	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xreorg", To: f.custody, Value: wei(intent.UniqueAmount.String())})
	f.chain.SetHead(100)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	f.chain.DropReceipt("0xreorg")
	f.chain.SetHead(120)
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))

	got, _ := f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
	assert.True(t, f.balance(t, "user-a").IsZero())

	// re-mined two blocks later
	f.chain.SetReceipt(&domain.Receipt{TxHash: "0xreorg", BlockNumber: 102, Success: true})
	require.NoError(t, f.deposits.ProcessConfirmations(ctx))
	got, _ = f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusConfirmed, got.Status)
	assert.Equal(t, 19, got.Confirmations)
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("5"))
	require.NoError(t, err)

	f.chain.SetHead(100)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	// the wall clock has passed the window but the scanned chain has not
	f.deposits.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := f.deposits.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.chain.SetBlockTime(101, intent.ExpiresAt)
	f.chain.SetHead(101)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	n, err = f.deposits.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusExpired, got.Status)
	assert.Len(t, f.published.OfType(domain.EventDepositExpired), 1)

	// an expired intent is no longer matchable
	f.chain.SetBlockTime(102, intent.ExpiresAt.Add(time.Minute))
	f.chain.AddTransfer(102, domain.Transfer{TxHash: "0xtoolate", To: f.custody, Value: wei(intent.UniqueAmount.String())})
	f.chain.SetHead(102)
	require.NoError(t, f.deposits.ScanBlocks(ctx))
	got, _ = f.deposits.GetIntent(ctx, intent.ID)
	assert.Equal(t, domain.DepositStatusExpired, got.Status)
}

func TestExpireOverdueWaitsForLaggingScanner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	intent, err := f.deposits.CreateIntent(ctx, "user-a", dec("5"))
	require.NoError(t, err)

	// paid on time, but the scanner is down while the window closes
	f.chain.AddTransfer(100, domain.Transfer{TxHash: "0xontime", To: f.custody, Value: wei(intent.UniqueAmount.String())})
	f.chain.SetHead(100)
	f.deposits.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	n, err := f.deposits.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.deposits.ScanBlocks(ctx))
	n, err = f.deposits.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.deposits.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusMatchedPending, got.Status)
	assert.Empty(t, f.published.OfType(domain.EventDepositExpired))
}

func TestExpireOverdueChainUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPassphrase)

	_, err := f.deposits.CreateIntent(ctx, "user-a", dec("5"))
	require.NoError(t, err)
	f.chain.SetHead(100)
	require.NoError(t, f.deposits.ScanBlocks(ctx))

	f.chain.FailBlock(100, domain.ErrChainUnavailable)
	f.deposits.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	_, err = f.deposits.ExpireOverdue(ctx)
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 50, clampLimit(-1))
	assert.Equal(t, 20, clampLimit(20))
	assert.Equal(t, 100, clampLimit(100))
	// oversized requests shrink to the cap, never below the caller's offset stride
	assert.Equal(t, 100, clampLimit(250))
}
