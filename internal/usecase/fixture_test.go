package usecase

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/fakechain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/nonce"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository/memory"
	"github.com/Gazprom100/TAPDEL-sub000/internal/security"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPassPath   = "custody/keystore-passphrase"
	testPassphrase = "correct horse"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, path string) (string, error) {
	v, ok := s[path]
	if !ok {
		return "", security.ErrSecretNotFound
	}
	return v, nil
}

type fixture struct {
	store       *memory.Store
	chain       *fakechain.Chain
	published   *events.MemoryPublisher
	bus         *events.Bus
	custody     string
	deposits    *DepositUsecase
	withdrawals *WithdrawalUsecase
	reconciler  *ReconcileUsecase
}

func testDepositSettings(custody string) DepositSettings {
	return DepositSettings{
		Address:          custody,
		ChainID:          1337,
		Decimals:         ethereum.NativeDecimals,
		Symbol:           "DEL",
		IntentTTL:        30 * time.Minute,
		Confirmations:    6,
		MaxBlocksPerTick: 50,
		FetchConcurrency: 4,
		StartBlock:       100,
		Granularity:      decimal.RequireFromString("0.0001"),
		Slots:            999,
		MaxAttempts:      8,
		Epsilon:          decimal.RequireFromString("0.00005"),
		MinAmount:        decimal.RequireFromString("0.01"),
	}
}

func testWithdrawalSettings(custody string) WithdrawalSettings {
	return WithdrawalSettings{
		Address:           custody,
		ChainID:           big.NewInt(1337),
		Decimals:          ethereum.NativeDecimals,
		GasLimit:          21000,
		MaxGasPrice:       ethereum.GweiToWei(100),
		MinAmount:         decimal.RequireFromString("0.01"),
		StuckTimeout:      10 * time.Minute,
		BroadcastAttempts: 3,
		BroadcastBackoff:  time.Millisecond,
	}
}

// newFixture wires the usecases against the in-memory store and a fake chain.
// passphrase is what the secret source returns for the keystore.
func newFixture(t *testing.T, passphrase string) *fixture {
	t.Helper()
	logger := zap.NewNop()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	blob, err := security.EncryptKeystore(key, testPassphrase, true)
	require.NoError(t, err)
	custody := crypto.PubkeyToAddress(key.PublicKey).Hex()
	keys := security.NewKeyVault(blob, custody, testPassPath, staticSecrets{testPassPath: passphrase}, logger)

	store := memory.NewStore()
	chain := fakechain.New()
	published := events.NewMemoryPublisher()
	bus := events.NewBus(published, logger)

	f := &fixture{
		store:     store,
		chain:     chain,
		published: published,
		bus:       bus,
		custody:   custody,
	}
	f.deposits = NewDepositUsecase(store, store, store, chain, nil, bus, testDepositSettings(custody), logger)
	f.withdrawals = NewWithdrawalUsecase(
		store.Withdrawals(),
		store,
		chain,
		keys,
		nonce.NewAllocator(nil, chain, time.Minute, logger),
		bus,
		testWithdrawalSettings(custody),
		logger,
	)
	f.withdrawals.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	f.reconciler = NewReconcileUsecase(store, bus, decimal.RequireFromString("0.0001"), logger)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func wei(s string) *big.Int {
	return ethereum.ToWei(dec(s), ethereum.NativeDecimals)
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}
