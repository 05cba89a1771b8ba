package worker

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
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	passPath    = "custody/keystore-passphrase"
	passphrase  = "correct horse"
	destination = "0x000000000000000000000000000000000000dEaD"
)

type secrets map[string]string

func (s secrets) GetSecret(_ context.Context, path string) (string, error) {
	v, ok := s[path]
	if !ok {
		return "", security.ErrSecretNotFound
	}
	return v, nil
}

type env struct {
	store       *memory.Store
	chain       *fakechain.Chain
	custody     string
	deposits    *usecase.DepositUsecase
	withdrawals *usecase.WithdrawalUsecase
	reconciler  *usecase.ReconcileUsecase
}

type envOption func(*usecase.DepositSettings, *usecase.WithdrawalSettings)

func newEnv(t *testing.T, secret string, opts ...envOption) *env {
	t.Helper()
	logger := zap.NewNop()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	blob, err := security.EncryptKeystore(key, passphrase, true)
	require.NoError(t, err)
	custody := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ds := usecase.DepositSettings{
		Address:          custody,
		ChainID:          1337,
		Decimals:         ethereum.NativeDecimals,
		Symbol:           "DEL",
		IntentTTL:        30 * time.Minute,
		Confirmations:    3,
		MaxBlocksPerTick: 50,
		FetchConcurrency: 2,
		StartBlock:       10,
		Granularity:      decimal.RequireFromString("0.0001"),
		Slots:            999,
		MaxAttempts:      8,
		Epsilon:          decimal.RequireFromString("0.00005"),
		MinAmount:        decimal.RequireFromString("0.01"),
	}
	ws := usecase.WithdrawalSettings{
		Address:           custody,
		ChainID:           big.NewInt(1337),
		Decimals:          ethereum.NativeDecimals,
		GasLimit:          21000,
		MaxGasPrice:       ethereum.GweiToWei(100),
		MinAmount:         decimal.RequireFromString("0.01"),
		StuckTimeout:      10 * time.Minute,
		BroadcastAttempts: 1,
		BroadcastBackoff:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(&ds, &ws)
	}

	store := memory.NewStore()
	chain := fakechain.New()
	chain.SetBalance(custody, ethereum.ToWei(decimal.NewFromInt(1000), ethereum.NativeDecimals))
	bus := events.NewBus(events.NewMemoryPublisher(), logger)
	keys := security.NewKeyVault(blob, custody, passPath, secrets{passPath: secret}, logger)

	return &env{
		store:    store,
		chain:    chain,
		custody:  custody,
		deposits: usecase.NewDepositUsecase(store, store, store, chain, nil, bus, ds, logger),
		withdrawals: usecase.NewWithdrawalUsecase(
			store.Withdrawals(), store, chain, keys,
			nonce.NewAllocator(nil, chain, time.Minute, logger),
			bus, ws, logger,
		),
		reconciler: usecase.NewReconcileUsecase(store, bus, decimal.RequireFromString("0.0001"), logger),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}
