// internal/usecase/settings.go
package usecase

import (
	"math/big"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/config"

	"github.com/shopspring/decimal"
)

// DepositSettings is the deposit side of the configuration
type DepositSettings struct {
	Address          string
	ChainID          int64
	Decimals         int32
	Symbol           string
	IntentTTL        time.Duration
	Confirmations    int
	MaxBlocksPerTick uint64
	FetchConcurrency int
	StartBlock       int64
	Granularity      decimal.Decimal
	Slots            int64
	MaxAttempts      int
	Epsilon          decimal.Decimal
	MinAmount        decimal.Decimal
}

func DepositSettingsFromConfig(cfg *config.Config) DepositSettings {
	return DepositSettings{
		Address:          cfg.Custody.Address,
		ChainID:          cfg.Chain.ChainID,
		Decimals:         cfg.Chain.Decimals,
		Symbol:           cfg.Chain.Symbol,
		IntentTTL:        cfg.Deposit.IntentTTL,
		Confirmations:    cfg.Deposit.Confirmations,
		MaxBlocksPerTick: cfg.Deposit.MaxBlocksPerTick,
		FetchConcurrency: cfg.Deposit.FetchConcurrency,
		StartBlock:       cfg.Deposit.StartBlock,
		Granularity:      cfg.Deposit.Granularity,
		Slots:            cfg.Deposit.Slots,
		MaxAttempts:      cfg.Deposit.MaxAttempts,
		Epsilon:          cfg.Deposit.Epsilon,
		MinAmount:        cfg.Deposit.MinAmount,
	}
}

// WithdrawalSettings is the withdrawal side of the configuration
type WithdrawalSettings struct {
	Address           string
	ChainID           *big.Int
	Decimals          int32
	GasLimit          uint64
	MaxGasPrice       *big.Int // wei
	MinAmount         decimal.Decimal
	StuckTimeout      time.Duration
	BroadcastAttempts int
	BroadcastBackoff  time.Duration
}

func WithdrawalSettingsFromConfig(cfg *config.Config) WithdrawalSettings {
	return WithdrawalSettings{
		Address:           cfg.Custody.Address,
		ChainID:           big.NewInt(cfg.Chain.ChainID),
		Decimals:          cfg.Chain.Decimals,
		GasLimit:          cfg.Chain.GasLimit,
		MaxGasPrice:       ethereum.GweiToWei(cfg.Chain.MaxGasPrice),
		MinAmount:         cfg.Withdrawal.MinAmount,
		StuckTimeout:      cfg.Withdrawal.StuckTimeout,
		BroadcastAttempts: cfg.Withdrawal.BroadcastAttempts,
		BroadcastBackoff:  cfg.Withdrawal.BroadcastBackoff,
	}
}
