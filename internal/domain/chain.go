// internal/domain/chain.go
package domain

import (
	"context"
	"math/big"
	"time"
)

// ChainClient is the read/broadcast surface of the blockchain RPC endpoint.
// Reads retry on ErrChainUnavailable; SendRawTransaction never retries.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
}

// Block is a mined block reduced to its value transfers
type Block struct {
	Number    uint64
	Hash      string
	Timestamp time.Time
	Transfers []Transfer
}

// Transfer is a native value transfer observed on chain. Value is in wei.
type Transfer struct {
	TxHash      string
	From        string
	To          string
	Value       *big.Int
	BlockNumber uint64
}

// Receipt is the execution result of a mined transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	GasUsed     uint64
}
