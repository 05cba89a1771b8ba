// internal/chains/fakechain/chain.go
package fakechain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is a scriptable in-memory domain.ChainClient for worker and usecase tests
type Chain struct {
	mu sync.Mutex

	head     uint64
	blocks   map[uint64]*domain.Block
	receipts map[string]*domain.Receipt
	balances map[string]*big.Int
	pending  map[string]uint64
	gasPrice *big.Int

	headErr    error
	blockErrs  map[uint64]error
	sendErrs   []error
	mineOnSend bool

	sent []*types.Transaction
}

func New() *Chain {
	return &Chain{
		blocks:    make(map[uint64]*domain.Block),
		receipts:  make(map[string]*domain.Receipt),
		balances:  make(map[string]*big.Int),
		pending:   make(map[string]uint64),
		blockErrs: make(map[uint64]error),
		gasPrice:  big.NewInt(1_000_000_000),
	}
}

var _ domain.ChainClient = (*Chain)(nil)

// ============================================================================
// SCRIPTING
// ============================================================================

func (c *Chain) SetHead(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = h
}

func (c *Chain) SetHeadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headErr = err
}

// FailBlock makes BlockByNumber(n) return err until cleared with a nil err
func (c *Chain) FailBlock(n uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.blockErrs, n)
		return
	}
	c.blockErrs[n] = err
}

// AddTransfer places a successful transfer into block n and records its receipt
func (c *Chain) AddTransfer(n uint64, tr domain.Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.blockLocked(n)
	tr.BlockNumber = n
	b.Transfers = append(b.Transfers, tr)
	c.receipts[strings.ToLower(tr.TxHash)] = &domain.Receipt{TxHash: tr.TxHash, BlockNumber: n, Success: true, GasUsed: 21000}
}

// SetBlockTime pins the timestamp of block n; unpinned blocks take the
// wall clock at first use
func (c *Chain) SetBlockTime(n uint64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockLocked(n).Timestamp = at.UTC()
}

func (c *Chain) SetReceipt(r *domain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[strings.ToLower(r.TxHash)] = r
}

func (c *Chain) DropReceipt(txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.receipts, strings.ToLower(txHash))
}

func (c *Chain) SetBalance(address string, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[strings.ToLower(address)] = wei
}

func (c *Chain) SetPendingNonce(address string, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[strings.ToLower(address)] = n
}

func (c *Chain) SetGasPrice(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = wei
}

// QueueSendErrors makes the next SendRawTransaction calls fail in order
func (c *Chain) QueueSendErrors(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrs = append(c.sendErrs, errs...)
}

// MineOnSend records a successful receipt for every accepted broadcast
func (c *Chain) MineOnSend(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineOnSend = on
}

// Sent returns the transactions accepted by SendRawTransaction
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *Chain) blockLocked(n uint64) *domain.Block {
	b, ok := c.blocks[n]
	if !ok {
		b = &domain.Block{
			Number:    n,
			Hash:      fmt.Sprintf("0xblock%d", n),
			Timestamp: time.Now().UTC(),
		}
		c.blocks[n] = b
	}
	return b
}

// ============================================================================
// domain.ChainClient
// ============================================================================

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *Chain) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.blockErrs[number]; err != nil {
		return nil, err
	}
	if number > c.head {
		return nil, fmt.Errorf("block %d beyond head: %w", number, domain.ErrChainUnavailable)
	}
	b := *c.blockLocked(number)
	b.Transfers = append([]domain.Transfer(nil), b.Transfers...)
	return &b, nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[strings.ToLower(txHash)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *Chain) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.balances[strings.ToLower(address)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[strings.ToLower(address)], nil
}

func (c *Chain) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrChainRejected, err)
	}
	c.sent = append(c.sent, tx)
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		key := strings.ToLower(from.Hex())
		if tx.Nonce() >= c.pending[key] {
			c.pending[key] = tx.Nonce() + 1
		}
	}

	hash := tx.Hash().Hex()
	if c.mineOnSend {
		c.head++
		c.receipts[strings.ToLower(hash)] = &domain.Receipt{TxHash: hash, BlockNumber: c.head, Success: true, GasUsed: 21000}
	}
	return hash, nil
}
