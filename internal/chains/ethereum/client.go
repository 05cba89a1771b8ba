// internal/chains/ethereum/client.go
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type Config struct {
	RPCURL       string
	ChainID      *big.Int // optional; verified against the node when set
	Timeout      time.Duration
	ReadRetries  int
	RetryBackoff time.Duration
}

// Client talks JSON-RPC to an EVM node. Reads are retried while the node is
// unavailable; raw broadcasts are attempted exactly once per call.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	chainID *big.Int
	signer  types.Signer
	config  Config
	logger  *zap.Logger
}

var _ domain.ChainClient = (*Client)(nil)

func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReadRetries < 1 {
		cfg.ReadRetries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain rpc: %w", err)
	}
	c := &Client{
		rpc:    rc,
		eth:    ethclient.NewClient(rc),
		config: cfg,
		logger: logger,
	}

	var chainID *big.Int
	err = c.read(ctx, "chain_id", func(ctx context.Context) error {
		var err error
		chainID, err = c.eth.ChainID(ctx)
		return err
	})
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 && cfg.ChainID.Cmp(chainID) != 0 {
		rc.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %s, node reports %s", cfg.ChainID, chainID)
	}

	c.chainID = chainID
	c.signer = types.LatestSignerForChainID(chainID)

	logger.Info("chain client initialized",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()))

	return c, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.read(ctx, "block_number", func(ctx context.Context) error {
		var err error
		height, err = c.eth.BlockNumber(ctx)
		return err
	})
	return height, err
}

// BlockByNumber returns the block reduced to its value transfers, with senders
// recovered. Contract creations and zero-value calls are skipped.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	var block *types.Block
	err := c.read(ctx, "block_by_number", func(ctx context.Context) error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if errors.Is(err, geth.NotFound) {
			// head moved past a block the node has not served yet
			return fmt.Errorf("%w: block %d not available", domain.ErrChainUnavailable, number)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &domain.Block{
		Number:    block.NumberU64(),
		Hash:      block.Hash().Hex(),
		Timestamp: time.Unix(int64(block.Time()), 0).UTC(),
	}
	for _, tx := range block.Transactions() {
		if tx.To() == nil || tx.Value().Sign() == 0 {
			continue
		}
		sender, err := types.Sender(c.signer, tx)
		if err != nil {
			c.logger.Warn("failed to recover sender",
				zap.String("tx_hash", tx.Hash().Hex()),
				zap.Error(err))
			continue
		}
		out.Transfers = append(out.Transfers, domain.Transfer{
			TxHash:      tx.Hash().Hex(),
			From:        sender.Hex(),
			To:          tx.To().Hex(),
			Value:       new(big.Int).Set(tx.Value()),
			BlockNumber: out.Number,
		})
	}
	return out, nil
}

// TransactionReceipt returns domain.ErrNotFound while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	var receipt *types.Receipt
	err := c.read(ctx, "receipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		return err
	})
	if errors.Is(err, geth.NotFound) {
		return nil, fmt.Errorf("receipt %s: %w", txHash, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:     receipt.GasUsed,
	}, nil
}

func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := c.read(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return balance, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.read(ctx, "gas_price", func(ctx context.Context) error {
		var err error
		price, err = c.eth.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

func (c *Client) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := c.read(ctx, "pending_nonce", func(ctx context.Context) error {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, common.HexToAddress(address))
		return err
	})
	return nonce, err
}

// SendRawTransaction broadcasts signed bytes once. A node that already holds
// the transaction counts as success since the hash is fixed by the bytes.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("%w: decode raw transaction: %v", domain.ErrChainRejected, err)
	}
	hash := tx.Hash().Hex()

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	err := c.rpc.CallContext(callCtx, nil, "eth_sendRawTransaction", hexutil.Encode(raw))
	if err == nil {
		return hash, nil
	}
	if isAlreadyKnown(err) {
		c.logger.Info("transaction already known to node", zap.String("tx_hash", hash))
		return hash, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", classify(err)
}

// read runs fn with a per-attempt timeout and exponential backoff between
// attempts that failed with ErrChainUnavailable.
func (c *Client) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := c.config.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= c.config.ReadRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, geth.NotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = classify(err)
		if !errors.Is(lastErr, domain.ErrChainUnavailable) || attempt == c.config.ReadRetries {
			break
		}

		c.logger.Warn("chain read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// classify maps an RPC failure onto the chain error taxonomy. JSON-RPC error
// replies are permanent; transport failures, timeouts and HTTP errors are not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrChainUnavailable) || errors.Is(err, domain.ErrChainRejected) {
		return err
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Errorf("%w: http %d: %v", domain.ErrChainUnavailable, httpErr.StatusCode, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", domain.ErrChainRejected, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrChainUnavailable, err)
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
