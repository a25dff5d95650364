// Package hedera reaches the life-cycle-cash-flow and asset token contracts
// through the Hedera JSON-RPC relay.
package hedera

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hashgraph/mass-payout/internal/metrics"
	"github.com/hashgraph/mass-payout/pkg/config"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

// ErrTransactionReverted is returned when a mined transaction has a failed status.
var ErrTransactionReverted = errors.New("transaction reverted")

const defaultReceiptPollInterval = 2 * time.Second

// Backend is the part of the JSON-RPC relay the contract ports use.
// *ethclient.Client implements it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client signs and sends contract calls with the operator key.
type Client struct {
	config      *config.HederaConfig
	backend     Backend
	closer      func()
	privateKey  *ecdsa.PrivateKey
	address     common.Address
	maxGasPrice *big.Int
	clock       clockwork.Clock
	pollEvery   time.Duration
	logger      *zap.Logger

	// txMu serializes nonce allocation and sending
	txMu       sync.Mutex
	nextNonce  uint64
	nonceKnown bool
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used while waiting for receipts.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithReceiptPollInterval overrides how often receipts are polled.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollEvery = d }
}

// Dial connects to the JSON-RPC relay.
func Dial(cfg *config.HederaConfig, privateKey *ecdsa.PrivateKey, logger *zap.Logger, opts ...Option) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Hedera JSON-RPC relay: %w", err)
	}
	c, err := NewClient(cfg, eth, privateKey, logger, opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close

	logger.Info("Connected to Hedera",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("operator_address", c.address.Hex()))
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(cfg *config.HederaConfig, backend Backend, privateKey *ecdsa.PrivateKey, logger *zap.Logger, opts ...Option) (*Client, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("operator private key is required")
	}

	c := &Client{
		config:     cfg,
		backend:    backend,
		closer:     func() {},
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		clock:      clockwork.NewRealClock(),
		pollEvery:  defaultReceiptPollInterval,
		logger:     logger,
	}
	if cfg.MaxGasPrice != "" {
		maxGasPrice, ok := new(big.Int).SetString(cfg.MaxGasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid max gas price %q", cfg.MaxGasPrice)
		}
		c.maxGasPrice = maxGasPrice
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.closer()
}

// Address is the operator's EVM address.
func (c *Client) Address() common.Address {
	return c.address
}

// GetTransactor returns a transaction signer
func (c *Client) GetTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	chainID := big.NewInt(c.config.ChainID)

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = c.config.GasLimit

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	if c.maxGasPrice != nil && gasPrice.Cmp(c.maxGasPrice) > 0 {
		c.logger.Warn("Suggested gas price exceeds maximum",
			zap.String("suggested", gasPrice.String()),
			zap.String("max", c.maxGasPrice.String()))
		gasPrice = c.maxGasPrice
	}
	auth.GasPrice = gasPrice

	return auth, nil
}

// call runs a read-only call from the operator account against the latest state.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.address,
		To:   &to,
		Data: data,
	}, nil)
}

// transact signs and sends data to the contract and waits for the receipt.
// Once sent, the transaction is followed even if ctx is cancelled. When no
// receipt arrives in time the error is a *payout.PendingTransactionError.
func (c *Client) transact(ctx context.Context, method string, to common.Address, data []byte) (*types.Receipt, error) {
	start := c.clock.Now()
	defer func() {
		metrics.OnChainCallDuration.WithLabelValues(method).Observe(c.clock.Since(start).Seconds())
	}()

	signed, err := c.send(ctx, method, to, data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Transaction sent",
		zap.String("method", method),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", signed.Nonce()))

	receipt, err := c.waitReceipt(context.WithoutCancel(ctx), signed.Hash())
	if err != nil {
		c.logger.Warn("Transaction receipt not available",
			zap.String("method", method),
			zap.String("tx_hash", signed.Hash().Hex()),
			zap.Error(err))
		return nil, &payout.PendingTransactionError{Method: method, TxHash: signed.Hash().Hex(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s (%s)", ErrTransactionReverted, method, signed.Hash().Hex())
	}
	return receipt, nil
}

// send allocates the next operator nonce, signs and sends one transaction.
// The relay's pending nonce can lag behind transactions it just accepted, so
// the highest nonce handed out locally wins.
func (c *Client) send(ctx context.Context, method string, to common.Address, data []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, err
	}
	nonce := opts.Nonce.Uint64()
	if c.nonceKnown && c.nextNonce > nonce {
		nonce = c.nextNonce
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      opts.GasLimit,
		GasPrice: opts.GasPrice,
		Data:     data,
	})
	signed, err := opts.Signer(opts.From, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(context.WithoutCancel(ctx), signed); err != nil {
		// resync from the relay on the next send
		c.nonceKnown = false
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	c.nextNonce, c.nonceKnown = nonce+1, true
	return signed, nil
}

// receipt looks up a receipt once. It returns nil when the transaction is not
// mined yet.
func (c *Client) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("Receipt lookup failed, retrying", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.pollEvery):
		}
	}
}
