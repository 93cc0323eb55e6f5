package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	ErrTxReverted     = errors.New("transaction reverted")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// TxBackend 发送交易所需的链操作
type TxBackend interface {
	Address() common.Address
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Nonces nonce 分配
type Nonces interface {
	Acquire(ctx context.Context) (uint64, error)
	Confirm(nonce uint64)
	Release(ctx context.Context, nonce uint64) error
	Sync(ctx context.Context) error
}

// Transactor 签名、广播并等待交易上链
type Transactor struct {
	backend        TxBackend
	nonces         Nonces
	gasBufferPct   uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

// TransactorConfig 配置
type TransactorConfig struct {
	GasBufferPct   uint64 // gas 估算上浮百分比
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// NewTransactor 创建交易发送器
func NewTransactor(backend TxBackend, nonces Nonces, cfg *TransactorConfig) *Transactor {
	t := &Transactor{
		backend:        backend,
		nonces:         nonces,
		gasBufferPct:   cfg.GasBufferPct,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if t.gasBufferPct == 0 {
		t.gasBufferPct = 20
	}
	if t.receiptTimeout == 0 {
		t.receiptTimeout = 2 * time.Minute
	}
	if t.pollInterval == 0 {
		t.pollInterval = 2 * time.Second
	}
	return t
}

// From 发送地址
func (t *Transactor) From() common.Address {
	return t.backend.Address()
}

// Transact 发送交易并等待回执, 回执状态失败时返回 ErrTxReverted
func (t *Transactor) Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := t.backend.Address()

	gasLimit, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit = gasLimit * (100 + t.gasBufferPct) / 100

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	nonce, err := t.nonces.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := t.backend.SignTx(tx)
	if err != nil {
		t.release(ctx, nonce)
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		t.release(ctx, nonce)
		if strings.Contains(err.Error(), "nonce too low") {
			if syncErr := t.nonces.Sync(ctx); syncErr != nil {
				logger.Warn("nonce resync failed", zap.Error(syncErr))
			}
		}
		return nil, fmt.Errorf("send tx: %w", err)
	}
	t.nonces.Confirm(nonce)

	logger.Debug("transaction sent",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce))

	receipt, err := t.WaitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

// WaitReceipt 轮询等待交易回执
func (t *Transactor) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.Debug("receipt query failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (t *Transactor) release(ctx context.Context, nonce uint64) {
	if err := t.nonces.Release(ctx, nonce); err != nil {
		logger.Warn("release nonce failed", zap.Uint64("nonce", nonce), zap.Error(err))
	}
}
