package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrNoHealthyEndpoint = errors.New("no healthy rpc endpoint")
	ErrNoSigner          = errors.New("client has no signing key")
)

// endpoint RPC 节点
type endpoint struct {
	url       string
	client    *ethclient.Client
	healthy   bool
	failures  int
	lastError error
}

// Client 以太坊客户端, 支持多节点故障转移
type Client struct {
	mu        sync.RWMutex
	endpoints []*endpoint
	active    int

	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	address    common.Address

	maxRetries    int
	retryInterval time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID       int64
	PrivateKey    string // 十六进制, 可带 0x 前缀; 为空时只读
	RPCURLs       []string
	MaxRetries    int
	RetryInterval time.Duration
}

// NewClient 创建客户端并连接首个可用节点
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("at least one rpc url is required")
	}

	c := &Client{
		chainID:       big.NewInt(cfg.ChainID),
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryInterval <= 0 {
		c.retryInterval = 500 * time.Millisecond
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	for _, url := range cfg.RPCURLs {
		c.endpoints = append(c.endpoints, &endpoint{url: url})
	}

	connected := false
	for i, ep := range c.endpoints {
		if err := c.dial(ctx, ep); err != nil {
			logger.Warn("rpc endpoint unavailable", zap.String("url", ep.url), zap.Error(err))
			continue
		}
		if !connected {
			c.active = i
			connected = true
		}
	}
	if !connected {
		return nil, ErrNoHealthyEndpoint
	}

	logger.Info("blockchain client connected",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc", c.endpoints[c.active].url),
		zap.String("wallet", c.address.Hex()))
	return c, nil
}

func (c *Client) dial(ctx context.Context, ep *endpoint) error {
	client, err := ethclient.DialContext(ctx, ep.url)
	if err != nil {
		ep.healthy = false
		ep.lastError = err
		return err
	}
	ep.client = client
	ep.healthy = true
	ep.failures = 0
	ep.lastError = nil
	return nil
}

func (c *Client) current() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep := c.endpoints[c.active]
	if ep.client == nil || !ep.healthy {
		return nil, ErrNoHealthyEndpoint
	}
	return ep.client, nil
}

// markFailed 记录当前节点失败并切换到下一个健康节点
func (c *Client) markFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep := c.endpoints[c.active]
	ep.failures++
	ep.lastError = err
	if ep.failures < 3 {
		return
	}
	ep.healthy = false

	for step := 1; step < len(c.endpoints); step++ {
		idx := (c.active + step) % len(c.endpoints)
		if c.endpoints[idx].healthy && c.endpoints[idx].client != nil {
			logger.Warn("switching rpc endpoint",
				zap.String("from", ep.url),
				zap.String("to", c.endpoints[idx].url),
				zap.Error(err))
			c.active = idx
			return
		}
	}
}

// call 带重试与故障转移执行 RPC 调用
func (c *Client) call(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		client, err := c.current()
		if err != nil {
			return err
		}
		if lastErr = fn(client); lastErr == nil {
			return nil
		}
		// 合约回滚等确定性错误不重试
		if isPermanent(lastErr) {
			return lastErr
		}
		c.markFailed(lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryInterval * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("rpc call failed after %d attempts: %w", c.maxRetries, lastErr)
}

func isPermanent(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "insufficient funds")
}

// Address 签名钱包地址
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID 链 ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// CanSign 是否配置了签名私钥
func (c *Client) CanSign() bool {
	return c.privateKey != nil
}

// BlockNumber 最新区块高度
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		n, err = ec.BlockNumber(ctx)
		return err
	})
	return n, err
}

// CallContract 只读合约调用
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		out, err = ec.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// BalanceAt 原生币余额
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var bal *big.Int
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		bal, err = ec.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return bal, err
}

// PendingNonceAt 待处理 nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		nonce, err = ec.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 建议 gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		price, err = ec.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas 估算 gas
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		gas, err = ec.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 广播已签名交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, func(ec *ethclient.Client) error {
		return ec.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt 交易回执
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		receipt, err = ec.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// TransactionByHash 查询交易, 返回交易及是否仍在交易池中
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		tx, pending, err = ec.TransactionByHash(ctx, txHash)
		return err
	})
	return tx, pending, err
}

// FilterLogs 查询事件日志
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, func(ec *ethclient.Client) error {
		var err error
		logs, err = ec.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// SignTx 使用配置的私钥签名交易
func (c *Client) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	return types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
}

// HealthCheck 检查全部节点, 重连失败节点
func (c *Client) HealthCheck(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ep := range c.endpoints {
		if ep.client == nil {
			if err := c.dial(ctx, ep); err != nil {
				continue
			}
		}
		chainID, err := ep.client.ChainID(ctx)
		switch {
		case err != nil:
			ep.healthy = false
			ep.lastError = err
		case chainID.Cmp(c.chainID) != 0:
			ep.healthy = false
			ep.lastError = fmt.Errorf("chain id mismatch: expected %s, got %s", c.chainID, chainID)
		default:
			ep.healthy = true
			ep.failures = 0
			ep.lastError = nil
		}
	}

	if !c.endpoints[c.active].healthy {
		for i, ep := range c.endpoints {
			if ep.healthy {
				c.active = i
				break
			}
		}
	}
}

// HealthyEndpoints 健康节点数量
func (c *Client) HealthyEndpoints() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ep := range c.endpoints {
		if ep.healthy {
			n++
		}
	}
	return n
}

// Close 关闭全部连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.healthy = false
	}
}
