// Package swap 将原生币兑换为固定数量的平台代币
package swap

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Router 兑换路由
type Router interface {
	Address() common.Address
	QuoteExactOutputSingle(ctx context.Context, from common.Address, params contract.ExactOutputSingleParams) (*big.Int, error)
	PackSwapAndRefund(params contract.ExactOutputSingleParams) ([]byte, error)
}

// Token 平台代币余额
type Token interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Sender 交易发送
type Sender interface {
	From() common.Address
	Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error)
}

// Config 兑换配置
type Config struct {
	WrappedNative common.Address
	PlatformToken common.Address
	PoolFee       uint32
	Deadline      time.Duration
}

// Result 兑换结果
type Result struct {
	NativeUsed    *big.Int `json:"native_used"`
	TokenReceived *big.Int `json:"token_received"`
	TxHash        string   `json:"tx_hash"`
}

// Executor 精确输出兑换执行器
// 兑换串行执行, 以余额差校验实际到账
type Executor struct {
	router Router
	token  Token
	sender Sender
	cfg    Config
	now    func() time.Time

	mu sync.Mutex
}

// NewExecutor 创建兑换执行器
func NewExecutor(router Router, token Token, sender Sender, cfg Config) *Executor {
	if cfg.Deadline == 0 {
		cfg.Deadline = 5 * time.Minute
	}
	return &Executor{
		router: router,
		token:  token,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SwapNativeForFixedToken 用至多 maxNativeIn 原生币换取恰好 target 平台代币
// 未用完的原生币由路由退回; 任何一步失败返回 ErrSwapFailed
func (e *Executor) SwapNativeForFixedToken(ctx context.Context, target, maxNativeIn *big.Int) (*Result, error) {
	if target == nil || target.Sign() <= 0 || maxNativeIn == nil || maxNativeIn.Sign() <= 0 {
		return nil, errors.ErrInvalidRequest.WithMessage("兑换金额必须为正")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	result, err := e.swap(ctx, target, maxNativeIn)
	if err != nil {
		metrics.RecordSwap("failed", time.Since(start))
		logger.Warn("swap failed",
			logger.BigInt("target", target),
			logger.BigInt("max_native_in", maxNativeIn),
			zap.Error(err))
		return nil, err
	}

	metrics.RecordSwap("success", time.Since(start))
	logger.Info("swap executed",
		logger.BigInt("native_used", result.NativeUsed),
		logger.BigInt("token_received", result.TokenReceived),
		zap.String("tx_hash", result.TxHash))
	return result, nil
}

func (e *Executor) swap(ctx context.Context, target, maxNativeIn *big.Int) (*Result, error) {
	self := e.sender.From()
	params := contract.ExactOutputSingleParams{
		TokenIn:           e.cfg.WrappedNative,
		TokenOut:          e.cfg.PlatformToken,
		Fee:               big.NewInt(int64(e.cfg.PoolFee)),
		Recipient:         self,
		Deadline:          big.NewInt(e.now().Add(e.cfg.Deadline).Unix()),
		AmountOut:         new(big.Int).Set(target),
		AmountInMaximum:   new(big.Int).Set(maxNativeIn),
		SqrtPriceLimitX96: new(big.Int),
	}

	nativeIn, err := e.router.QuoteExactOutputSingle(ctx, self, params)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSwapFailed, err, "模拟兑换失败")
	}
	if nativeIn.Cmp(maxNativeIn) > 0 {
		return nil, errors.ErrSwapFailed.WithMessagef("兑换所需 %s 超过上限 %s", nativeIn, maxNativeIn)
	}

	before, err := e.token.BalanceOf(ctx, self)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSwapFailed, err, "读取兑换前余额失败")
	}

	data, err := e.router.PackSwapAndRefund(params)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSwapFailed, err)
	}
	receipt, err := e.sender.Transact(ctx, e.router.Address(), data, maxNativeIn)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSwapFailed, err, "兑换交易失败")
	}

	after, err := e.token.BalanceOf(ctx, self)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSwapFailed, err, "读取兑换后余额失败")
	}
	received := new(big.Int).Sub(after, before)
	if received.Cmp(target) < 0 {
		return nil, errors.ErrSwapFailed.WithMessagef("实际到账 %s 少于目标 %s", received, target)
	}

	return &Result{
		NativeUsed:    nativeIn,
		TokenReceived: received,
		TxHash:        receipt.TxHash.Hex(),
	}, nil
}
