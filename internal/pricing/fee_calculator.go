// Package pricing 计算原生币入场费, 维护自适应滑点与替代支付资产汇率
package pricing

import (
	"context"
	"math/big"

	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

const bpsDenominator = 10000

// PriceOracle 计价所需的预言机读数
type PriceOracle interface {
	PoolPrice(ctx context.Context) oracle.Reading
	FeedPrice(ctx context.Context) oracle.Reading
}

// FeeQuote 原生币入场费报价
type FeeQuote struct {
	EntryFeeToken  *big.Int `json:"entry_fee_token"`
	PoolPrice      *big.Int `json:"pool_price"`
	SlippageBps    int64    `json:"slippage_bps"`
	BufferBps      int64    `json:"buffer_bps"`
	RequiredNative *big.Int `json:"required_native"`
	NativeUSD      *big.Int `json:"native_usd"` // 报价折合法币, 1e18 精度, 仅展示
	FallbackUsed   bool     `json:"fallback_used"`
}

// FeeCalculator 入场费计算器
type FeeCalculator struct {
	oracle    PriceOracle
	slippage  *SlippageController
	entryFee  *big.Int
	bufferBps int64
}

// NewFeeCalculator 创建入场费计算器
func NewFeeCalculator(o PriceOracle, slippage *SlippageController, entryFee *big.Int, bufferBps int64) *FeeCalculator {
	return &FeeCalculator{
		oracle:    o,
		slippage:  slippage,
		entryFee:  new(big.Int).Set(entryFee),
		bufferBps: bufferBps,
	}
}

// EntryFee 平台代币计价的入场费
func (c *FeeCalculator) EntryFee() *big.Int {
	return new(big.Int).Set(c.entryFee)
}

// Quote 以原生币支付时需要的金额
// 池价格无效或结果超出合理区间时返回 ErrPriceUnavailable
func (c *FeeCalculator) Quote(ctx context.Context) (*FeeQuote, error) {
	pool := c.oracle.PoolPrice(ctx)
	if !pool.Valid {
		return nil, errors.ErrPriceUnavailable.WithMessagef("池价格无效: %s", pool.Reason)
	}

	state, err := c.slippage.State(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, err, "读取滑点状态失败")
	}

	required := RequiredNative(c.entryFee, pool.Value, state.SlippageBps, c.bufferBps)
	min := state.MinNativeAmount.BigInt()
	max := state.MaxNativeAmount.BigInt()
	if required.Sign() <= 0 || required.Cmp(min) < 0 || (max.Sign() > 0 && required.Cmp(max) > 0) {
		logger.Warn("native fee outside sane range",
			logger.BigInt("required", required),
			logger.BigInt("min", min),
			logger.BigInt("max", max))
		return nil, errors.ErrPriceUnavailable.WithMessagef("原生币报价超出合理区间: %s", required)
	}

	quote := &FeeQuote{
		EntryFeeToken:  c.EntryFee(),
		PoolPrice:      pool.Value,
		SlippageBps:    state.SlippageBps,
		BufferBps:      c.bufferBps,
		RequiredNative: required,
	}

	feed := c.oracle.FeedPrice(ctx)
	if feed.Usable() {
		usd := new(big.Int).Mul(required, feed.Value)
		quote.NativeUSD = usd.Quo(usd, oracle.Scale)
	}
	quote.FallbackUsed = feed.FallbackUsed

	logger.Debug("native fee quoted",
		logger.BigInt("required", required),
		zap.Int64("slippage_bps", state.SlippageBps),
		zap.Bool("fallback_used", feed.FallbackUsed))
	return quote, nil
}

// RequiredNative 入场费 -> 原生币金额
// base = fee * 1e18 / price; total = base * (1+slippage) * (1+buffer)
func RequiredNative(entryFee, price *big.Int, slippageBps, bufferBps int64) *big.Int {
	if price == nil || price.Sign() <= 0 {
		return new(big.Int)
	}
	denom := big.NewInt(bpsDenominator)

	v := new(big.Int).Mul(entryFee, oracle.Scale)
	v.Quo(v, price)
	v.Mul(v, big.NewInt(bpsDenominator+slippageBps))
	v.Quo(v, denom)
	v.Mul(v, big.NewInt(bpsDenominator+bufferBps))
	return v.Quo(v, denom)
}
