package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageConfig 自适应滑点参数 (bps)
type SlippageConfig struct {
	Baseline        int64
	Min             int64
	Max             int64
	SuccessStep     int64 // 兑换成功后下调
	FailureStep     int64 // 兑换失败后上调, 大于 SuccessStep
	MinNativeAmount decimal.Decimal
	MaxNativeAmount decimal.Decimal
}

// SlippageController 基于兑换结果的滑点反馈控制
// 成功小步下调至下限, 失败大步上调至上限
type SlippageController struct {
	repo repository.PricingRepository
	cfg  SlippageConfig
	mu   sync.Mutex
}

// NewSlippageController 创建滑点控制器
func NewSlippageController(repo repository.PricingRepository, cfg SlippageConfig) *SlippageController {
	return &SlippageController{repo: repo, cfg: cfg}
}

// State 读取定价状态, 不存在时按基线初始化
func (c *SlippageController) State(ctx context.Context) (*model.PricingState, error) {
	state, err := c.repo.GetState(ctx, model.PricingStateNativeFee)
	if errors.Is(err, repository.ErrPricingStateNotFound) {
		state = &model.PricingState{
			Name:            model.PricingStateNativeFee,
			SlippageBps:     c.cfg.Baseline,
			MinSlippageBps:  c.cfg.Min,
			MaxSlippageBps:  c.cfg.Max,
			MinNativeAmount: c.cfg.MinNativeAmount,
			MaxNativeAmount: c.cfg.MaxNativeAmount,
		}
		if err := c.repo.SaveState(ctx, state); err != nil {
			return nil, err
		}
		return state, nil
	}
	return state, err
}

// RecordSwap 根据兑换结果调整滑点, 返回调整后的值
func (c *SlippageController) RecordSwap(ctx context.Context, success bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.State(ctx)
	if err != nil {
		return 0, err
	}

	before := state.SlippageBps
	state.SlippageBps = NextSlippage(before, success, state.MinSlippageBps, state.MaxSlippageBps, c.cfg.SuccessStep, c.cfg.FailureStep)
	if success {
		state.SuccessCount++
	} else {
		state.FailureCount++
	}
	if err := c.repo.SaveState(ctx, state); err != nil {
		return 0, err
	}

	metrics.SlippageBpsGauge.Set(float64(state.SlippageBps))
	if before != state.SlippageBps {
		logger.Info("slippage adjusted",
			zap.Bool("swap_success", success),
			zap.Int64("from_bps", before),
			zap.Int64("to_bps", state.SlippageBps))
	}
	return state.SlippageBps, nil
}

// NextSlippage 计算一次反馈后的滑点
func NextSlippage(current int64, success bool, min, max, successStep, failureStep int64) int64 {
	next := current
	if success {
		next -= successStep
		if next < min {
			next = min
		}
	} else {
		next += failureStep
		if next > max {
			next = max
		}
	}
	return next
}

// SetBounds 调整滑点上下限, 当前值截断到新区间
func (c *SlippageController) SetBounds(ctx context.Context, min, max int64) (*model.PricingState, error) {
	if min < 0 || min > max || max > 10000 {
		return nil, fmt.Errorf("invalid slippage bounds [%d, %d]", min, max)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	state.MinSlippageBps = min
	state.MaxSlippageBps = max
	if state.SlippageBps < min {
		state.SlippageBps = min
	}
	if state.SlippageBps > max {
		state.SlippageBps = max
	}
	if err := c.repo.SaveState(ctx, state); err != nil {
		return nil, err
	}
	metrics.SlippageBpsGauge.Set(float64(state.SlippageBps))
	return state, nil
}

// SetFeeLimits 调整原生币支付金额的合理区间
func (c *SlippageController) SetFeeLimits(ctx context.Context, minNative, maxNative decimal.Decimal) (*model.PricingState, error) {
	if minNative.IsNegative() || minNative.GreaterThan(maxNative) {
		return nil, fmt.Errorf("invalid native fee limits [%s, %s]", minNative, maxNative)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	state.MinNativeAmount = minNative
	state.MaxNativeAmount = maxNative
	if err := c.repo.SaveState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}
