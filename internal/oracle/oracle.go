// Package oracle 将流动性池价格与外部喂价封装为带有效性判断的读数
package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/pkg/circuitbreaker"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

const (
	SourcePool = "pool"
	SourceFeed = "feed"
)

var (
	// Scale 1e18 定点精度
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	q192  = new(big.Int).Lsh(big.NewInt(1), 192)
)

// PoolSource 流动性池价格来源
type PoolSource interface {
	SqrtPriceX96(ctx context.Context) (*big.Int, error)
}

// FeedSource 外部喂价来源
type FeedSource interface {
	LatestRoundData(ctx context.Context) (*contract.FeedRound, error)
	Decimals(ctx context.Context) (uint8, error)
}

// Reading 预言机读数
type Reading struct {
	Value        *big.Int  `json:"value"` // 1e18 精度
	Valid        bool      `json:"valid"`
	FallbackUsed bool      `json:"fallback_used"`
	UpdatedAt    time.Time `json:"updated_at"`
	Source       string    `json:"source"`
	Reason       string    `json:"reason,omitempty"`
}

// Usable 读数可用于计价 (有效或已使用兜底价)
func (r Reading) Usable() bool {
	return r.Value != nil && r.Value.Sign() > 0 && (r.Valid || r.FallbackUsed)
}

// Config 预言机配置
type Config struct {
	MinPoolPrice          *big.Int
	MaxPoolPrice          *big.Int
	PlatformTokenIsToken0 bool
	FeedStaleness         time.Duration
	FallbackFeedPrice     *big.Int
}

// Status 预言机健康状态
type Status struct {
	LastPool             Reading `json:"last_pool"`
	LastFeed             Reading `json:"last_feed"`
	ConsecutiveFallbacks int     `json:"consecutive_fallbacks"`
	FeedBreaker          string  `json:"feed_breaker"`
}

// Adapter 价格预言机适配器
type Adapter struct {
	pool    PoolSource
	feed    FeedSource
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time

	mu           sync.RWMutex
	feedDecimals *uint8
	lastPool     Reading
	lastFeed     Reading
	fallbacks    int
}

// NewAdapter 创建预言机适配器
func NewAdapter(pool PoolSource, feed FeedSource, cfg Config) *Adapter {
	breaker := circuitbreaker.New("price_feed", circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		logger.Warn("circuit breaker state changed",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})
	return &Adapter{
		pool:    pool,
		feed:    feed,
		cfg:     cfg,
		breaker: breaker,
		now:     time.Now,
	}
}

// PoolPrice 池价格: 每单位原生币对应的平台代币 (1e18 精度)
// 原始值为 0 或超出配置区间时读数无效, 不使用兜底价
func (a *Adapter) PoolPrice(ctx context.Context) Reading {
	reading := a.readPool(ctx)
	a.mu.Lock()
	a.lastPool = reading
	a.mu.Unlock()

	if reading.Valid {
		metrics.OracleReadingsTotal.WithLabelValues(SourcePool, "valid").Inc()
	} else {
		metrics.OracleReadingsTotal.WithLabelValues(SourcePool, "invalid").Inc()
		logger.Warn("pool price rejected", zap.String("reason", reading.Reason))
	}
	return reading
}

func (a *Adapter) readPool(ctx context.Context) Reading {
	r := Reading{Source: SourcePool, UpdatedAt: a.now(), Value: new(big.Int)}

	sqrtP, err := a.pool.SqrtPriceX96(ctx)
	if err != nil {
		r.Reason = err.Error()
		return r
	}
	if sqrtP == nil || sqrtP.Sign() == 0 {
		r.Reason = "zero sqrt price"
		return r
	}

	r.Value = PriceFromSqrtX96(sqrtP, a.cfg.PlatformTokenIsToken0)
	if r.Value.Sign() == 0 {
		r.Reason = "price underflow"
		return r
	}
	if a.cfg.MinPoolPrice != nil && r.Value.Cmp(a.cfg.MinPoolPrice) < 0 {
		r.Reason = "below sane band"
		return r
	}
	if a.cfg.MaxPoolPrice != nil && r.Value.Cmp(a.cfg.MaxPoolPrice) > 0 {
		r.Reason = "above sane band"
		return r
	}
	r.Valid = true
	return r
}

// PriceFromSqrtX96 由 sqrtPriceX96 计算 1e18 精度价格
// 池价格为 token1/token0; 平台代币为 token0 时取倒数, 结果始终为 平台代币/原生币
func PriceFromSqrtX96(sqrtP *big.Int, platformIsToken0 bool) *big.Int {
	squared := new(big.Int).Mul(sqrtP, sqrtP)
	if platformIsToken0 {
		num := new(big.Int).Mul(q192, Scale)
		return num.Quo(num, squared)
	}
	v := new(big.Int).Mul(squared, Scale)
	return v.Rsh(v, 192)
}

// FeedPrice 外部喂价: 每单位原生币的法币价格 (1e18 精度)
// 读数过期、非正或调用失败时返回兜底价, FallbackUsed 标识走了兜底路径
func (a *Adapter) FeedPrice(ctx context.Context) Reading {
	reading := a.readFeed(ctx)

	a.mu.Lock()
	a.lastFeed = reading
	if reading.FallbackUsed {
		a.fallbacks++
	} else {
		a.fallbacks = 0
	}
	a.mu.Unlock()
	return reading
}

func (a *Adapter) readFeed(ctx context.Context) Reading {
	now := a.now()

	if err := a.breaker.Allow(); err != nil {
		return a.fallback(now, err.Error())
	}

	round, err := a.feed.LatestRoundData(ctx)
	if err != nil {
		a.breaker.Failure()
		return a.fallback(now, err.Error())
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		a.breaker.Failure()
		return a.fallback(now, "non-positive answer")
	}
	if a.cfg.FeedStaleness > 0 && now.Sub(round.UpdatedAt) > a.cfg.FeedStaleness {
		a.breaker.Failure()
		return a.fallback(now, "stale answer")
	}

	decimals, err := a.decimals(ctx)
	if err != nil {
		a.breaker.Failure()
		return a.fallback(now, err.Error())
	}
	a.breaker.Success()

	metrics.OracleReadingsTotal.WithLabelValues(SourceFeed, "valid").Inc()
	return Reading{
		Value:     scaleTo18(round.Answer, decimals),
		Valid:     true,
		UpdatedAt: round.UpdatedAt,
		Source:    SourceFeed,
	}
}

func (a *Adapter) fallback(now time.Time, reason string) Reading {
	metrics.OracleReadingsTotal.WithLabelValues(SourceFeed, "fallback").Inc()
	logger.Warn("price feed rejected, using fallback", zap.String("reason", reason))

	value := new(big.Int)
	if a.cfg.FallbackFeedPrice != nil {
		value.Set(a.cfg.FallbackFeedPrice)
	}
	return Reading{
		Value:        value,
		FallbackUsed: true,
		UpdatedAt:    now,
		Source:       SourceFeed,
		Reason:       reason,
	}
}

func (a *Adapter) decimals(ctx context.Context) (uint8, error) {
	a.mu.RLock()
	cached := a.feedDecimals
	a.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	d, err := a.feed.Decimals(ctx)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.feedDecimals = &d
	a.mu.Unlock()
	return d, nil
}

func scaleTo18(v *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case decimals < 18:
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil))
	case decimals > 18:
		return out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil))
	}
	return out
}

// Status 最近一次读数与熔断状态
func (a *Adapter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		LastPool:             a.lastPool,
		LastFeed:             a.lastFeed,
		ConsecutiveFallbacks: a.fallbacks,
		FeedBreaker:          a.breaker.State().String(),
	}
}
