package pricing

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const rateKeyPrefix = "eidos:lottery:rate:"

// PoolState 流动性池快照
type PoolState struct {
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
}

// PoolReader 按地址读取流动性池
type PoolReader interface {
	ReadPool(ctx context.Context, poolAddress string) (*PoolState, error)
}

// ContractPoolReader 通过链上调用读取流动性池
type ContractPoolReader struct {
	caller contract.Caller

	mu    sync.Mutex
	pools map[string]*contract.PoolContract
}

// NewContractPoolReader 创建链上池读取器
func NewContractPoolReader(caller contract.Caller) *ContractPoolReader {
	return &ContractPoolReader{caller: caller, pools: make(map[string]*contract.PoolContract)}
}

// ReadPool 读取 slot0 与流动性
func (r *ContractPoolReader) ReadPool(ctx context.Context, poolAddress string) (*PoolState, error) {
	pool, err := r.pool(poolAddress)
	if err != nil {
		return nil, err
	}
	sqrtP, err := pool.SqrtPriceX96(ctx)
	if err != nil {
		return nil, err
	}
	liquidity, err := pool.Liquidity(ctx)
	if err != nil {
		return nil, err
	}
	return &PoolState{SqrtPriceX96: sqrtP, Liquidity: liquidity}, nil
}

func (r *ContractPoolReader) pool(address string) (*contract.PoolContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[address]; ok {
		return p, nil
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid pool address %q", address)
	}
	p, err := contract.NewPoolContract(common.HexToAddress(address), r.caller)
	if err != nil {
		return nil, err
	}
	r.pools[address] = p
	return p, nil
}

// AssetRate 替代资产汇率
type AssetRate struct {
	Symbol    string   `json:"symbol"`
	Decimals  uint8    `json:"decimals"`
	Rate      *big.Int `json:"rate"` // 每 1 原生币对应的资产最小单位
	Clamped   bool     `json:"clamped"`
	Stale     bool     `json:"stale"` // 池不可用, 沿用上次有效价格
	UpdatedAt int64    `json:"updated_at"`
}

// AssetRates 替代支付资产汇率服务
// 先查 Redis 缓存, 过期后从池刷新; 单次变化超过 max_change_bps 时截断
type AssetRates struct {
	repo     repository.PricingRepository
	pools    PoolReader
	rdb      redis.Cmdable
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAssetRates 创建替代资产汇率服务
func NewAssetRates(repo repository.PricingRepository, pools PoolReader, rdb redis.Cmdable, cacheTTL time.Duration) *AssetRates {
	return &AssetRates{
		repo:     repo,
		pools:    pools,
		rdb:      rdb,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Rate 返回资产汇率, 缓存优先
func (s *AssetRates) Rate(ctx context.Context, symbol string) (*big.Int, error) {
	if cached, ok := s.cached(ctx, symbol); ok {
		return cached, nil
	}

	asset, err := s.enabledAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !asset.IsStale(s.now().UnixMilli()) {
		rate := asset.CachedRate.BigInt()
		s.store(ctx, symbol, rate)
		return rate, nil
	}

	r, err := s.refresh(ctx, asset)
	if err != nil {
		return nil, err
	}
	return r.Rate, nil
}

// QuoteAsset 原生币金额折算为资产数量, 向上取整
func (s *AssetRates) QuoteAsset(ctx context.Context, symbol string, nativeAmount *big.Int) (*big.Int, error) {
	rate, err := s.Rate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return ConvertNative(nativeAmount, rate), nil
}

// ConvertNative 原生币金额 * 汇率 / 1e18, 向上取整
func ConvertNative(nativeAmount, rate *big.Int) *big.Int {
	v := new(big.Int).Mul(nativeAmount, rate)
	v.Add(v, new(big.Int).Sub(oracle.Scale, big.NewInt(1)))
	return v.Quo(v, oracle.Scale)
}

// Refresh 强制从池刷新单个资产
func (s *AssetRates) Refresh(ctx context.Context, symbol string) (*AssetRate, error) {
	asset, err := s.enabledAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, asset)
}

// RefreshAll 刷新全部启用资产, 单个失败不影响其他资产
func (s *AssetRates) RefreshAll(ctx context.Context) ([]*AssetRate, error) {
	assets, err := s.repo.ListAssets(ctx, true)
	if err != nil {
		return nil, err
	}

	rates := make([]*AssetRate, 0, len(assets))
	var errs []error
	for _, asset := range assets {
		r, err := s.refresh(ctx, asset)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset.Symbol, err))
			continue
		}
		rates = append(rates, r)
	}
	return rates, stderrors.Join(errs...)
}

// List 列出全部已配置资产
func (s *AssetRates) List(ctx context.Context) ([]*model.PaymentAsset, error) {
	return s.repo.ListAssets(ctx, false)
}

// Asset 已启用的资产配置
func (s *AssetRates) Asset(ctx context.Context, symbol string) (*model.PaymentAsset, error) {
	return s.enabledAsset(ctx, symbol)
}

func (s *AssetRates) enabledAsset(ctx context.Context, symbol string) (*model.PaymentAsset, error) {
	asset, err := s.repo.GetAsset(ctx, symbol)
	if stderrors.Is(err, repository.ErrPaymentAssetNotFound) {
		return nil, errors.ErrAssetNotSupported.WithDetail("symbol", symbol)
	}
	if err != nil {
		return nil, err
	}
	if !asset.Enabled {
		return nil, errors.ErrAssetNotSupported.WithDetail("symbol", symbol)
	}
	return asset, nil
}

func (s *AssetRates) refresh(ctx context.Context, asset *model.PaymentAsset) (*AssetRate, error) {
	last := asset.LastValidPrice.BigInt()
	nowMs := s.now().UnixMilli()

	state, err := s.pools.ReadPool(ctx, asset.PoolAddress)
	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case state.SqrtPriceX96 == nil || state.SqrtPriceX96.Sign() == 0:
		reason = "zero sqrt price"
	case state.Liquidity == nil || state.Liquidity.Cmp(asset.MinLiquidity.BigInt()) < 0:
		reason = "insufficient liquidity"
	}

	if reason != "" {
		// 池不可用时沿用上次有效价格
		if last.Sign() == 0 {
			return nil, errors.ErrPriceUnavailable.WithMessagef("资产 %s 无可用价格: %s", asset.Symbol, reason)
		}
		logger.Warn("asset pool unusable, keeping last valid price",
			zap.String("symbol", asset.Symbol),
			zap.String("reason", reason))
		s.store(ctx, asset.Symbol, last)
		return &AssetRate{
			Symbol:    asset.Symbol,
			Decimals:  asset.Decimals,
			Rate:      last,
			Stale:     true,
			UpdatedAt: asset.LastUpdate,
		}, nil
	}

	// 资产为 token0 时取倒数, 结果为 资产/原生币
	rate := oracle.PriceFromSqrtX96(state.SqrtPriceX96, asset.TokenIsToken0)
	clamped := false
	if last.Sign() > 0 {
		rate, clamped = ClampChange(rate, last, asset.MaxChangeBps)
		if clamped {
			metrics.AssetRateClampedTotal.WithLabelValues(asset.Symbol).Inc()
			logger.Warn("asset rate change clamped",
				zap.String("symbol", asset.Symbol),
				logger.BigInt("last", last),
				logger.BigInt("clamped_to", rate))
		}
	}
	if rate.Sign() == 0 {
		return nil, errors.ErrPriceUnavailable.WithMessagef("资产 %s 价格下溢", asset.Symbol)
	}

	asset.CachedRate = decimal.NewFromBigInt(rate, 0)
	asset.LastValidPrice = asset.CachedRate
	asset.LastUpdate = nowMs
	if err := s.repo.SaveAsset(ctx, asset); err != nil {
		return nil, err
	}
	s.store(ctx, asset.Symbol, rate)

	return &AssetRate{
		Symbol:    asset.Symbol,
		Decimals:  asset.Decimals,
		Rate:      rate,
		Clamped:   clamped,
		UpdatedAt: nowMs,
	}, nil
}

// ClampChange 将新价格限制在上次有效价格的 ±maxChangeBps 内
func ClampChange(next, last *big.Int, maxChangeBps int64) (*big.Int, bool) {
	if maxChangeBps <= 0 || last.Sign() == 0 {
		return next, false
	}
	denom := big.NewInt(bpsDenominator)
	lower := new(big.Int).Mul(last, big.NewInt(bpsDenominator-maxChangeBps))
	lower.Quo(lower, denom)
	upper := new(big.Int).Mul(last, big.NewInt(bpsDenominator+maxChangeBps))
	upper.Quo(upper, denom)

	switch {
	case next.Cmp(lower) < 0:
		return lower, true
	case next.Cmp(upper) > 0:
		return upper, true
	}
	return next, false
}

func (s *AssetRates) cached(ctx context.Context, symbol string) (*big.Int, bool) {
	if s.rdb == nil {
		return nil, false
	}
	val, err := s.rdb.Get(ctx, rateKeyPrefix+symbol).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("rate cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return nil, false
	}
	rate, ok := new(big.Int).SetString(val, 10)
	if !ok || rate.Sign() <= 0 {
		return nil, false
	}
	return rate, true
}

func (s *AssetRates) store(ctx context.Context, symbol string, rate *big.Int) {
	if s.rdb == nil || s.cacheTTL <= 0 {
		return
	}
	if err := s.rdb.Set(ctx, rateKeyPrefix+symbol, rate.String(), s.cacheTTL).Err(); err != nil {
		logger.Warn("rate cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
}
