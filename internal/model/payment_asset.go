package model

import "github.com/shopspring/decimal"

// PaymentAsset 替代支付资产配置 (以代币支付手续费)
type PaymentAsset struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol            string          `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null" json:"symbol"`
	TokenAddress      string          `gorm:"column:token_address;type:varchar(42);not null" json:"token_address"`
	PoolAddress       string          `gorm:"column:pool_address;type:varchar(42);not null" json:"pool_address"`
	Decimals          uint8           `gorm:"column:decimals;type:smallint;not null" json:"decimals"`
	TokenIsToken0     bool            `gorm:"column:token_is_token0;not null;default:false" json:"token_is_token0"`
	CachedRate        decimal.Decimal `gorm:"column:cached_rate;type:numeric(78,0);not null;default:0" json:"cached_rate"` // 每 1 原生币对应的资产最小单位
	LastUpdate        int64           `gorm:"column:last_update;type:bigint;not null;default:0" json:"last_update"`
	UpdateIntervalSec int             `gorm:"column:update_interval_sec;type:int;not null;default:300" json:"update_interval_sec"`
	MinLiquidity      decimal.Decimal `gorm:"column:min_liquidity;type:numeric(78,0);not null;default:0" json:"min_liquidity"`
	LastValidPrice    decimal.Decimal `gorm:"column:last_valid_price;type:numeric(78,0);not null;default:0" json:"last_valid_price"`
	MaxChangeBps      int64           `gorm:"column:max_change_bps;type:bigint;not null;default:1000" json:"max_change_bps"`
	Enabled           bool            `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt         int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt         int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PaymentAsset) TableName() string {
	return "lottery_payment_assets"
}

// IsStale 缓存汇率是否过期
func (a *PaymentAsset) IsStale(nowMillis int64) bool {
	if a.LastUpdate == 0 || a.CachedRate.IsZero() {
		return true
	}
	return nowMillis-a.LastUpdate >= int64(a.UpdateIntervalSec)*1000
}

// PricingState 原生币入场费的滑点控制状态
type PricingState struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string          `gorm:"column:name;type:varchar(32);uniqueIndex;not null" json:"name"`
	SlippageBps     int64           `gorm:"column:slippage_bps;type:bigint;not null" json:"slippage_bps"`
	MinSlippageBps  int64           `gorm:"column:min_slippage_bps;type:bigint;not null" json:"min_slippage_bps"`
	MaxSlippageBps  int64           `gorm:"column:max_slippage_bps;type:bigint;not null" json:"max_slippage_bps"`
	MinNativeAmount decimal.Decimal `gorm:"column:min_native_amount;type:numeric(78,0);not null" json:"min_native_amount"`
	MaxNativeAmount decimal.Decimal `gorm:"column:max_native_amount;type:numeric(78,0);not null" json:"max_native_amount"`
	SuccessCount    int64           `gorm:"column:success_count;type:bigint;not null;default:0" json:"success_count"`
	FailureCount    int64           `gorm:"column:failure_count;type:bigint;not null;default:0" json:"failure_count"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PricingState) TableName() string {
	return "lottery_pricing_state"
}

// PricingStateNativeFee 原生币入场费定价状态行
const PricingStateNativeFee = "native_entry_fee"
