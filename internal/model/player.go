package model

import "github.com/shopspring/decimal"

// Asset 账本资产
type Asset string

const (
	AssetToken  Asset = "TOKEN"  // 平台代币
	AssetNative Asset = "NATIVE" // 原生币
)

// Valid 是否为已知资产
func (a Asset) Valid() bool {
	return a == AssetToken || a == AssetNative
}

// PlayerAccount 玩家账本, 待提取余额的唯一来源
type PlayerAccount struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Player        string          `gorm:"column:player;type:varchar(42);uniqueIndex;not null" json:"player"`
	PendingToken  decimal.Decimal `gorm:"column:pending_token;type:numeric(78,0);not null;default:0" json:"pending_token"`
	PendingNative decimal.Decimal `gorm:"column:pending_native;type:numeric(78,0);not null;default:0" json:"pending_native"`
	TotalWinnings decimal.Decimal `gorm:"column:total_winnings;type:numeric(78,0);not null;default:0" json:"total_winnings"`
	EntryCount    int64           `gorm:"column:entry_count;type:bigint;not null;default:0" json:"entry_count"`
	Points        int64           `gorm:"column:points;type:bigint;not null;default:0" json:"points"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PlayerAccount) TableName() string {
	return "lottery_player_accounts"
}

// Pending 返回指定资产的待提取余额
func (a *PlayerAccount) Pending(asset Asset) decimal.Decimal {
	if asset == AssetNative {
		return a.PendingNative
	}
	return a.PendingToken
}

// WithdrawalStatus 提现状态
type WithdrawalStatus int8

const (
	WithdrawalStatusPending   WithdrawalStatus = 0 // 已扣减账本, 待转账
	WithdrawalStatusCompleted WithdrawalStatus = 1 // 转账已发出
	WithdrawalStatusReverted  WithdrawalStatus = 2 // 转账失败, 已恢复账本
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalStatusPending:
		return "PENDING"
	case WithdrawalStatusCompleted:
		return "COMPLETED"
	case WithdrawalStatusReverted:
		return "REVERTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusReverted
}

// Withdrawal 玩家提现记录
type Withdrawal struct {
	ID           int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawID   string           `gorm:"column:withdraw_id;type:varchar(64);uniqueIndex;not null" json:"withdraw_id"`
	Player       string           `gorm:"column:player;type:varchar(42);index;not null" json:"player"`
	Asset        Asset            `gorm:"column:asset;type:varchar(16);not null" json:"asset"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	TxHash       string           `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	Status       WithdrawalStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	ErrorMessage string           `gorm:"column:error_message;type:varchar(500)" json:"error_message"`
	CreatedAt    int64            `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt    int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Withdrawal) TableName() string {
	return "lottery_withdrawals"
}

// NativeDeposit 已认领的原生币入金交易, 每笔交易只能被使用一次
type NativeDeposit struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash      string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	Player      string          `gorm:"column:player;type:varchar(42);index;not null" json:"player"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	BlockNumber uint64          `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	Purpose     string          `gorm:"column:purpose;type:varchar(32);not null" json:"purpose"`
	CreatedAt   int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (NativeDeposit) TableName() string {
	return "lottery_native_deposits"
}
