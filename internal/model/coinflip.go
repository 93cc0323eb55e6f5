package model

import "github.com/shopspring/decimal"

// GameStatus 猜硬币对局状态
type GameStatus int8

const (
	GameStatusActive              GameStatus = 0 // 等待对手
	GameStatusRandomnessRequested GameStatus = 1 // 对手已加入, 等待随机数
	GameStatusResolved            GameStatus = 2 // 已开奖
	GameStatusCancelled           GameStatus = 3 // 创建者取消
)

func (s GameStatus) String() string {
	switch s {
	case GameStatusActive:
		return "ACTIVE"
	case GameStatusRandomnessRequested:
		return "RANDOMNESS_REQUESTED"
	case GameStatusResolved:
		return "RESOLVED"
	case GameStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s GameStatus) IsTerminal() bool {
	return s == GameStatusResolved || s == GameStatusCancelled
}

// CoinSide 硬币面
type CoinSide int8

const (
	CoinSideHeads CoinSide = 0
	CoinSideTails CoinSide = 1
)

func (s CoinSide) String() string {
	if s == CoinSideTails {
		return "TAILS"
	}
	return "HEADS"
}

// Opposite 另一面
func (s CoinSide) Opposite() CoinSide {
	if s == CoinSideHeads {
		return CoinSideTails
	}
	return CoinSideHeads
}

// CoinflipGame 猜硬币对局
type CoinflipGame struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	GameID              string          `gorm:"column:game_id;type:varchar(64);uniqueIndex;not null" json:"game_id"`
	Creator             string          `gorm:"column:creator;type:varchar(42);index;not null" json:"creator"`
	Joiner              string          `gorm:"column:joiner;type:varchar(42)" json:"joiner"`
	Stake               decimal.Decimal `gorm:"column:stake;type:numeric(78,0);not null" json:"stake"`
	CreatorSide         CoinSide        `gorm:"column:creator_side;type:smallint;not null" json:"creator_side"`
	Status              GameStatus      `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	Winner              string          `gorm:"column:winner;type:varchar(42)" json:"winner"`
	Payout              decimal.Decimal `gorm:"column:payout;type:numeric(78,0);not null;default:0" json:"payout"`
	RandomnessRequestID string          `gorm:"column:randomness_request_id;type:varchar(80)" json:"randomness_request_id"`
	FeeAsset            string          `gorm:"column:fee_asset;type:varchar(20)" json:"fee_asset"`
	FeePaid             decimal.Decimal `gorm:"column:fee_paid;type:numeric(78,0);not null;default:0" json:"fee_paid"`
	CreatedAt           int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	JoinedAt            int64           `gorm:"column:joined_at;type:bigint" json:"joined_at"`
	ResolvedAt          int64           `gorm:"column:resolved_at;type:bigint" json:"resolved_at"`
	UpdatedAt           int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (CoinflipGame) TableName() string {
	return "lottery_coinflip_games"
}
