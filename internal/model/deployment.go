package model

import "github.com/shopspring/decimal"

// DeploymentState 部署级状态, 每条链一行
type DeploymentState struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID        uint64 `gorm:"column:chain_id;type:bigint;uniqueIndex;not null" json:"chain_id"`
	CurrentRoundID uint64 `gorm:"column:current_round_id;type:bigint;not null" json:"current_round_id"`
	Paused         bool   `gorm:"column:paused;not null;default:false" json:"paused"`
	CallbackGas    uint32 `gorm:"column:callback_gas;type:int;not null" json:"callback_gas"`
	Confirmations  uint16 `gorm:"column:confirmations;type:int;not null" json:"confirmations"`
	NumWords       uint32 `gorm:"column:num_words;type:int;not null" json:"num_words"`
	UpdatedAt      int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (DeploymentState) TableName() string {
	return "lottery_deployment_state"
}

// PeerChain 远端链部署, 同时作为跨链消息白名单
type PeerChain struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID   uint64 `gorm:"column:chain_id;type:bigint;uniqueIndex;not null" json:"chain_id"`
	Address   string `gorm:"column:address;type:varchar(42);not null" json:"address"`
	Enabled   bool   `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PeerChain) TableName() string {
	return "lottery_peer_chains"
}

// AdminActionStatus 管理操作状态
type AdminActionStatus int8

const (
	AdminActionStatusQueued    AdminActionStatus = 0 // 时间锁中
	AdminActionStatusExecuted  AdminActionStatus = 1
	AdminActionStatusCancelled AdminActionStatus = 2
)

func (s AdminActionStatus) String() string {
	switch s {
	case AdminActionStatusQueued:
		return "QUEUED"
	case AdminActionStatusExecuted:
		return "EXECUTED"
	case AdminActionStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// AdminAction 带时间锁的紧急资金回收
type AdminAction struct {
	ID         int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActionID   string            `gorm:"column:action_id;type:varchar(64);uniqueIndex;not null" json:"action_id"`
	Asset      Asset             `gorm:"column:asset;type:varchar(16);not null" json:"asset"`
	Target     string            `gorm:"column:target;type:varchar(42);not null" json:"target"`
	Amount     decimal.Decimal   `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	ETA        int64             `gorm:"column:eta;type:bigint;not null" json:"eta"`
	Status     AdminActionStatus `gorm:"column:status;type:smallint;not null;default:0" json:"status"`
	ProposedBy string            `gorm:"column:proposed_by;type:varchar(42);not null" json:"proposed_by"`
	TxHash     string            `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	CreatedAt  int64             `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	ExecutedAt int64             `gorm:"column:executed_at;type:bigint" json:"executed_at"`
}

// TableName 返回表名
func (AdminAction) TableName() string {
	return "lottery_admin_actions"
}

// MessageDirection 跨链消息方向
type MessageDirection int8

const (
	MessageDirectionOutbound MessageDirection = 0
	MessageDirectionInbound  MessageDirection = 1
)

// MessageLog 跨链消息记录, 入站消息按 message_id 去重
type MessageLog struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID   string           `gorm:"column:message_id;type:varchar(66);uniqueIndex;not null" json:"message_id"`
	Direction   MessageDirection `gorm:"column:direction;type:smallint;not null" json:"direction"`
	PeerChainID uint64           `gorm:"column:peer_chain_id;type:bigint;index;not null" json:"peer_chain_id"`
	MessageType uint8            `gorm:"column:message_type;type:smallint;not null" json:"message_type"`
	Fee         decimal.Decimal  `gorm:"column:fee;type:numeric(78,0);not null;default:0" json:"fee"`
	Player      string           `gorm:"column:player;type:varchar(42)" json:"player"`
	RoundID     uint64           `gorm:"column:round_id;type:bigint" json:"round_id"`
	CreatedAt   int64            `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (MessageLog) TableName() string {
	return "lottery_message_logs"
}
