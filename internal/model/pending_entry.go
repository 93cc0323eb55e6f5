package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingEntry 卫星链等待主链确认的跨链参与, 每个玩家最多一条
type PendingEntry struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Player          string          `gorm:"column:player;type:varchar(42);uniqueIndex;not null" json:"player"`
	RoundID         uint64          `gorm:"column:round_id;type:bigint;index;not null" json:"round_id"`
	EntryFee        decimal.Decimal `gorm:"column:entry_fee;type:numeric(78,0);not null" json:"entry_fee"`
	Method          PaymentMethod   `gorm:"column:method;type:smallint;not null;default:0" json:"method"`
	MessagingFee    decimal.Decimal `gorm:"column:messaging_fee;type:numeric(78,0);not null;default:0" json:"messaging_fee"`     // 实际支付的消息费
	MessagingEscrow decimal.Decimal `gorm:"column:messaging_escrow;type:numeric(78,0);not null;default:0" json:"messaging_escrow"` // 托管的剩余消息预算
	MessageID       string          `gorm:"column:message_id;type:varchar(66)" json:"message_id"`
	Verified        bool            `gorm:"column:verified;not null;default:false" json:"verified"`
	SubmittedAt     int64           `gorm:"column:submitted_at;type:bigint;index;not null" json:"submitted_at"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PendingEntry) TableName() string {
	return "lottery_pending_entries"
}

// IsExpired 是否超过确认窗口
func (p *PendingEntry) IsExpired(now time.Time, window time.Duration) bool {
	return now.UnixMilli()-p.SubmittedAt > window.Milliseconds()
}
