package model

import "github.com/shopspring/decimal"

// RoundStatus 轮次状态
type RoundStatus int8

const (
	RoundStatusActive              RoundStatus = 0 // 接受参与
	RoundStatusFull                RoundStatus = 1 // 人数已满, 待请求随机数
	RoundStatusRandomnessRequested RoundStatus = 2 // 已请求随机数
	RoundStatusWinnersSelected     RoundStatus = 3 // 已选出中奖者
	RoundStatusPrizesDistributed   RoundStatus = 4 // 奖金已记账
	RoundStatusCompleted           RoundStatus = 5 // 已完成
)

func (s RoundStatus) String() string {
	switch s {
	case RoundStatusActive:
		return "ACTIVE"
	case RoundStatusFull:
		return "FULL"
	case RoundStatusRandomnessRequested:
		return "RANDOMNESS_REQUESTED"
	case RoundStatusWinnersSelected:
		return "WINNERS_SELECTED"
	case RoundStatusPrizesDistributed:
		return "PRIZES_DISTRIBUTED"
	case RoundStatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s RoundStatus) IsTerminal() bool {
	return s == RoundStatusCompleted
}

// AcceptsEntries 是否接受参与
func (s RoundStatus) AcceptsEntries() bool {
	return s == RoundStatusActive
}

// PaymentMethod 支付方式
type PaymentMethod int8

const (
	PaymentMethodToken  PaymentMethod = 0 // 平台代币
	PaymentMethodNative PaymentMethod = 1 // 原生币, 经兑换
)

func (m PaymentMethod) String() string {
	switch m {
	case PaymentMethodToken:
		return "TOKEN"
	case PaymentMethodNative:
		return "NATIVE"
	default:
		return "UNKNOWN"
	}
}

// Round 抽奖轮次
type Round struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RoundID             uint64          `gorm:"column:round_id;type:bigint;uniqueIndex;not null" json:"round_id"`
	Status              RoundStatus     `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	Capacity            int             `gorm:"column:capacity;type:int;not null" json:"capacity"`
	PlayerCount         int             `gorm:"column:player_count;type:int;not null;default:0" json:"player_count"`
	TotalPool           decimal.Decimal `gorm:"column:total_pool;type:numeric(78,0);not null;default:0" json:"total_pool"`
	Winners             AddressList     `gorm:"column:winners;type:text" json:"winners"`
	RandomnessRequestID string          `gorm:"column:randomness_request_id;type:varchar(80)" json:"randomness_request_id"`
	BurnAmount          decimal.Decimal `gorm:"column:burn_amount;type:numeric(78,0);not null;default:0" json:"burn_amount"`
	RetainedDust        decimal.Decimal `gorm:"column:retained_dust;type:numeric(78,0);not null;default:0" json:"retained_dust"`
	Mirror              bool            `gorm:"column:mirror;not null;default:false" json:"mirror"` // 卫星链本地镜像
	StartTime           int64           `gorm:"column:start_time;type:bigint;not null" json:"start_time"`
	FullAt              int64           `gorm:"column:full_at;type:bigint" json:"full_at"`
	CompletedAt         int64           `gorm:"column:completed_at;type:bigint" json:"completed_at"`
	CreatedAt           int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt           int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Round) TableName() string {
	return "lottery_rounds"
}

// IsFull 是否达到容量
func (r *Round) IsFull() bool {
	return r.PlayerCount >= r.Capacity
}

// RoundEntry 轮次参与记录
type RoundEntry struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RoundID       uint64          `gorm:"column:round_id;type:bigint;not null;uniqueIndex:uk_round_player,priority:1" json:"round_id"`
	Player        string          `gorm:"column:player;type:varchar(42);not null;uniqueIndex:uk_round_player,priority:2;index" json:"player"`
	Position      int             `gorm:"column:position;type:int;not null" json:"position"`
	SourceChainID uint64          `gorm:"column:source_chain_id;type:bigint;not null" json:"source_chain_id"`
	Method        PaymentMethod   `gorm:"column:method;type:smallint;not null;default:0" json:"method"`
	ViaCrossChain bool            `gorm:"column:via_cross_chain;not null;default:false" json:"via_cross_chain"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Provisional   bool            `gorm:"column:provisional;not null;default:false" json:"provisional"` // 等待主链确认的乐观占位
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (RoundEntry) TableName() string {
	return "lottery_round_entries"
}

// RoundChainStat 按来源链统计的人数与奖池贡献
type RoundChainStat struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RoundID      uint64          `gorm:"column:round_id;type:bigint;not null;uniqueIndex:uk_round_chain,priority:1" json:"round_id"`
	ChainID      uint64          `gorm:"column:chain_id;type:bigint;not null;uniqueIndex:uk_round_chain,priority:2" json:"chain_id"`
	PlayerCount  int             `gorm:"column:player_count;type:int;not null;default:0" json:"player_count"`
	Contribution decimal.Decimal `gorm:"column:contribution;type:numeric(78,0);not null;default:0" json:"contribution"`
	UpdatedAt    int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (RoundChainStat) TableName() string {
	return "lottery_round_chain_stats"
}
