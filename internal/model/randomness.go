package model

// RandomnessKind 随机数用途
type RandomnessKind int8

const (
	RandomnessKindLottery  RandomnessKind = 0
	RandomnessKindCoinflip RandomnessKind = 1
)

func (k RandomnessKind) String() string {
	switch k {
	case RandomnessKindLottery:
		return "LOTTERY"
	case RandomnessKindCoinflip:
		return "COINFLIP"
	default:
		return "UNKNOWN"
	}
}

// RandomnessRequest 随机数请求
type RandomnessRequest struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID   string         `gorm:"column:request_id;type:varchar(80);uniqueIndex;not null" json:"request_id"`
	Kind        RandomnessKind `gorm:"column:kind;type:smallint;not null;default:0" json:"kind"`
	RoundID     uint64         `gorm:"column:round_id;type:bigint;index" json:"round_id"`
	GameID      string         `gorm:"column:game_id;type:varchar(64);index" json:"game_id"`
	Exists      bool           `gorm:"column:registered;not null;default:false" json:"exists"`
	Fulfilled   bool           `gorm:"column:fulfilled;not null;default:false" json:"fulfilled"`
	RandomWords BigIntList     `gorm:"column:random_words;type:text" json:"random_words"`
	NumWords    uint32         `gorm:"column:num_words;type:int;not null" json:"num_words"`
	TxHash      string         `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	RequestedAt int64          `gorm:"column:requested_at;type:bigint;not null" json:"requested_at"`
	FulfilledAt int64          `gorm:"column:fulfilled_at;type:bigint" json:"fulfilled_at"`
}

// TableName 返回表名
func (RandomnessRequest) TableName() string {
	return "lottery_randomness_requests"
}

// RandomnessFulfilled 随机数回调事件 (从 Kafka 消费)
type RandomnessFulfilled struct {
	RequestID   string   `json:"request_id"`
	RandomWords []string `json:"random_words"`
	TxHash      string   `json:"tx_hash"`
	BlockNumber int64    `json:"block_number"`
}
