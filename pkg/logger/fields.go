package logger

import (
	"math/big"

	"go.uber.org/zap"
)

// RoundID 轮次字段
func RoundID(id uint64) zap.Field {
	return zap.Uint64("round_id", id)
}

// Player 玩家地址字段
func Player(addr string) zap.Field {
	return zap.String("player", addr)
}

// ChainID 链 ID 字段
func ChainID(id uint64) zap.Field {
	return zap.Uint64("chain_id", id)
}

// BigInt 大整数字段, nil 输出为 "0"
func BigInt(key string, v *big.Int) zap.Field {
	if v == nil {
		return zap.String(key, "0")
	}
	return zap.String(key, v.String())
}
