// Package service 提供 eidos-lottery 的业务逻辑服务
//
// ========================================
// 服务对接说明
// ========================================
//
// ## 串行执行
// 所有改变状态的入口 (参与、回调、跨链消息、提取、管理操作) 通过 Serializer
// 串行执行, 同一时刻只有一个状态变更在进行。入口在上下文中打标记, 外部调用
// 期间再次进入任一入口返回 ErrReentrantCall。
//
// ## 消息来源 (Kafka Consumer)
// - Topic: crosschain-<chainID>  跨链消息信封, 由 CrossChainService.HandleEnvelope 处理
// - Topic: randomness-fulfilled  随机数回调, 由 RandomnessService.HandleFulfilled 分发
//
// ## 消息输出 (Kafka Producer)
// - Topic: crosschain-<peerChainID>  ENTRY_REQUEST / ENTRY_RESPONSE / WINNERS_NOTIFICATION / ROUND_SYNC
//
// ## 资金模型
// 奖金、退款一律记入 PlayerLedger 待提取余额, 由玩家主动 Withdraw 拉取。
//
// ========================================
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type inflightKey struct{}

// Serializer 进程内状态变更串行器, 带重入检测
type Serializer struct {
	mu sync.Mutex
}

// NewSerializer 创建串行器
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Do 串行执行 fn; 上下文已处于某个入口内时拒绝执行
func (s *Serializer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if outer, ok := ctx.Value(inflightKey{}).(string); ok {
		logger.Warn("reentrant call rejected",
			zap.String("op", op),
			zap.String("inflight", outer))
		return errors.ErrReentrantCall.WithMessagef("%s 执行期间禁止调用 %s", outer, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, inflightKey{}, op))
}

// InFlight 上下文是否处于串行入口内
func InFlight(ctx context.Context) bool {
	_, ok := ctx.Value(inflightKey{}).(string)
	return ok
}

type commitHooksKey struct{}

// commitHooks 外层事务提交后执行的外部调用 (发送消息、请求随机数)
type commitHooks struct {
	fns []func(ctx context.Context)
}

// withCommitHooks 开启一组提交后调用, 返回的 run 只应在事务提交后调用
func withCommitHooks(ctx context.Context) (context.Context, func(ctx context.Context)) {
	h := &commitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), func(ctx context.Context) {
		for _, fn := range h.fns {
			fn(ctx)
		}
	}
}

// afterCommit 处于 withCommitHooks 范围内时延后到提交后执行, 否则立即执行
func afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		h.fns = append(h.fns, fn)
		return
	}
	fn(ctx)
}

// RateLimiter 玩家操作间隔限制
// 成功操作后写入带过期时间的 Redis 键, 键存在期间拒绝该玩家的新操作
type RateLimiter struct {
	rdb      redis.Cmdable
	interval time.Duration
	prefix   string
}

// NewRateLimiter 创建限流器, interval 为 0 或 rdb 为空时不限流
func NewRateLimiter(rdb redis.Cmdable, interval time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, interval: interval, prefix: "eidos:lottery:action:"}
}

// Check 距上次成功操作不足间隔时返回 ErrRateLimited, 不记录本次操作
func (l *RateLimiter) Check(ctx context.Context, player string) error {
	if l.disabled() {
		return nil
	}
	n, err := l.rdb.Exists(ctx, l.key(player)).Result()
	if err != nil {
		// Redis 不可用时放行, 只记录
		logger.Warn("rate limiter unavailable", logger.Player(player), zap.Error(err))
		return nil
	}
	if n > 0 {
		return errors.ErrRateLimited.WithDetail("player", player)
	}
	return nil
}

// Record 记录一次成功操作, 开始新的间隔
func (l *RateLimiter) Record(ctx context.Context, player string) {
	if l.disabled() {
		return
	}
	if err := l.rdb.Set(ctx, l.key(player), time.Now().UnixMilli(), l.interval).Err(); err != nil {
		logger.Warn("rate limiter record failed", logger.Player(player), zap.Error(err))
	}
}

func (l *RateLimiter) disabled() bool {
	return l == nil || l.rdb == nil || l.interval <= 0
}

func (l *RateLimiter) key(player string) string {
	return l.prefix + strings.ToLower(player)
}

// normalizeAddress 校验并转为校验和格式
func normalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", errors.ErrInvalidAddress.WithDetail("address", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// checksum 合法地址转为校验和格式, 否则原样返回
func checksum(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
