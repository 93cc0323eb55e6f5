package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNonceLockFailed  = errors.New("failed to acquire nonce lock")
	ErrNonceNotAcquired = errors.New("nonce not acquired")
)

// releaseLockScript 仅删除自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NonceSource 链上 nonce 来源
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager Nonce 管理器
// 使用 Redis 分布式锁分配 nonce, 同一钱包的多个实例不会冲突
type NonceManager struct {
	source      NonceSource
	redis       redis.Cmdable
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration
	lockRetries int

	mu           sync.Mutex
	lastSyncTime time.Time
	syncInterval time.Duration
	inflight     map[uint64]struct{}
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	LockRetries  int
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(source NonceSource, rdb redis.Cmdable, cfg *NonceManagerConfig) *NonceManager {
	m := &NonceManager{
		source:       source,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  cfg.LockTimeout,
		lockRetries:  cfg.LockRetries,
		syncInterval: cfg.SyncInterval,
		inflight:     make(map[uint64]struct{}),
	}
	if m.lockTimeout == 0 {
		m.lockTimeout = 10 * time.Second
	}
	if m.lockRetries == 0 {
		m.lockRetries = 20
	}
	if m.syncInterval == 0 {
		m.syncInterval = 5 * time.Minute
	}
	return m
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("eidos:lottery:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("eidos:lottery:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// Acquire 分配下一个 nonce
// 返回的 nonce 必须通过 Confirm 或 Release 处理
func (m *NonceManager) Acquire(ctx context.Context) (uint64, error) {
	token, err := m.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer m.unlock(ctx, token)

	if m.needsSync() {
		if err := m.syncLocked(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		nonce, err = m.source.PendingNonceAt(ctx, m.wallet)
	}
	if err != nil {
		return 0, err
	}

	if err := m.redis.Set(ctx, m.nonceKey(), nonce+1, 0).Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.inflight[nonce] = struct{}{}
	m.mu.Unlock()
	return nonce, nil
}

// Confirm 交易已广播, nonce 已消耗
func (m *NonceManager) Confirm(nonce uint64) {
	m.mu.Lock()
	delete(m.inflight, nonce)
	m.mu.Unlock()
}

// Release 交易未广播, 归还 nonce
// 仅当它仍是最近分配的 nonce 时回退计数器, 否则下次同步时由链上 nonce 修正
func (m *NonceManager) Release(ctx context.Context, nonce uint64) error {
	m.mu.Lock()
	if _, ok := m.inflight[nonce]; !ok {
		m.mu.Unlock()
		return ErrNonceNotAcquired
	}
	delete(m.inflight, nonce)
	m.mu.Unlock()

	token, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer m.unlock(ctx, token)

	current, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if err != nil {
		return err
	}
	if current == nonce+1 {
		return m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err()
	}
	m.mu.Lock()
	m.lastSyncTime = time.Time{}
	m.mu.Unlock()
	return nil
}

// Sync 从链上重新同步 nonce (nonce too low 等错误后调用)
func (m *NonceManager) Sync(ctx context.Context) error {
	token, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer m.unlock(ctx, token)
	return m.syncLocked(ctx)
}

// Current 当前待分配的 nonce (不加锁, 仅用于查询)
func (m *NonceManager) Current(ctx context.Context) (uint64, error) {
	nonce, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return m.source.PendingNonceAt(ctx, m.wallet)
	}
	return nonce, err
}

// InflightCount 已分配未确认的 nonce 数量
func (m *NonceManager) InflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *NonceManager) syncLocked(ctx context.Context) error {
	chainNonce, err := m.source.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), chainNonce, 0).Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *NonceManager) needsSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}

func (m *NonceManager) lock(ctx context.Context) (string, error) {
	token := uuid.NewString()
	for i := 0; i < m.lockRetries; i++ {
		ok, err := m.redis.SetNX(ctx, m.lockKey(), token, m.lockTimeout).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return "", ErrNonceLockFailed
}

func (m *NonceManager) unlock(ctx context.Context, token string) {
	_ = releaseLockScript.Run(ctx, m.redis, []string{m.lockKey()}, token).Err()
}
