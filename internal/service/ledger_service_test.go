package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_CreditDebit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.RoleMain)
	player := addr(1)

	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetToken, big.NewInt(150)))
	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetNative, big.NewInt(7)))
	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetToken, big.NewInt(0)))
	assert.Equal(t, int64(150), env.pendingToken(player))
	assert.Equal(t, int64(7), env.pendingNative(player))

	err := env.ledger.Credit(ctx, player, model.AssetToken, big.NewInt(-1))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	require.NoError(t, env.ledger.Debit(ctx, player, model.AssetToken, big.NewInt(50)))
	assert.Equal(t, int64(100), env.pendingToken(player))

	err = env.ledger.Debit(ctx, player, model.AssetToken, big.NewInt(101))
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
	assert.Equal(t, int64(100), env.pendingToken(player))

	all, err := env.ledger.DebitAll(ctx, player, model.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, int64(7), all.Int64())
	assert.Zero(t, env.pendingNative(player))
}

func TestLedgerService_Withdraw(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.RoleMain)
	player := addr(1)
	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetToken, big.NewInt(250)))

	env.transfer.On("Transfer", mock.Anything, model.AssetToken, player, big.NewInt(250)).Return("0xabc", nil).Once()

	w, err := env.ledger.Withdraw(ctx, player, model.AssetToken)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusCompleted, w.Status)
	assert.Equal(t, "0xabc", w.TxHash)
	assert.Equal(t, int64(250), w.Amount.IntPart())
	assert.Zero(t, env.pendingToken(player))

	page := &repository.Pagination{Page: 1, PageSize: 10}
	list, err := env.ledger.Withdrawals(ctx, player, page)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.WithdrawalStatusCompleted, list[0].Status)

	// 没有余额
	_, err = env.ledger.Withdraw(ctx, player, model.AssetToken)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
	env.transfer.AssertExpectations(t)
}

func TestLedgerService_WithdrawRestoresOnTransferFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.RoleMain)
	player := addr(1)
	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetNative, big.NewInt(90)))

	env.transfer.On("Transfer", mock.Anything, model.AssetNative, player, big.NewInt(90)).
		Return("", stderrors.New("out of gas")).Once()

	_, err := env.ledger.Withdraw(ctx, player, model.AssetNative)
	assert.True(t, errors.Is(err, errors.ErrTransferFailed))
	assert.Equal(t, int64(90), env.pendingNative(player))

	list, err := env.ledger.Withdrawals(ctx, player, &repository.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.WithdrawalStatusReverted, list[0].Status)
	assert.Contains(t, list[0].ErrorMessage, "out of gas")
}

func TestLedgerService_WithdrawValidation(t *testing.T) {
	env := newTestEnv(t, config.RoleMain)
	_, err := env.ledger.Withdraw(context.Background(), "0x123", model.AssetToken)
	assert.True(t, errors.Is(err, errors.ErrInvalidAddress))

	_, err = env.ledger.Withdraw(context.Background(), addr(1), model.Asset("DOGE"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestLedgerService_WithdrawReentrancy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.RoleMain)
	player := addr(1)
	require.NoError(t, env.ledger.Credit(ctx, player, model.AssetToken, big.NewInt(10)))

	// 转账回调中再次提取被拒绝
	var inner error
	env.transfer.On("Transfer", mock.Anything, model.AssetToken, player, big.NewInt(10)).
		Run(func(args mock.Arguments) {
			_, inner = env.ledger.Withdraw(args.Get(0).(context.Context), player, model.AssetToken)
		}).
		Return("0x1", nil).Once()

	_, err := env.ledger.Withdraw(ctx, player, model.AssetToken)
	require.NoError(t, err)
	assert.True(t, errors.Is(inner, errors.ErrReentrantCall))
	assert.Zero(t, env.pendingToken(player))
}

func TestSerializer_InFlight(t *testing.T) {
	s := NewSerializer()
	assert.False(t, InFlight(context.Background()))
	err := s.Do(context.Background(), "op", func(ctx context.Context) error {
		assert.True(t, InFlight(ctx))
		return s.Do(ctx, "nested", func(ctx context.Context) error { return nil })
	})
	assert.True(t, errors.Is(err, errors.ErrReentrantCall))
}

func TestRateLimiter_Miniredis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRateLimiter(rdb, time.Minute)
	// 只检查不记录
	require.NoError(t, l.Check(ctx, addr(1)))
	require.NoError(t, l.Check(ctx, addr(1)))

	l.Record(ctx, addr(1))
	assert.True(t, errors.Is(l.Check(ctx, addr(1)), errors.ErrRateLimited))
	assert.NoError(t, l.Check(ctx, addr(2)))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Check(ctx, addr(1)))
}

func TestRateLimiter_Disabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Check(context.Background(), addr(1)))
	nilLimiter.Record(context.Background(), addr(1))
	l := NewRateLimiter(nil, time.Minute)
	l.Record(context.Background(), addr(1))
	assert.NoError(t, l.Check(context.Background(), addr(1)))
}

func TestRateLimiter_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	l := NewRateLimiter(rdb, time.Minute)
	l.Record(context.Background(), addr(1))
	assert.NoError(t, l.Check(context.Background(), addr(1)))
}

func TestRoundService_RateLimitedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	env := newTestEnv(t, config.RoleMain)
	env.acceptTokens()
	env.rounds.limiter = NewRateLimiter(rdb, time.Minute)

	_, err := env.enter(addr(1))
	require.NoError(t, err)

	// 间隔内的再次操作被限流, 不收费
	env.rounds.limiter.Record(context.Background(), addr(2))
	_, err = env.enter(addr(2))
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	env.tokens.AssertNumberOfCalls(t, "CollectFrom", 1)

	mr.FastForward(2 * time.Minute)
	_, err = env.enter(addr(2))
	assert.NoError(t, err)
}

func TestRoundService_FailedEntryKeepsInterval(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	env := newTestEnv(t, config.RoleMain)
	env.rounds.limiter = NewRateLimiter(rdb, time.Minute)

	// 付款失败不占用操作间隔, 玩家可立即重试
	env.tokens.On("CollectFrom", mock.Anything, addr(3), mock.Anything).Return(errors.ErrInsufficientPayment).Once()
	_, err := env.enter(addr(3))
	assert.True(t, errors.Is(err, errors.ErrInsufficientPayment))
	assert.False(t, mr.Exists("eidos:lottery:action:"+strings.ToLower(addr(3))))

	env.acceptTokens()
	_, err = env.enter(addr(3))
	require.NoError(t, err)
	assert.True(t, mr.Exists("eidos:lottery:action:"+strings.ToLower(addr(3))))
}
