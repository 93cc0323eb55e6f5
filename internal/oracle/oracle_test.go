package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	sqrtP *big.Int
	err   error
}

func (f *fakePool) SqrtPriceX96(ctx context.Context) (*big.Int, error) {
	return f.sqrtP, f.err
}

type fakeFeed struct {
	round    *contract.FeedRound
	decimals uint8
	err      error
	calls    int
}

func (f *fakeFeed) LatestRoundData(ctx context.Context) (*contract.FeedRound, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.round, nil
}

func (f *fakeFeed) Decimals(ctx context.Context) (uint8, error) {
	return f.decimals, nil
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Scale)
}

func sqrtX96(n int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(n), 96)
}

func newTestAdapter(pool PoolSource, feed FeedSource, now time.Time) *Adapter {
	a := NewAdapter(pool, feed, Config{
		MinPoolPrice:      e18(1),
		MaxPoolPrice:      e18(1_000_000),
		FeedStaleness:     time.Hour,
		FallbackFeedPrice: e18(1500),
	})
	a.now = func() time.Time { return now }
	return a
}

func TestPriceFromSqrtX96(t *testing.T) {
	// sqrtP = 100 => token1/token0 = 10000
	assert.Equal(t, 0, PriceFromSqrtX96(sqrtX96(100), false).Cmp(e18(10000)))

	// 平台代币为 token0 时取倒数
	inverted := PriceFromSqrtX96(sqrtX96(100), true)
	assert.Equal(t, 0, inverted.Cmp(new(big.Int).Quo(Scale, big.NewInt(10000))))
}

func TestAdapter_PoolPrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		pool   *fakePool
		valid  bool
		reason string
	}{
		{"valid", &fakePool{sqrtP: sqrtX96(100)}, true, ""},
		{"zero", &fakePool{sqrtP: big.NewInt(0)}, false, "zero sqrt price"},
		{"underflow", &fakePool{sqrtP: big.NewInt(1)}, false, "price underflow"},
		{"above band", &fakePool{sqrtP: sqrtX96(10_000)}, false, "above sane band"},
		{"source error", &fakePool{err: errors.New("rpc down")}, false, "rpc down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(tt.pool, &fakeFeed{}, now)
			r := a.PoolPrice(context.Background())
			assert.Equal(t, tt.valid, r.Valid)
			assert.False(t, r.FallbackUsed)
			assert.Equal(t, SourcePool, r.Source)
			if !tt.valid {
				assert.Equal(t, tt.reason, r.Reason)
				assert.False(t, r.Usable())
			}
		})
	}
}

func TestAdapter_PoolPriceBelowBand(t *testing.T) {
	a := newTestAdapter(&fakePool{sqrtP: new(big.Int).Lsh(big.NewInt(1), 95)}, &fakeFeed{}, time.Now())
	r := a.PoolPrice(context.Background())
	assert.False(t, r.Valid)
	assert.Equal(t, "below sane band", r.Reason)
}

func TestAdapter_FeedPrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := &fakeFeed{
		round:    &contract.FeedRound{Answer: big.NewInt(2000_00000000), UpdatedAt: now.Add(-time.Minute)},
		decimals: 8,
	}
	a := newTestAdapter(&fakePool{}, feed, now)

	r := a.FeedPrice(context.Background())
	require.True(t, r.Valid)
	assert.False(t, r.FallbackUsed)
	assert.Equal(t, 0, r.Value.Cmp(e18(2000)))
	assert.True(t, r.Usable())
}

func TestAdapter_FeedFallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		feed   *fakeFeed
		reason string
	}{
		{"stale", &fakeFeed{round: &contract.FeedRound{Answer: big.NewInt(1), UpdatedAt: now.Add(-2 * time.Hour)}, decimals: 8}, "stale answer"},
		{"non-positive", &fakeFeed{round: &contract.FeedRound{Answer: big.NewInt(-1), UpdatedAt: now}, decimals: 8}, "non-positive answer"},
		{"error", &fakeFeed{err: errors.New("reverted")}, "reverted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(&fakePool{}, tt.feed, now)
			r := a.FeedPrice(context.Background())
			assert.False(t, r.Valid)
			assert.True(t, r.FallbackUsed)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Equal(t, 0, r.Value.Cmp(e18(1500)))
			assert.True(t, r.Usable())
			assert.Equal(t, 1, a.Status().ConsecutiveFallbacks)
		})
	}
}

func TestAdapter_FeedBreakerOpens(t *testing.T) {
	feed := &fakeFeed{err: errors.New("rpc down")}
	a := newTestAdapter(&fakePool{}, feed, time.Now())

	for i := 0; i < 10; i++ {
		r := a.FeedPrice(context.Background())
		assert.True(t, r.FallbackUsed)
	}

	// 熔断后不再访问喂价源
	assert.Equal(t, 5, feed.calls)
	st := a.Status()
	assert.Equal(t, "open", st.FeedBreaker)
	assert.Equal(t, 10, st.ConsecutiveFallbacks)
}
