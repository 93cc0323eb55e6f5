package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	bizerrors "github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	routerAddr = common.HexToAddress("0xe0")
	selfAddr   = common.HexToAddress("0xaa")
)

type fakeRouter struct {
	quote    *big.Int
	quoteErr error
	params   contract.ExactOutputSingleParams
}

func (f *fakeRouter) Address() common.Address { return routerAddr }

func (f *fakeRouter) QuoteExactOutputSingle(ctx context.Context, from common.Address, params contract.ExactOutputSingleParams) (*big.Int, error) {
	f.params = params
	return f.quote, f.quoteErr
}

func (f *fakeRouter) PackSwapAndRefund(params contract.ExactOutputSingleParams) ([]byte, error) {
	return []byte{0xac, 0x96, 0x50, 0xd8}, nil
}

type fakeToken struct {
	balance *big.Int
}

func (f *fakeToken) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

// fakeSender 每笔交易后代币余额增加 credit
type fakeSender struct {
	token   *fakeToken
	credit  *big.Int
	err     error
	value   *big.Int
	to      common.Address
	txCount int
}

func (f *fakeSender) From() common.Address { return selfAddr }

func (f *fakeSender) Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	f.txCount++
	f.to = to
	f.value = value
	if f.err != nil {
		return nil, f.err
	}
	f.token.balance.Add(f.token.balance, f.credit)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x1234")}, nil
}

func newTestExecutor(router *fakeRouter, credit int64, sendErr error) (*Executor, *fakeSender) {
	token := &fakeToken{balance: big.NewInt(1_000)}
	sender := &fakeSender{token: token, credit: big.NewInt(credit), err: sendErr}
	e := NewExecutor(router, token, sender, Config{
		WrappedNative: common.HexToAddress("0x01"),
		PlatformToken: common.HexToAddress("0x02"),
		PoolFee:       3000,
	})
	e.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return e, sender
}

func TestExecutor_Swap(t *testing.T) {
	router := &fakeRouter{quote: big.NewInt(80)}
	e, sender := newTestExecutor(router, 100, nil)

	res, err := e.SwapNativeForFixedToken(context.Background(), big.NewInt(100), big.NewInt(150))
	require.NoError(t, err)
	assert.Equal(t, int64(80), res.NativeUsed.Int64())
	assert.Equal(t, int64(100), res.TokenReceived.Int64())
	assert.Equal(t, common.HexToHash("0x1234").Hex(), res.TxHash)

	// 交易附带上限金额, 多余部分由路由退回
	assert.Equal(t, int64(150), sender.value.Int64())
	assert.Equal(t, routerAddr, sender.to)
	assert.Equal(t, selfAddr, router.params.Recipient)
	assert.Equal(t, int64(1_700_000_300), router.params.Deadline.Int64())
	assert.Equal(t, int64(3000), router.params.Fee.Int64())
}

func TestExecutor_SwapFailures(t *testing.T) {
	tests := []struct {
		name    string
		router  *fakeRouter
		credit  int64
		sendErr error
		sent    int
	}{
		{"quote reverted", &fakeRouter{quoteErr: errors.New("execution reverted")}, 100, nil, 0},
		{"quote above max", &fakeRouter{quote: big.NewInt(151)}, 100, nil, 0},
		{"tx failed", &fakeRouter{quote: big.NewInt(80)}, 100, errors.New("transaction reverted"), 1},
		{"short delivery", &fakeRouter{quote: big.NewInt(80)}, 99, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sender := newTestExecutor(tt.router, tt.credit, tt.sendErr)
			_, err := e.SwapNativeForFixedToken(context.Background(), big.NewInt(100), big.NewInt(150))
			assert.True(t, bizerrors.Is(err, bizerrors.ErrSwapFailed))
			assert.Equal(t, tt.sent, sender.txCount)
		})
	}
}

func TestExecutor_RejectsNonPositive(t *testing.T) {
	e, _ := newTestExecutor(&fakeRouter{quote: big.NewInt(1)}, 1, nil)
	_, err := e.SwapNativeForFixedToken(context.Background(), big.NewInt(0), big.NewInt(10))
	assert.True(t, bizerrors.Is(err, bizerrors.ErrInvalidRequest))
}
