package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChainReader 内存中的交易与回执
type fakeChainReader struct {
	txs      map[common.Hash]*types.Transaction
	pending  map[common.Hash]bool
	receipts map[common.Hash]*types.Receipt
	err      error
}

func newFakeChainReader() *fakeChainReader {
	return &fakeChainReader{
		txs:      make(map[common.Hash]*types.Transaction),
		pending:  make(map[common.Hash]bool),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (r *fakeChainReader) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	tx, ok := r.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, r.pending[hash], nil
}

func (r *fakeChainReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r.err != nil {
		return nil, r.err
	}
	receipt, ok := r.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func TestChainDeposits_VerifyDeposit(t *testing.T) {
	ctx := context.Background()
	chainID := big.NewInt(1)
	receiver := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	player := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(chainID)

	reader := newFakeChainReader()
	deposits := NewChainDeposits(reader, chainID, receiver)

	send := func(nonce uint64, to common.Address, value int64, status uint64) common.Hash {
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(value),
			Gas:      21000,
			GasPrice: big.NewInt(1),
		}), signer, key)
		require.NoError(t, err)
		reader.txs[tx.Hash()] = tx
		reader.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(77)}
		return tx.Hash()
	}

	ok := send(0, receiver, 70, types.ReceiptStatusSuccessful)
	d, err := deposits.VerifyDeposit(ctx, ok.Hex())
	require.NoError(t, err)
	assert.Equal(t, player.Hex(), d.From)
	assert.Equal(t, int64(70), d.Value.Int64())
	assert.Equal(t, uint64(77), d.BlockNumber)

	cases := []struct {
		name   string
		txHash string
	}{
		{"malformed hash", "0x1234"},
		{"unknown transaction", common.HexToHash("0x99").Hex()},
		{"other receiver", send(1, common.HexToAddress("0xbb"), 70, types.ReceiptStatusSuccessful).Hex()},
		{"zero value", send(2, receiver, 0, types.ReceiptStatusSuccessful).Hex()},
		{"reverted", send(3, receiver, 70, types.ReceiptStatusFailed).Hex()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := deposits.VerifyDeposit(ctx, tc.txHash)
			assert.True(t, errors.Is(err, errors.ErrDepositInvalid), "got %v", err)
		})
	}

	t.Run("pending", func(t *testing.T) {
		h := send(4, receiver, 70, types.ReceiptStatusSuccessful)
		reader.pending[h] = true
		_, err := deposits.VerifyDeposit(ctx, h.Hex())
		assert.True(t, errors.Is(err, errors.ErrDepositInvalid))
	})

	t.Run("node unavailable", func(t *testing.T) {
		reader.err = stderrors.New("dial tcp: connection refused")
		defer func() { reader.err = nil }()
		_, err := deposits.VerifyDeposit(ctx, ok.Hex())
		assert.True(t, errors.Is(err, errors.ErrChainLookup))
		assert.True(t, errors.IsDependency(err))
	})
}

func TestVRFProvider_VerifyFulfillment(t *testing.T) {
	ctx := context.Background()
	coordAddr := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	coordinator, err := contract.NewVRFCoordinatorContract(coordAddr, nil)
	require.NoError(t, err)
	parsed, err := abi.JSON(strings.NewReader(contract.VRFCoordinatorABI))
	require.NoError(t, err)
	event := parsed.Events["RandomWordsFulfilled"]

	reader := newFakeChainReader()
	provider := NewVRFProvider(coordinator, nil, reader, common.Hash{}, 1)

	requestID := big.NewInt(4242)
	seed := big.NewInt(123456789)
	fulfil := func(txHash common.Hash, emitter common.Address, success bool) {
		data, err := event.Inputs.NonIndexed().Pack(seed, big.NewInt(1), success)
		require.NoError(t, err)
		reader.receipts[txHash] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(500),
			Logs: []*types.Log{{
				Address: emitter,
				Topics:  []common.Hash{event.ID, common.BigToHash(requestID)},
				Data:    data,
			}},
		}
	}
	genuine := common.HexToHash("0x01")
	fulfil(genuine, coordAddr, true)

	words := contract.DeriveRandomWords(seed, 3)
	msg := func(txHash common.Hash, block int64) *model.RandomnessFulfilled {
		return &model.RandomnessFulfilled{
			RequestID:   requestID.String(),
			RandomWords: model.NewBigIntList(words),
			TxHash:      txHash.Hex(),
			BlockNumber: block,
		}
	}

	require.NoError(t, provider.VerifyFulfillment(ctx, msg(genuine, 500), words))
	require.NoError(t, provider.VerifyFulfillment(ctx, msg(genuine, 0), words[:1]))

	t.Run("forged words", func(t *testing.T) {
		forged := []*big.Int{words[0], big.NewInt(7), words[2]}
		err := provider.VerifyFulfillment(ctx, msg(genuine, 500), forged)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("block mismatch", func(t *testing.T) {
		err := provider.VerifyFulfillment(ctx, msg(genuine, 501), words)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("event from another contract", func(t *testing.T) {
		h := common.HexToHash("0x02")
		fulfil(h, common.HexToAddress("0xdd"), true)
		err := provider.VerifyFulfillment(ctx, msg(h, 500), words)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("coordinator callback failed", func(t *testing.T) {
		h := common.HexToHash("0x03")
		fulfil(h, coordAddr, false)
		err := provider.VerifyFulfillment(ctx, msg(h, 500), words)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("unknown transaction", func(t *testing.T) {
		err := provider.VerifyFulfillment(ctx, msg(common.HexToHash("0x04"), 500), words)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("malformed request id", func(t *testing.T) {
		m := msg(genuine, 500)
		m.RequestID = "req-1"
		err := provider.VerifyFulfillment(ctx, m, words)
		assert.True(t, errors.Is(err, errors.ErrRandomnessUnverified))
	})

	t.Run("node unavailable", func(t *testing.T) {
		reader.err = stderrors.New("timeout")
		defer func() { reader.err = nil }()
		err := provider.VerifyFulfillment(ctx, msg(genuine, 500), words)
		assert.True(t, errors.IsDependency(err))
	})
}
