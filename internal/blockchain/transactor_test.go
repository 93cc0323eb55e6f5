package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	sendErr   error
	status    uint64
	pending   int // 回执出现前返回 NotFound 的次数
	sent      []*types.Transaction
	gasLimit  uint64
	gasPrice  *big.Int
	chainID   *big.Int
	receiptOf map[common.Hash]int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeBackend{
		key:       key,
		status:    types.ReceiptStatusSuccessful,
		gasLimit:  100_000,
		gasPrice:  big.NewInt(1_000_000_000),
		chainID:   big.NewInt(31337),
		receiptOf: make(map[common.Hash]int),
	}
}

func (f *fakeBackend) Address() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.gasLimit, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptOf[hash] < f.pending {
		f.receiptOf[hash]++
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: f.status, BlockNumber: big.NewInt(10)}, nil
}

func (f *fakeBackend) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(f.chainID), f.key)
}

type fakeNonces struct {
	next     uint64
	released []uint64
	synced   int
}

func (n *fakeNonces) Acquire(ctx context.Context) (uint64, error) {
	v := n.next
	n.next++
	return v, nil
}

func (n *fakeNonces) Confirm(nonce uint64) {}

func (n *fakeNonces) Release(ctx context.Context, nonce uint64) error {
	n.released = append(n.released, nonce)
	return nil
}

func (n *fakeNonces) Sync(ctx context.Context) error {
	n.synced++
	return nil
}

func newTestTransactor(backend *fakeBackend, nonces *fakeNonces) *Transactor {
	return NewTransactor(backend, nonces, &TransactorConfig{
		ReceiptTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	})
}

func TestTransactor_TransactSuccess(t *testing.T) {
	backend := newFakeBackend(t)
	backend.pending = 2
	nonces := &fakeNonces{next: 5}
	tr := newTestTransactor(backend, nonces)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	receipt, err := tr.Transact(context.Background(), to, []byte{0x01, 0x02}, big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, int64(9), tx.Value().Int64())
	assert.Equal(t, to, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(backend.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, backend.Address(), sender)
	assert.Equal(t, backend.Address(), tr.From())
}

func TestTransactor_Reverted(t *testing.T) {
	backend := newFakeBackend(t)
	backend.status = types.ReceiptStatusFailed
	tr := newTestTransactor(backend, &fakeNonces{})

	_, err := tr.Transact(context.Background(), common.Address{1}, nil, nil)
	assert.ErrorIs(t, err, ErrTxReverted)
}

func TestTransactor_SendFailureReleasesNonce(t *testing.T) {
	backend := newFakeBackend(t)
	backend.sendErr = errors.New("nonce too low")
	nonces := &fakeNonces{next: 3}
	tr := newTestTransactor(backend, nonces)

	_, err := tr.Transact(context.Background(), common.Address{1}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, []uint64{3}, nonces.released)
	assert.Equal(t, 1, nonces.synced)
}

func TestTransactor_ReceiptTimeout(t *testing.T) {
	backend := newFakeBackend(t)
	backend.pending = 1 << 30
	tr := NewTransactor(backend, &fakeNonces{}, &TransactorConfig{
		ReceiptTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})

	_, err := tr.Transact(context.Background(), common.Address{1}, nil, nil)
	assert.ErrorIs(t, err, ErrReceiptTimeout)
}
