package repository

import (
	"context"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingEntryRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPendingEntryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.PendingEntry{Player: "0xa", RoundID: 1, EntryFee: decimal.NewFromInt(100), SubmittedAt: 1000}))
	require.NoError(t, repo.Create(ctx, &model.PendingEntry{Player: "0xb", RoundID: 1, EntryFee: decimal.NewFromInt(100), SubmittedAt: 5000}))

	// 每个玩家最多一条
	assert.Error(t, repo.Create(ctx, &model.PendingEntry{Player: "0xa", RoundID: 2, EntryFee: decimal.NewFromInt(100)}))

	ok, err := repo.Exists(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, ok)

	expired, err := repo.ListSubmittedBefore(ctx, 2000, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "0xa", expired[0].Player)

	require.NoError(t, repo.Delete(ctx, "0xa"))
	assert.ErrorIs(t, repo.Delete(ctx, "0xa"), ErrPendingEntryNotFound)
	_, err = repo.GetByPlayer(ctx, "0xa")
	assert.ErrorIs(t, err, ErrPendingEntryNotFound)

	page := &Pagination{}
	list, err := repo.List(ctx, page)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRandomnessRepository_MarkFulfilledOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRandomnessRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.RandomnessRequest{RequestID: "42", RoundID: 1, Exists: true, NumWords: 3}))
	require.NoError(t, repo.Create(ctx, &model.RandomnessRequest{RequestID: "43", RoundID: 2, Exists: false, NumWords: 3}))

	words := model.BigIntList{"1", "2", "3"}
	require.NoError(t, repo.MarkFulfilled(ctx, "42", words, "0xtx"))
	assert.ErrorIs(t, repo.MarkFulfilled(ctx, "42", words, "0xtx"), ErrStaleState)
	assert.ErrorIs(t, repo.MarkFulfilled(ctx, "43", words, "0xtx"), ErrStaleState)
	assert.ErrorIs(t, repo.MarkFulfilled(ctx, "404", words, "0xtx"), ErrStaleState)

	req, err := repo.GetByRequestID(ctx, "42")
	require.NoError(t, err)
	assert.True(t, req.Fulfilled)
	assert.Equal(t, words, req.RandomWords)

	_, err = repo.GetByRequestID(ctx, "404")
	assert.ErrorIs(t, err, ErrRandomnessRequestNotFound)
}

func TestPricingRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPricingRepository(db)
	ctx := context.Background()

	_, err := repo.GetState(ctx, model.PricingStateNativeFee)
	assert.ErrorIs(t, err, ErrPricingStateNotFound)

	state := &model.PricingState{
		Name: model.PricingStateNativeFee, SlippageBps: 2500, MinSlippageBps: 500, MaxSlippageBps: 5000,
		MinNativeAmount: decimal.NewFromInt(1), MaxNativeAmount: decimal.NewFromInt(1_000_000),
	}
	require.NoError(t, repo.SaveState(ctx, state))
	state.SlippageBps = 2450
	require.NoError(t, repo.SaveState(ctx, state))

	got, err := repo.GetState(ctx, model.PricingStateNativeFee)
	require.NoError(t, err)
	assert.Equal(t, int64(2450), got.SlippageBps)

	asset := &model.PaymentAsset{Symbol: "USDC", TokenAddress: "0xt", PoolAddress: "0xp", Decimals: 6, Enabled: true, LastValidPrice: decimal.NewFromInt(2000)}
	require.NoError(t, repo.UpsertAsset(ctx, asset))

	// 更新配置时保留已缓存的价格
	update := &model.PaymentAsset{Symbol: "USDC", TokenAddress: "0xt2", PoolAddress: "0xp", Decimals: 6, Enabled: false}
	require.NoError(t, repo.UpsertAsset(ctx, update))

	got2, err := repo.GetAsset(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "0xt2", got2.TokenAddress)
	assert.True(t, got2.LastValidPrice.Equal(decimal.NewFromInt(2000)))

	enabled, err := repo.ListAssets(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
	all, err := repo.ListAssets(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCoinflipRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCoinflipRepository(db)
	ctx := context.Background()

	game := &model.CoinflipGame{GameID: "g1", Creator: "0xc", Stake: decimal.NewFromInt(10)}
	require.NoError(t, repo.Create(ctx, game))

	game.Status = model.GameStatusRandomnessRequested
	game.RandomnessRequestID = "77"
	require.NoError(t, repo.Update(ctx, game))

	got, err := repo.GetByRequestID(ctx, "77")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GameID)

	_, err = repo.GetByGameID(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrGameNotFound)

	page := &Pagination{}
	list, err := repo.ListByStatus(ctx, model.GameStatusRandomnessRequested, page)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStateRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStateRepository(db)
	ctx := context.Background()

	_, err := repo.GetState(ctx, 1)
	assert.ErrorIs(t, err, ErrStateNotFound)
	require.NoError(t, repo.SaveState(ctx, &model.DeploymentState{ChainID: 1, CurrentRoundID: 1, CallbackGas: 1, Confirmations: 1, NumWords: 1}))
	st, err := repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.CurrentRoundID)

	require.NoError(t, repo.UpsertPeer(ctx, &model.PeerChain{ChainID: 137, Address: "0xa", Enabled: true}))
	require.NoError(t, repo.UpsertPeer(ctx, &model.PeerChain{ChainID: 137, Address: "0xb", Enabled: true}))
	require.NoError(t, repo.UpsertPeer(ctx, &model.PeerChain{ChainID: 10, Address: "0xc", Enabled: false}))
	peer, err := repo.GetPeer(ctx, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xb", peer.Address)
	peers, err := repo.ListPeers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, peers, 1)

	action := &model.AdminAction{ActionID: "a1", Asset: model.AssetToken, Target: "0xt", Amount: decimal.NewFromInt(1), ETA: 10, ProposedBy: "0xadmin"}
	require.NoError(t, repo.CreateAdminAction(ctx, action))
	got, err := repo.GetAdminAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AdminActionStatusQueued, got.Status)

	fresh, err := repo.RecordMessage(ctx, &model.MessageLog{MessageID: "m1", PeerChainID: 137, MessageType: 1})
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = repo.RecordMessage(ctx, &model.MessageLog{MessageID: "m1", PeerChainID: 137, MessageType: 1})
	require.NoError(t, err)
	assert.False(t, fresh)
}
