package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/crosschain"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/swap"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	mainChain uint64 = 1
	satChain  uint64 = 137
)

var (
	dbSeq atomic.Int64

	devAddr      = addr(0xde)
	fundingAddr1 = addr(0xf1)
	fundingAddr2 = addr(0xf2)
	burnAddr     = addr(0xbb)
	fallbackAddr = addr(0xfa)
	adminAddr    = addr(0xad)

	mainDeployment = addr(0x1001)
	satDeployment  = addr(0x1137)

	entryFee = big.NewInt(100)
)

func addr(n int64) string {
	return common.BigToAddress(big.NewInt(n)).Hex()
}

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.Models()...))
	return db
}

// ========== Mock Implementations ==========

// MockTokenCollector 模拟代币划入
type MockTokenCollector struct {
	mock.Mock
}

func (m *MockTokenCollector) CollectFrom(ctx context.Context, from string, amount *big.Int) error {
	args := m.Called(ctx, from, amount)
	return args.Error(0)
}

func (m *MockTokenCollector) CollectAsset(ctx context.Context, token, from string, amount *big.Int) error {
	args := m.Called(ctx, token, from, amount)
	return args.Error(0)
}

// MockTransferer 模拟转出
type MockTransferer struct {
	mock.Mock
}

func (m *MockTransferer) Transfer(ctx context.Context, asset model.Asset, to string, amount *big.Int) (string, error) {
	args := m.Called(ctx, asset, to, amount)
	return args.String(0), args.Error(1)
}

// MockAssetQuoter 模拟替代资产报价
type MockAssetQuoter struct {
	mock.Mock
}

func (m *MockAssetQuoter) Asset(ctx context.Context, symbol string) (*model.PaymentAsset, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentAsset), args.Error(1)
}

func (m *MockAssetQuoter) QuoteAsset(ctx context.Context, symbol string, nativeAmount *big.Int) (*big.Int, error) {
	args := m.Called(ctx, symbol, nativeAmount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

// fakeProvider 随机数服务, 请求 ID 递增
type fakeProvider struct {
	mu       sync.Mutex
	balance  *big.Int
	err      error
	seq      int
	requests []VRFParams
}

func (p *fakeProvider) Request(ctx context.Context, params VRFParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq++
	p.requests = append(p.requests, params)
	return fmt.Sprintf("req-%d", p.seq), nil
}

func (p *fakeProvider) Balance(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.balance), nil
}

// fakeDeposits 已上链的入金交易, 按哈希查找
type fakeDeposits struct {
	mu       sync.Mutex
	deposits map[string]*Deposit
	err      error
}

func (d *fakeDeposits) add(txHash, from string, value int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deposits[txHash] = &Deposit{TxHash: txHash, From: from, Value: big.NewInt(value), BlockNumber: 100}
}

func (d *fakeDeposits) VerifyDeposit(ctx context.Context, txHash string) (*Deposit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	dep, ok := d.deposits[txHash]
	if !ok {
		return nil, errors.ErrDepositInvalid.WithMessage("交易不存在")
	}
	cp := *dep
	cp.Value = new(big.Int).Set(dep.Value)
	return &cp, nil
}

// fakeCredential holders 为空时所有地址都持有凭证
type fakeCredential struct {
	holders map[common.Address]bool
	err     error
}

func (c *fakeCredential) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.holders == nil || c.holders[owner] {
		return big.NewInt(1), nil
	}
	return new(big.Int), nil
}

type fakeFees struct {
	required *big.Int
	err      error
}

func (f *fakeFees) Quote(ctx context.Context) (*pricing.FeeQuote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pricing.FeeQuote{
		EntryFeeToken:  new(big.Int).Set(entryFee),
		SlippageBps:    100,
		BufferBps:      200,
		RequiredNative: new(big.Int).Set(f.required),
	}, nil
}

func (f *fakeFees) EntryFee() *big.Int {
	return new(big.Int).Set(entryFee)
}

type fakeSwapper struct {
	used  *big.Int
	err   error
	calls int
}

func (s *fakeSwapper) SwapNativeForFixedToken(ctx context.Context, target, maxNativeIn *big.Int) (*swap.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &swap.Result{NativeUsed: new(big.Int).Set(s.used), TokenReceived: new(big.Int).Set(target), TxHash: "0xswap"}, nil
}

// fakePublisher 记录发布的跨链信封
type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []published
}

type published struct {
	topic string
	key   string
	value []byte
}

func (p *fakePublisher) Send(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value})
	return nil
}

// drain 取出并清空发往指定链的信封
func (p *fakePublisher) drain(t *testing.T, dest uint64) []*crosschain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*crosschain.Envelope
	rest := p.sent[:0]
	for _, m := range p.sent {
		if m.topic != crosschain.Topic(dest) {
			rest = append(rest, m)
			continue
		}
		env, err := crosschain.DecodeEnvelope(m.value)
		require.NoError(t, err)
		out = append(out, env)
	}
	p.sent = rest
	return out
}

// ========== Test Environment ==========

type testEnv struct {
	t       *testing.T
	chainID uint64

	db             *gorm.DB
	tx             *repository.Repository
	roundRepo      repository.RoundRepository
	playerRepo     repository.PlayerRepository
	stateRepo      repository.StateRepository
	pendingRepo    repository.PendingEntryRepository
	randomnessRepo repository.RandomnessRepository
	coinflipRepo   repository.CoinflipRepository
	pricingRepo    repository.PricingRepository

	serial     *Serializer
	ledger     *LedgerService
	funds      *NativeFunds
	roundDeps  RoundDeps
	roundCfg   RoundConfig
	rounds     *RoundService
	crosschain *CrossChainService
	coinflip   *CoinflipService
	randomness *RandomnessService
	admin      *AdminService
	slippage   *pricing.SlippageController

	tokens     *MockTokenCollector
	transfer   *MockTransferer
	assets     *MockAssetQuoter
	provider   *fakeProvider
	deposits   *fakeDeposits
	credential *fakeCredential
	fees       *fakeFees
	swapper    *fakeSwapper
	publisher  *fakePublisher
	transport  *crosschain.Transport
}

type envOption func(rc *RoundConfig, cc *CrossChainConfig)

func withCapacity(n int) envOption {
	return func(rc *RoundConfig, cc *CrossChainConfig) { rc.Capacity = n }
}

func withRejectPolicy(policy string) envOption {
	return func(rc *RoundConfig, cc *CrossChainConfig) { cc.RejectPolicy = policy }
}

// newTestEnv 以内存数据库与真实仓储组装服务, 外部依赖使用 mock
func newTestEnv(t *testing.T, role string, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	chainID, peerChain, self, peerAddr := mainChain, satChain, mainDeployment, satDeployment
	if role == config.RoleSatellite {
		chainID, peerChain, self, peerAddr = satChain, mainChain, satDeployment, mainDeployment
	}

	db := setupTestDB(t)
	env := &testEnv{
		t:              t,
		chainID:        chainID,
		db:             db,
		tx:             repository.NewRepository(db),
		roundRepo:      repository.NewRoundRepository(db),
		playerRepo:     repository.NewPlayerRepository(db),
		stateRepo:      repository.NewStateRepository(db),
		pendingRepo:    repository.NewPendingEntryRepository(db),
		randomnessRepo: repository.NewRandomnessRepository(db),
		coinflipRepo:   repository.NewCoinflipRepository(db),
		pricingRepo:    repository.NewPricingRepository(db),
		serial:         NewSerializer(),
		tokens:         new(MockTokenCollector),
		transfer:       new(MockTransferer),
		assets:         new(MockAssetQuoter),
		provider:       &fakeProvider{balance: big.NewInt(5000)},
		deposits:       &fakeDeposits{deposits: make(map[string]*Deposit)},
		credential:     &fakeCredential{},
		fees:           &fakeFees{required: big.NewInt(50)},
		swapper:        &fakeSwapper{used: big.NewInt(40)},
		publisher:      &fakePublisher{},
	}

	rc := RoundConfig{
		ChainID:            chainID,
		Role:               role,
		Capacity:           4,
		EntryFee:           new(big.Int).Set(entryFee),
		Shares:             Shares{WinnersPct: 80, DevPct: 10, FundingPct: 5, BurnPct: 5},
		DevAddress:         devAddr,
		FundingAddresses:   []string{fundingAddr1, fundingAddr2},
		BurnAddress:        burnAddr,
		PointsPerEntry:     10,
		MinProviderBalance: big.NewInt(1000),
	}
	cc := CrossChainConfig{
		ChainID:           chainID,
		Role:              role,
		MainChainID:       mainChain,
		PendingExpiry:     time.Hour,
		RejectPolicy:      config.RejectPolicyRefund,
		FallbackRecipient: fallbackAddr,
		SweepBatchSize:    10,
	}
	for _, opt := range opts {
		opt(&rc, &cc)
	}

	env.slippage = pricing.NewSlippageController(env.pricingRepo, pricing.SlippageConfig{
		Baseline:    100,
		Min:         50,
		Max:         500,
		SuccessStep: 5,
		FailureStep: 50,
	})
	env.transport = crosschain.NewTransport(env.publisher, env.stateRepo, crosschain.TransportConfig{
		ChainID:    chainID,
		Sender:     self,
		BaseFee:    big.NewInt(1000),
		PerByteFee: big.NewInt(0),
	})

	env.ledger = NewLedgerService(env.playerRepo, env.tx, env.transfer, env.serial)
	env.funds = NewNativeFunds(env.ledger, env.tx, env.deposits)
	env.roundDeps = RoundDeps{
		Rounds:     env.roundRepo,
		Randomness: env.randomnessRepo,
		State:      env.stateRepo,
		Tx:         env.tx,
		Ledger:     env.ledger,
		Funds:      env.funds,
		Fees:       env.fees,
		Slippage:   env.slippage,
		Swapper:    env.swapper,
		Tokens:     env.tokens,
		Credential: env.credential,
		Provider:   env.provider,
		Serial:     env.serial,
	}
	env.roundCfg = rc
	env.rounds = NewRoundService(env.roundDeps, rc)
	env.crosschain = NewCrossChainService(env.rounds, env.pendingRepo, env.stateRepo, env.tx, env.ledger,
		env.transport, env.serial, nil, cc)
	if role == config.RoleMain {
		env.rounds.SetNotifier(env.crosschain)
	}
	env.coinflip = NewCoinflipService(env.coinflipRepo, env.randomnessRepo, env.stateRepo, env.tx, env.ledger,
		env.funds, env.tokens, env.assets, env.provider, env.serial, nil, CoinflipConfig{
			ChainID:            chainID,
			MinStake:           big.NewInt(10),
			MaxStake:           big.NewInt(10000),
			HouseFeePct:        5,
			CreationFee:        big.NewInt(30),
			DevAddress:         devAddr,
			MinProviderBalance: big.NewInt(1000),
		})
	env.randomness = NewRandomnessService(env.randomnessRepo, env.rounds, env.coinflip, nil)
	env.admin = NewAdminService(env.stateRepo, env.pricingRepo, env.tx, env.slippage, env.rounds, env.crosschain,
		env.transfer, env.serial, AdminConfig{
			ChainID:   chainID,
			Role:      role,
			Principal: adminAddr,
			Timelock:  48 * time.Hour,
		})

	_, err := env.rounds.EnsureInitialized(ctx, VRFParams{CallbackGas: 200000, Confirmations: 3, NumWords: 3})
	require.NoError(t, err)
	require.NoError(t, env.stateRepo.UpsertPeer(ctx, &model.PeerChain{ChainID: peerChain, Address: peerAddr, Enabled: true}))
	return env
}

// acceptTokens 所有代币划入成功
func (e *testEnv) acceptTokens() {
	e.tokens.On("CollectFrom", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (e *testEnv) enter(player string) (*EnterResult, error) {
	return e.rounds.Enter(context.Background(), &EnterRequest{Player: player, Method: model.PaymentMethodToken})
}

// fundNative 向玩家账本记入原生币
func (e *testEnv) fundNative(player string, amount int64) {
	e.t.Helper()
	require.NoError(e.t, e.ledger.Credit(context.Background(), player, model.AssetNative, big.NewInt(amount)))
}

func (e *testEnv) account(player string) *model.PlayerAccount {
	e.t.Helper()
	a, err := e.ledger.Account(context.Background(), player)
	require.NoError(e.t, err)
	return a
}

func (e *testEnv) pendingToken(player string) int64 {
	return e.account(player).PendingToken.IntPart()
}

func (e *testEnv) pendingNative(player string) int64 {
	return e.account(player).PendingNative.IntPart()
}

func (e *testEnv) round(id uint64) *model.Round {
	e.t.Helper()
	r, err := e.roundRepo.GetByRoundID(context.Background(), id, nil)
	require.NoError(e.t, err)
	return r
}

func (e *testEnv) currentRoundID() uint64 {
	e.t.Helper()
	id, err := e.rounds.CurrentRoundID(context.Background())
	require.NoError(e.t, err)
	return id
}

// deliver 将 from 发往本链的信封交给本链处理
func (e *testEnv) deliver(from *testEnv) int {
	e.t.Helper()
	envs := from.publisher.drain(e.t, e.chainID)
	for _, env := range envs {
		require.NoError(e.t, e.crosschain.HandleEnvelope(context.Background(), env))
	}
	return len(envs)
}

// decodeSent 解码已发往 dest 的消息, 不清空
func (e *testEnv) decodeSent(dest uint64) []*crosschain.Message {
	e.t.Helper()
	e.publisher.mu.Lock()
	defer e.publisher.mu.Unlock()
	var out []*crosschain.Message
	for _, m := range e.publisher.sent {
		if m.topic != crosschain.Topic(dest) {
			continue
		}
		env, err := crosschain.DecodeEnvelope(m.value)
		require.NoError(e.t, err)
		msg, err := crosschain.Decode(env.Payload)
		require.NoError(e.t, err)
		out = append(out, msg)
	}
	return out
}

// envelopeFrom 构造来自远端链的信封
func envelopeFrom(t *testing.T, source, dest uint64, sender, messageID string, payload []byte) *crosschain.Envelope {
	t.Helper()
	return &crosschain.Envelope{
		MessageID:     messageID,
		SourceChainID: source,
		DestChainID:   dest,
		Sender:        sender,
		Payload:       payload,
		Fee:           "1000",
		SentAt:        time.Now().UnixMilli(),
	}
}

func words(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func decimalOf(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
