package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/scheduler"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockRoundService Mock 轮次服务
type MockRoundService struct {
	mock.Mock
}

func (m *MockRoundService) Enter(ctx context.Context, req *service.EnterRequest) (*service.EnterResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.EnterResult), args.Error(1)
}

func (m *MockRoundService) CurrentRound(ctx context.Context) (*service.RoundSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RoundSnapshot), args.Error(1)
}

func (m *MockRoundService) Snapshot(ctx context.Context, roundID uint64) (*service.RoundSnapshot, error) {
	args := m.Called(ctx, roundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RoundSnapshot), args.Error(1)
}

func (m *MockRoundService) ListRounds(ctx context.Context, page *repository.Pagination) ([]*model.Round, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Round), args.Error(1)
}

// MockRemoteEntryService Mock 跨链参与服务
type MockRemoteEntryService struct {
	mock.Mock
}

func (m *MockRemoteEntryService) EnterRemote(ctx context.Context, req *service.EnterRequest) (*service.RemoteEntryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RemoteEntryResult), args.Error(1)
}

func (m *MockRemoteEntryService) PendingEntries(ctx context.Context, page *repository.Pagination) ([]*model.PendingEntry, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PendingEntry), args.Error(1)
}

// MockQueryService Mock 查询服务
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) PlayerStats(ctx context.Context, player string) (*service.PlayerStats, error) {
	args := m.Called(ctx, player)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PlayerStats), args.Error(1)
}

func (m *MockQueryService) EstimateFees(ctx context.Context, player string) (*service.FeeEstimate, error) {
	args := m.Called(ctx, player)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FeeEstimate), args.Error(1)
}

func (m *MockQueryService) OptimalNativeAmount(ctx context.Context) (*pricing.FeeQuote, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricing.FeeQuote), args.Error(1)
}

func (m *MockQueryService) ProviderStatus(ctx context.Context) (*service.ProviderStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProviderStatus), args.Error(1)
}

func (m *MockQueryService) OracleStatus() oracle.Status {
	return m.Called().Get(0).(oracle.Status)
}

func (m *MockQueryService) PaymentAssets(ctx context.Context) ([]*model.PaymentAsset, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PaymentAsset), args.Error(1)
}

// MockLedgerService Mock 账本服务
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Withdraw(ctx context.Context, player string, asset model.Asset) (*model.Withdrawal, error) {
	args := m.Called(ctx, player, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Withdrawal), args.Error(1)
}

func (m *MockLedgerService) Withdrawals(ctx context.Context, player string, page *repository.Pagination) ([]*model.Withdrawal, error) {
	args := m.Called(ctx, player, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Withdrawal), args.Error(1)
}

// MockCoinflipService Mock 猜硬币服务
type MockCoinflipService struct {
	mock.Mock
}

func (m *MockCoinflipService) CreateGame(ctx context.Context, req *service.CreateGameRequest) (*model.CoinflipGame, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CoinflipGame), args.Error(1)
}

func (m *MockCoinflipService) JoinGame(ctx context.Context, joiner, gameID string) (*model.CoinflipGame, error) {
	args := m.Called(ctx, joiner, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CoinflipGame), args.Error(1)
}

func (m *MockCoinflipService) CancelGame(ctx context.Context, creator, gameID string) (*model.CoinflipGame, error) {
	args := m.Called(ctx, creator, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CoinflipGame), args.Error(1)
}

func (m *MockCoinflipService) Game(ctx context.Context, gameID string) (*model.CoinflipGame, error) {
	args := m.Called(ctx, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CoinflipGame), args.Error(1)
}

func (m *MockCoinflipService) OpenGames(ctx context.Context, page *repository.Pagination) ([]*model.CoinflipGame, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CoinflipGame), args.Error(1)
}

// MockAdminService Mock 管理服务
type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) Authorize(caller string) error {
	return m.Called(caller).Error(0)
}

func (m *MockAdminService) SetVRFParams(ctx context.Context, caller string, params service.VRFParams) (*model.DeploymentState, error) {
	args := m.Called(ctx, caller, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeploymentState), args.Error(1)
}

func (m *MockAdminService) SetSlippageBounds(ctx context.Context, caller string, min, max int64) (*model.PricingState, error) {
	args := m.Called(ctx, caller, min, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PricingState), args.Error(1)
}

func (m *MockAdminService) SetFeeLimits(ctx context.Context, caller string, minNative, maxNative *big.Int) (*model.PricingState, error) {
	args := m.Called(ctx, caller, minNative, maxNative)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PricingState), args.Error(1)
}

func (m *MockAdminService) UpsertPaymentAsset(ctx context.Context, caller string, asset *model.PaymentAsset) (*model.PaymentAsset, error) {
	args := m.Called(ctx, caller, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentAsset), args.Error(1)
}

func (m *MockAdminService) SetPeer(ctx context.Context, caller string, chainID uint64, address string, enabled bool) (*model.PeerChain, error) {
	args := m.Called(ctx, caller, chainID, address, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PeerChain), args.Error(1)
}

func (m *MockAdminService) SetPaused(ctx context.Context, caller string, paused bool) error {
	return m.Called(ctx, caller, paused).Error(0)
}

func (m *MockAdminService) ForceRoundSync(ctx context.Context, caller string, roundID uint64) (uint64, error) {
	args := m.Called(ctx, caller, roundID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockAdminService) SettleRound(ctx context.Context, caller string, roundID uint64) (*model.Round, error) {
	args := m.Called(ctx, caller, roundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Round), args.Error(1)
}

func (m *MockAdminService) SweepExpiredEntries(ctx context.Context, caller string, limit int) (int, error) {
	args := m.Called(ctx, caller, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockAdminService) ProposeRecovery(ctx context.Context, caller string, asset model.Asset, target string, amount *big.Int) (*model.AdminAction, error) {
	args := m.Called(ctx, caller, asset, target, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AdminAction), args.Error(1)
}

func (m *MockAdminService) ExecuteRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error) {
	args := m.Called(ctx, caller, actionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AdminAction), args.Error(1)
}

func (m *MockAdminService) CancelRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error) {
	args := m.Called(ctx, caller, actionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AdminAction), args.Error(1)
}

// MockJobScheduler Mock 定时任务
type MockJobScheduler struct {
	mock.Mock
}

func (m *MockJobScheduler) ListJobStatus() []*scheduler.JobStatus {
	return m.Called().Get(0).([]*scheduler.JobStatus)
}

func (m *MockJobScheduler) TriggerJob(name string) error {
	return m.Called(name).Error(0)
}

// doJSON 发送请求并解析统一响应
func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, *Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, &resp
}
