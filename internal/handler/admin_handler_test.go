package handler

import (
	"math/big"
	"net/http"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/middleware"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/scheduler"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const admin = "0x000000000000000000000000000000000000dEaD"

func setupAdminHandler(jobs JobScheduler) (*gin.Engine, *MockAdminService) {
	svc := new(MockAdminService)
	h := NewAdminHandler(svc, jobs)

	r := gin.New()
	g := r.Group("/admin", middleware.AdminCaller())
	g.PUT("/vrf", h.SetVRFParams)
	g.PUT("/slippage", h.SetSlippageBounds)
	g.PUT("/fee-limits", h.SetFeeLimits)
	g.PUT("/assets", h.UpsertPaymentAsset)
	g.PUT("/peers", h.SetPeer)
	g.PUT("/pause", h.SetPaused)
	g.POST("/round-sync", h.ForceRoundSync)
	g.POST("/rounds/:id/settle", h.SettleRound)
	g.POST("/sweep", h.SweepExpired)
	g.POST("/recoveries", h.ProposeRecovery)
	g.POST("/recoveries/:id/execute", h.ExecuteRecovery)
	g.POST("/recoveries/:id/cancel", h.CancelRecovery)
	g.GET("/jobs", h.ListJobs)
	g.POST("/jobs/:name/trigger", h.TriggerJob)
	return r, svc
}

func TestAdmin_CallerForwarded(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("SetVRFParams", mock.Anything, admin, service.VRFParams{CallbackGas: 200000, Confirmations: 3, NumWords: 2}).
		Return(&model.DeploymentState{}, nil)
	svc.On("SetPaused", mock.Anything, player, true).Return(errors.ErrUnauthorized)

	w, _ := doJSON(t, r, http.MethodPut, "/admin/vrf", map[string]int{
		"callback_gas":  200000,
		"confirmations": 3,
		"num_words":     2,
	}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := doJSON(t, r, http.MethodPut, "/admin/pause", map[string]bool{"paused": true}, middleware.AdminHeader, player)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.ErrUnauthorized.Code, resp.Code)
	svc.AssertExpectations(t)
}

func TestAdmin_PricingParams(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("SetSlippageBounds", mock.Anything, admin, int64(50), int64(300)).Return(&model.PricingState{}, nil)
	svc.On("SetFeeLimits", mock.Anything, admin, big.NewInt(10), big.NewInt(1000)).Return(&model.PricingState{}, nil)
	svc.On("UpsertPaymentAsset", mock.Anything, admin, mock.MatchedBy(func(a *model.PaymentAsset) bool {
		return a.Symbol == "USDC" && a.MinLiquidity.Equal(decimal.NewFromInt(5000)) && a.MaxChangeBps == 500
	})).Return(&model.PaymentAsset{Symbol: "USDC"}, nil)

	w, _ := doJSON(t, r, http.MethodPut, "/admin/slippage", map[string]int{"min_bps": 50, "max_bps": 300}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPut, "/admin/fee-limits", map[string]string{"min_native": "10", "max_native": "1000"}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPut, "/admin/fee-limits", map[string]string{"min_native": "10", "max_native": "-5"}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPut, "/admin/assets", map[string]interface{}{
		"symbol":         "USDC",
		"token_address":  player,
		"pool_address":   admin,
		"decimals":       6,
		"min_liquidity":  "5000",
		"max_change_bps": 500,
		"enabled":        true,
	}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestAdmin_PeerSyncSweep(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("SetPeer", mock.Anything, admin, uint64(137), player, true).Return(&model.PeerChain{ChainID: 137}, nil)
	svc.On("ForceRoundSync", mock.Anything, admin, uint64(0)).Return(uint64(12), nil)
	svc.On("SweepExpiredEntries", mock.Anything, admin, 100).Return(4, nil)

	w, _ := doJSON(t, r, http.MethodPut, "/admin/peers", map[string]interface{}{"chain_id": 137, "address": player, "enabled": true}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := doJSON(t, r, http.MethodPost, "/admin/round-sync", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(12), resp.Data.(map[string]interface{})["round_id"])

	w, resp = doJSON(t, r, http.MethodPost, "/admin/sweep", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), resp.Data.(map[string]interface{})["swept"])
	svc.AssertExpectations(t)
}

func TestAdmin_SettleRound(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("SettleRound", mock.Anything, admin, uint64(3)).
		Return(&model.Round{RoundID: 3, Status: model.RoundStatusCompleted}, nil)
	svc.On("SettleRound", mock.Anything, admin, uint64(4)).Return(nil, errors.ErrInvalidRoundState)

	w, _ := doJSON(t, r, http.MethodPost, "/admin/rounds/3/settle", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := doJSON(t, r, http.MethodPost, "/admin/rounds/4/settle", nil, middleware.AdminHeader, admin)
	assert.NotEqual(t, http.StatusOK, w.Code)
	assert.Equal(t, errors.ErrInvalidRoundState.Code, resp.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/admin/rounds/abc/settle", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestAdmin_Recovery(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("ProposeRecovery", mock.Anything, admin, model.AssetToken, player, big.NewInt(500)).
		Return(&model.AdminAction{ActionID: "a-1"}, nil)
	svc.On("ExecuteRecovery", mock.Anything, admin, "a-1").Return(nil, errors.ErrTimelockActive)
	svc.On("CancelRecovery", mock.Anything, admin, "a-1").Return(&model.AdminAction{ActionID: "a-1"}, nil)

	w, resp := doJSON(t, r, http.MethodPost, "/admin/recoveries", map[string]string{
		"asset": "token", "target": player, "amount": "500",
	}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a-1", resp.Data.(map[string]interface{})["action_id"])

	w, resp = doJSON(t, r, http.MethodPost, "/admin/recoveries/a-1/execute", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.ErrTimelockActive.Code, resp.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/admin/recoveries/a-1/cancel", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/admin/recoveries", map[string]string{
		"asset": "GOLD", "target": player, "amount": "500",
	}, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestAdmin_Jobs(t *testing.T) {
	jobs := new(MockJobScheduler)
	r, svc := setupAdminHandler(jobs)
	svc.On("Authorize", admin).Return(nil)
	jobs.On("ListJobStatus").Return([]*scheduler.JobStatus{{Name: scheduler.JobNameSweepPending}})
	jobs.On("TriggerJob", scheduler.JobNameRateRefresh).Return(nil)
	jobs.On("TriggerJob", "nope").Return(assert.AnError)

	w, resp := doJSON(t, r, http.MethodGet, "/admin/jobs", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = doJSON(t, r, http.MethodPost, "/admin/jobs/"+scheduler.JobNameRateRefresh+"/trigger", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = doJSON(t, r, http.MethodPost, "/admin/jobs/nope/trigger", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrInvalidRequest.Code, resp.Code)
	jobs.AssertExpectations(t)
}

func TestAdmin_JobsDisabled(t *testing.T) {
	r, svc := setupAdminHandler(nil)
	svc.On("Authorize", admin).Return(nil)
	svc.On("Authorize", player).Return(errors.ErrUnauthorized)

	w, _ := doJSON(t, r, http.MethodGet, "/admin/jobs", nil, middleware.AdminHeader, player)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/admin/jobs/x/trigger", nil, middleware.AdminHeader, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
