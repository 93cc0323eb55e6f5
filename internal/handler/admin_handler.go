package handler

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/scheduler"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminService 管理服务接口
type AdminService interface {
	Authorize(caller string) error
	SetVRFParams(ctx context.Context, caller string, params service.VRFParams) (*model.DeploymentState, error)
	SetSlippageBounds(ctx context.Context, caller string, min, max int64) (*model.PricingState, error)
	SetFeeLimits(ctx context.Context, caller string, minNative, maxNative *big.Int) (*model.PricingState, error)
	UpsertPaymentAsset(ctx context.Context, caller string, asset *model.PaymentAsset) (*model.PaymentAsset, error)
	SetPeer(ctx context.Context, caller string, chainID uint64, address string, enabled bool) (*model.PeerChain, error)
	SetPaused(ctx context.Context, caller string, paused bool) error
	ForceRoundSync(ctx context.Context, caller string, roundID uint64) (uint64, error)
	SettleRound(ctx context.Context, caller string, roundID uint64) (*model.Round, error)
	SweepExpiredEntries(ctx context.Context, caller string, limit int) (int, error)
	ProposeRecovery(ctx context.Context, caller string, asset model.Asset, target string, amount *big.Int) (*model.AdminAction, error)
	ExecuteRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error)
	CancelRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error)
}

// JobScheduler 定时任务管理接口
type JobScheduler interface {
	ListJobStatus() []*scheduler.JobStatus
	TriggerJob(name string) error
}

// VRFParamsRequest 随机数参数
type VRFParamsRequest struct {
	CallbackGas   uint32 `json:"callback_gas" binding:"required"`
	Confirmations uint16 `json:"confirmations" binding:"required"`
	NumWords      uint32 `json:"num_words" binding:"required"`
}

// SlippageRequest 滑点上下限 (bps)
type SlippageRequest struct {
	MinBps int64 `json:"min_bps"`
	MaxBps int64 `json:"max_bps"`
}

// FeeLimitsRequest 原生币入场费上下限
type FeeLimitsRequest struct {
	MinNative string `json:"min_native" binding:"required"`
	MaxNative string `json:"max_native" binding:"required"`
}

// PaymentAssetRequest 替代支付资产配置
type PaymentAssetRequest struct {
	Symbol            string `json:"symbol" binding:"required"`
	TokenAddress      string `json:"token_address" binding:"required"`
	PoolAddress       string `json:"pool_address" binding:"required"`
	Decimals          uint8  `json:"decimals"`
	TokenIsToken0     bool   `json:"token_is_token0"`
	UpdateIntervalSec int    `json:"update_interval_sec"`
	MinLiquidity      string `json:"min_liquidity"`
	MaxChangeBps      int64  `json:"max_change_bps"`
	Enabled           bool   `json:"enabled"`
}

// PeerRequest 远端链配置
type PeerRequest struct {
	ChainID uint64 `json:"chain_id" binding:"required"`
	Address string `json:"address" binding:"required"`
	Enabled bool   `json:"enabled"`
}

// PauseRequest 暂停开关
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// RoundSyncRequest 轮次同步, 主链忽略 round_id
type RoundSyncRequest struct {
	RoundID uint64 `json:"round_id"`
}

// SweepRequest 清理批量
type SweepRequest struct {
	Limit int `json:"limit"`
}

// RecoveryRequest 紧急资金回收提案
type RecoveryRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Target string `json:"target" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// AdminHandler 管理处理器
type AdminHandler struct {
	svc       AdminService
	scheduler JobScheduler
}

// NewAdminHandler 创建管理处理器, 未启用调度器时 jobs 可为 nil
func NewAdminHandler(svc AdminService, jobs JobScheduler) *AdminHandler {
	return &AdminHandler{svc: svc, scheduler: jobs}
}

// SetVRFParams 更新随机数参数
// PUT /api/v1/admin/vrf
func (h *AdminHandler) SetVRFParams(c *gin.Context) {
	var req VRFParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	state, err := h.svc.SetVRFParams(c.Request.Context(), caller(c), service.VRFParams{
		CallbackGas:   req.CallbackGas,
		Confirmations: req.Confirmations,
		NumWords:      req.NumWords,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, state)
}

// SetSlippageBounds 更新滑点上下限
// PUT /api/v1/admin/slippage
func (h *AdminHandler) SetSlippageBounds(c *gin.Context) {
	var req SlippageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	state, err := h.svc.SetSlippageBounds(c.Request.Context(), caller(c), req.MinBps, req.MaxBps)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, state)
}

// SetFeeLimits 更新原生币入场费上下限
// PUT /api/v1/admin/fee-limits
func (h *AdminHandler) SetFeeLimits(c *gin.Context) {
	var req FeeLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	minNative, err := config.ParseAmount(req.MinNative)
	if err != nil {
		BadRequest(c, "min_native 无效")
		return
	}
	maxNative, err := config.ParseAmount(req.MaxNative)
	if err != nil {
		BadRequest(c, "max_native 无效")
		return
	}
	state, err := h.svc.SetFeeLimits(c.Request.Context(), caller(c), minNative, maxNative)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, state)
}

// UpsertPaymentAsset 新增或更新替代支付资产
// PUT /api/v1/admin/assets
func (h *AdminHandler) UpsertPaymentAsset(c *gin.Context) {
	var req PaymentAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	minLiquidity := decimal.Zero
	if req.MinLiquidity != "" {
		v, err := config.ParseAmount(req.MinLiquidity)
		if err != nil {
			BadRequest(c, "min_liquidity 无效")
			return
		}
		minLiquidity = decimal.NewFromBigInt(v, 0)
	}
	asset, err := h.svc.UpsertPaymentAsset(c.Request.Context(), caller(c), &model.PaymentAsset{
		Symbol:            req.Symbol,
		TokenAddress:      req.TokenAddress,
		PoolAddress:       req.PoolAddress,
		Decimals:          req.Decimals,
		TokenIsToken0:     req.TokenIsToken0,
		UpdateIntervalSec: req.UpdateIntervalSec,
		MinLiquidity:      minLiquidity,
		MaxChangeBps:      req.MaxChangeBps,
		Enabled:           req.Enabled,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, asset)
}

// SetPeer 配置远端链
// PUT /api/v1/admin/peers
func (h *AdminHandler) SetPeer(c *gin.Context) {
	var req PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	peer, err := h.svc.SetPeer(c.Request.Context(), caller(c), req.ChainID, req.Address, req.Enabled)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, peer)
}

// SetPaused 暂停或恢复参与
// PUT /api/v1/admin/pause
func (h *AdminHandler) SetPaused(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := h.svc.SetPaused(c.Request.Context(), caller(c), req.Paused); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"paused": req.Paused})
}

// ForceRoundSync 强制轮次同步
// POST /api/v1/admin/round-sync
func (h *AdminHandler) ForceRoundSync(c *gin.Context) {
	var req RoundSyncRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	id, err := h.svc.ForceRoundSync(c.Request.Context(), caller(c), req.RoundID)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"round_id": id})
}

// SettleRound 补完中断的轮次结算
// POST /api/v1/admin/rounds/:id/settle
func (h *AdminHandler) SettleRound(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "轮次号无效")
		return
	}
	round, err := h.svc.SettleRound(c.Request.Context(), caller(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, round)
}

// SweepExpired 清理过期待确认参与
// POST /api/v1/admin/sweep
func (h *AdminHandler) SweepExpired(c *gin.Context) {
	var req SweepRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	n, err := h.svc.SweepExpiredEntries(c.Request.Context(), caller(c), req.Limit)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"swept": n})
}

// ProposeRecovery 提交资金回收
// POST /api/v1/admin/recoveries
func (h *AdminHandler) ProposeRecovery(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	asset := model.Asset(strings.ToUpper(req.Asset))
	if !asset.Valid() {
		BadRequest(c, "资产类型无效")
		return
	}
	amount, err := config.ParseAmount(req.Amount)
	if err != nil {
		BadRequest(c, "amount 无效")
		return
	}
	action, err := h.svc.ProposeRecovery(c.Request.Context(), caller(c), asset, req.Target, amount)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, action)
}

// ExecuteRecovery 执行到期的资金回收
// POST /api/v1/admin/recoveries/:id/execute
func (h *AdminHandler) ExecuteRecovery(c *gin.Context) {
	action, err := h.svc.ExecuteRecovery(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, action)
}

// CancelRecovery 取消资金回收
// POST /api/v1/admin/recoveries/:id/cancel
func (h *AdminHandler) CancelRecovery(c *gin.Context) {
	action, err := h.svc.CancelRecovery(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, action)
}

// ListJobs 定时任务状态
// GET /api/v1/admin/jobs
func (h *AdminHandler) ListJobs(c *gin.Context) {
	if err := h.svc.Authorize(caller(c)); err != nil {
		Fail(c, err)
		return
	}
	if h.scheduler == nil {
		Success(c, []*scheduler.JobStatus{})
		return
	}
	Success(c, h.scheduler.ListJobStatus())
}

// TriggerJob 手动触发定时任务
// POST /api/v1/admin/jobs/:name/trigger
func (h *AdminHandler) TriggerJob(c *gin.Context) {
	if err := h.svc.Authorize(caller(c)); err != nil {
		Fail(c, err)
		return
	}
	if h.scheduler == nil {
		Fail(c, errors.ErrInvalidRequest.WithMessage("定时任务未启用"))
		return
	}
	name := c.Param("name")
	if err := h.scheduler.TriggerJob(name); err != nil {
		Fail(c, errors.ErrInvalidRequest.WithMessage("任务不存在: "+name))
		return
	}
	Success(c, gin.H{"job": name, "triggered": true})
}
