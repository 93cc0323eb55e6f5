package handler

import (
	"context"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/gin-gonic/gin"
)

// QueryService 查询服务接口
type QueryService interface {
	PlayerStats(ctx context.Context, player string) (*service.PlayerStats, error)
	EstimateFees(ctx context.Context, player string) (*service.FeeEstimate, error)
	OptimalNativeAmount(ctx context.Context) (*pricing.FeeQuote, error)
	ProviderStatus(ctx context.Context) (*service.ProviderStatus, error)
	OracleStatus() oracle.Status
	PaymentAssets(ctx context.Context) ([]*model.PaymentAsset, error)
}

// LedgerService 待提取余额接口
type LedgerService interface {
	Withdraw(ctx context.Context, player string, asset model.Asset) (*model.Withdrawal, error)
	Withdrawals(ctx context.Context, player string, page *repository.Pagination) ([]*model.Withdrawal, error)
}

// WithdrawRequest 提取请求
type WithdrawRequest struct {
	Player string `json:"player" binding:"required"`
	Asset  string `json:"asset" binding:"required"` // TOKEN 或 NATIVE
}

// PlayerHandler 玩家与费用查询处理器
type PlayerHandler struct {
	queries QueryService
	ledger  LedgerService
}

// NewPlayerHandler 创建玩家处理器
func NewPlayerHandler(queries QueryService, ledger LedgerService) *PlayerHandler {
	return &PlayerHandler{queries: queries, ledger: ledger}
}

// GetPlayer 玩家统计
// GET /api/v1/players/:address
func (h *PlayerHandler) GetPlayer(c *gin.Context) {
	stats, err := h.queries.PlayerStats(c.Request.Context(), c.Param("address"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, stats)
}

// ListWithdrawals 玩家提取记录
// GET /api/v1/players/:address/withdrawals
func (h *PlayerHandler) ListWithdrawals(c *gin.Context) {
	page := parsePage(c)
	list, err := h.ledger.Withdrawals(c.Request.Context(), c.Param("address"), page)
	if err != nil {
		Fail(c, err)
		return
	}
	SuccessPaged(c, list, page)
}

// Withdraw 提取全部待提取余额
// POST /api/v1/withdrawals
func (h *PlayerHandler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	asset := model.Asset(strings.ToUpper(req.Asset))
	if !asset.Valid() {
		BadRequest(c, "资产类型无效")
		return
	}
	w, err := h.ledger.Withdraw(c.Request.Context(), req.Player, asset)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, w)
}

// EstimateFees 参与费用估算
// GET /api/v1/fees/estimate?player=
func (h *PlayerHandler) EstimateFees(c *gin.Context) {
	est, err := h.queries.EstimateFees(c.Request.Context(), c.Query("player"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, est)
}

// GetNativeQuote 原生币支付报价
// GET /api/v1/fees/native
func (h *PlayerHandler) GetNativeQuote(c *gin.Context) {
	quote, err := h.queries.OptimalNativeAmount(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, quote)
}

// GetProvider 随机数服务资金状态
// GET /api/v1/provider
func (h *PlayerHandler) GetProvider(c *gin.Context) {
	status, err := h.queries.ProviderStatus(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, status)
}

// GetOracle 预言机状态
// GET /api/v1/oracle
func (h *PlayerHandler) GetOracle(c *gin.Context) {
	Success(c, h.queries.OracleStatus())
}

// ListAssets 替代支付资产
// GET /api/v1/assets
func (h *PlayerHandler) ListAssets(c *gin.Context) {
	assets, err := h.queries.PaymentAssets(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, assets)
}
