package handler

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/gin-gonic/gin"
)

// RoundService 轮次服务接口
type RoundService interface {
	Enter(ctx context.Context, req *service.EnterRequest) (*service.EnterResult, error)
	CurrentRound(ctx context.Context) (*service.RoundSnapshot, error)
	Snapshot(ctx context.Context, roundID uint64) (*service.RoundSnapshot, error)
	ListRounds(ctx context.Context, page *repository.Pagination) ([]*model.Round, error)
}

// RemoteEntryService 卫星链跨链参与接口
type RemoteEntryService interface {
	EnterRemote(ctx context.Context, req *service.EnterRequest) (*service.RemoteEntryResult, error)
	PendingEntries(ctx context.Context, page *repository.Pagination) ([]*model.PendingEntry, error)
}

// EnterRequest 参与请求
type EnterRequest struct {
	Player      string `json:"player" binding:"required"`
	Method      string `json:"method"`       // TOKEN (默认) 或 NATIVE
	NativeValue string `json:"native_value"` // 最小单位十进制字符串, 从账本原生币余额扣减
	DepositTx   string `json:"deposit_tx"`   // 转入收款地址的入金交易哈希
}

// RoundHandler 轮次处理器
type RoundHandler struct {
	rounds    RoundService
	remote    RemoteEntryService
	satellite bool
}

// NewRoundHandler 创建轮次处理器, 卫星链部署的参与走跨链流程
func NewRoundHandler(rounds RoundService, remote RemoteEntryService, role string) *RoundHandler {
	return &RoundHandler{
		rounds:    rounds,
		remote:    remote,
		satellite: role == config.RoleSatellite,
	}
}

// GetCurrentRound 当前轮次
// GET /api/v1/rounds/current
func (h *RoundHandler) GetCurrentRound(c *gin.Context) {
	snap, err := h.rounds.CurrentRound(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, snap)
}

// GetRound 轮次详情
// GET /api/v1/rounds/:id
func (h *RoundHandler) GetRound(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "轮次号无效")
		return
	}
	snap, err := h.rounds.Snapshot(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, snap)
}

// ListRounds 轮次列表
// GET /api/v1/rounds
func (h *RoundHandler) ListRounds(c *gin.Context) {
	page := parsePage(c)
	rounds, err := h.rounds.ListRounds(c.Request.Context(), page)
	if err != nil {
		Fail(c, err)
		return
	}
	SuccessPaged(c, rounds, page)
}

// Enter 参与当前轮次
// POST /api/v1/entries
func (h *RoundHandler) Enter(c *gin.Context) {
	var req EnterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	method, ok := parseMethod(req.Method)
	if !ok {
		BadRequest(c, "支付方式无效")
		return
	}
	value := new(big.Int)
	if req.NativeValue != "" {
		v, err := config.ParseAmount(req.NativeValue)
		if err != nil {
			BadRequest(c, "native_value 无效")
			return
		}
		value = v
	}

	svcReq := &service.EnterRequest{Player: req.Player, Method: method, NativeValue: value, DepositTx: req.DepositTx}
	if h.satellite {
		result, err := h.remote.EnterRemote(c.Request.Context(), svcReq)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, result)
		return
	}
	result, err := h.rounds.Enter(c.Request.Context(), svcReq)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// ListPendingEntries 卫星链待确认的跨链参与
// GET /api/v1/pending-entries
func (h *RoundHandler) ListPendingEntries(c *gin.Context) {
	page := parsePage(c)
	entries, err := h.remote.PendingEntries(c.Request.Context(), page)
	if err != nil {
		Fail(c, err)
		return
	}
	SuccessPaged(c, entries, page)
}

func parseMethod(s string) (model.PaymentMethod, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", model.PaymentMethodToken.String():
		return model.PaymentMethodToken, true
	case model.PaymentMethodNative.String():
		return model.PaymentMethodNative, true
	}
	return 0, false
}
