package handler

import (
	"context"
	"math/big"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/gin-gonic/gin"
)

// CoinflipService 猜硬币服务接口
type CoinflipService interface {
	CreateGame(ctx context.Context, req *service.CreateGameRequest) (*model.CoinflipGame, error)
	JoinGame(ctx context.Context, joiner, gameID string) (*model.CoinflipGame, error)
	CancelGame(ctx context.Context, creator, gameID string) (*model.CoinflipGame, error)
	Game(ctx context.Context, gameID string) (*model.CoinflipGame, error)
	OpenGames(ctx context.Context, page *repository.Pagination) ([]*model.CoinflipGame, error)
}

// CreateGameRequest 创建对局请求
type CreateGameRequest struct {
	Creator     string `json:"creator" binding:"required"`
	Stake       string `json:"stake" binding:"required"`
	Side        string `json:"side" binding:"required"` // HEADS 或 TAILS
	FeeAsset    string `json:"fee_asset"`
	NativeValue string `json:"native_value"`
	DepositTx   string `json:"deposit_tx"`
}

// PlayerRequest 加入或取消对局请求
type PlayerRequest struct {
	Player string `json:"player" binding:"required"`
}

// CoinflipHandler 猜硬币处理器
type CoinflipHandler struct {
	svc CoinflipService
}

// NewCoinflipHandler 创建猜硬币处理器
func NewCoinflipHandler(svc CoinflipService) *CoinflipHandler {
	return &CoinflipHandler{svc: svc}
}

// CreateGame 创建对局
// POST /api/v1/coinflip/games
func (h *CoinflipHandler) CreateGame(c *gin.Context) {
	var req CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	stake, err := config.ParseAmount(req.Stake)
	if err != nil {
		BadRequest(c, "stake 无效")
		return
	}
	var side model.CoinSide
	switch strings.ToUpper(req.Side) {
	case model.CoinSideHeads.String():
		side = model.CoinSideHeads
	case model.CoinSideTails.String():
		side = model.CoinSideTails
	default:
		BadRequest(c, "side 无效")
		return
	}
	value := new(big.Int)
	if req.NativeValue != "" {
		if value, err = config.ParseAmount(req.NativeValue); err != nil {
			BadRequest(c, "native_value 无效")
			return
		}
	}

	game, err := h.svc.CreateGame(c.Request.Context(), &service.CreateGameRequest{
		Creator:     req.Creator,
		Stake:       stake,
		Side:        side,
		FeeAsset:    req.FeeAsset,
		NativeValue: value,
		DepositTx:   req.DepositTx,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, game)
}

// JoinGame 加入对局
// POST /api/v1/coinflip/games/:id/join
func (h *CoinflipHandler) JoinGame(c *gin.Context) {
	var req PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	game, err := h.svc.JoinGame(c.Request.Context(), req.Player, c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, game)
}

// CancelGame 取消对局
// POST /api/v1/coinflip/games/:id/cancel
func (h *CoinflipHandler) CancelGame(c *gin.Context) {
	var req PlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	game, err := h.svc.CancelGame(c.Request.Context(), req.Player, c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, game)
}

// GetGame 对局详情
// GET /api/v1/coinflip/games/:id
func (h *CoinflipHandler) GetGame(c *gin.Context) {
	game, err := h.svc.Game(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, game)
}

// ListOpenGames 等待加入的对局
// GET /api/v1/coinflip/games
func (h *CoinflipHandler) ListOpenGames(c *gin.Context) {
	page := parsePage(c)
	games, err := h.svc.OpenGames(c.Request.Context(), page)
	if err != nil {
		Fail(c, err)
		return
	}
	SuccessPaged(c, games, page)
}
