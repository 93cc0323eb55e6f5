// Package router 提供路由注册
package router

import (
	"github.com/eidos-exchange/eidos-lottery/internal/handler"
	"github.com/eidos-exchange/eidos-lottery/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由依赖的处理器, Coinflip 为空时不注册猜硬币路由
type Handlers struct {
	Health   *handler.HealthHandler
	Round    *handler.RoundHandler
	Player   *handler.PlayerHandler
	Coinflip *handler.CoinflipHandler
	Admin    *handler.AdminHandler
}

// Router 路由管理器
type Router struct {
	engine    *gin.Engine
	satellite bool
}

// New 创建路由管理器
func New(engine *gin.Engine, satellite bool) *Router {
	return &Router{engine: engine, satellite: satellite}
}

// RegisterMiddleware 注册全局中间件
func (r *Router) RegisterMiddleware() {
	// Recovery → Logger → Metrics
	r.engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(),
	)
}

// RegisterRoutes 注册路由
func (r *Router) RegisterRoutes(h *Handlers) {
	r.engine.GET("/health/live", h.Health.Live)
	r.engine.GET("/health/ready", h.Health.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/api/v1")

	rounds := v1.Group("/rounds")
	rounds.GET("", h.Round.ListRounds)
	rounds.GET("/current", h.Round.GetCurrentRound)
	rounds.GET("/:id", h.Round.GetRound)
	v1.POST("/entries", h.Round.Enter)
	if r.satellite {
		v1.GET("/pending-entries", h.Round.ListPendingEntries)
	}

	v1.GET("/players/:address", h.Player.GetPlayer)
	v1.GET("/players/:address/withdrawals", h.Player.ListWithdrawals)
	v1.POST("/withdrawals", h.Player.Withdraw)
	v1.GET("/fees/estimate", h.Player.EstimateFees)
	v1.GET("/fees/native", h.Player.GetNativeQuote)
	v1.GET("/provider", h.Player.GetProvider)
	v1.GET("/oracle", h.Player.GetOracle)
	v1.GET("/assets", h.Player.ListAssets)

	if h.Coinflip != nil {
		games := v1.Group("/coinflip/games")
		games.GET("", h.Coinflip.ListOpenGames)
		games.POST("", h.Coinflip.CreateGame)
		games.GET("/:id", h.Coinflip.GetGame)
		games.POST("/:id/join", h.Coinflip.JoinGame)
		games.POST("/:id/cancel", h.Coinflip.CancelGame)
	}

	admin := v1.Group("/admin", middleware.AdminCaller())
	admin.PUT("/vrf", h.Admin.SetVRFParams)
	admin.PUT("/slippage", h.Admin.SetSlippageBounds)
	admin.PUT("/fee-limits", h.Admin.SetFeeLimits)
	admin.PUT("/assets", h.Admin.UpsertPaymentAsset)
	admin.PUT("/peers", h.Admin.SetPeer)
	admin.PUT("/pause", h.Admin.SetPaused)
	admin.POST("/round-sync", h.Admin.ForceRoundSync)
	admin.POST("/rounds/:id/settle", h.Admin.SettleRound)
	admin.POST("/sweep", h.Admin.SweepExpired)
	admin.POST("/recoveries", h.Admin.ProposeRecovery)
	admin.POST("/recoveries/:id/execute", h.Admin.ExecuteRecovery)
	admin.POST("/recoveries/:id/cancel", h.Admin.CancelRecovery)
	admin.GET("/jobs", h.Admin.ListJobs)
	admin.POST("/jobs/:name/trigger", h.Admin.TriggerJob)
}
