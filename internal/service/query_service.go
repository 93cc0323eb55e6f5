package service

import (
	"context"
	"math/big"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
)

// OracleHealth 预言机健康状态
type OracleHealth interface {
	Status() oracle.Status
}

// AssetLister 支持的替代支付资产
type AssetLister interface {
	List(ctx context.Context) ([]*model.PaymentAsset, error)
}

// QueryService 只读查询
type QueryService struct {
	rounds     *RoundService
	crosschain *CrossChainService
	ledger     *LedgerService
	fees       FeeQuoter
	oracle     OracleHealth
	assets     AssetLister
}

// NewQueryService 创建查询服务
func NewQueryService(rounds *RoundService, crosschain *CrossChainService, ledger *LedgerService, fees FeeQuoter, oracle OracleHealth, assets AssetLister) *QueryService {
	return &QueryService{
		rounds:     rounds,
		crosschain: crosschain,
		ledger:     ledger,
		fees:       fees,
		oracle:     oracle,
		assets:     assets,
	}
}

// PlayerStats 玩家统计
type PlayerStats struct {
	Account         *model.PlayerAccount `json:"account"`
	HasPendingEntry bool                 `json:"has_pending_entry"`
	PendingEntry    *model.PendingEntry  `json:"pending_entry,omitempty"`
}

// PlayerStats 玩家累计中奖、参与次数、积分、待提取余额与跨链待确认状态
func (s *QueryService) PlayerStats(ctx context.Context, player string) (*PlayerStats, error) {
	player, err := normalizeAddress(player)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.Account(ctx, player)
	if err != nil {
		return nil, err
	}
	pending, err := s.crosschain.PendingEntry(ctx, player)
	if err != nil {
		return nil, err
	}
	return &PlayerStats{
		Account:         account,
		HasPendingEntry: pending != nil,
		PendingEntry:    pending,
	}, nil
}

// FeeEstimate 参与费用估算
type FeeEstimate struct {
	EntryFee          *big.Int          `json:"entry_fee"`
	MessagingFee      *big.Int          `json:"messaging_fee"`
	Quote             *pricing.FeeQuote `json:"quote,omitempty"`
	RecommendedNative *big.Int          `json:"recommended_native,omitempty"` // 原生币支付时建议附带的总额
	NativeUnavailable string            `json:"native_unavailable,omitempty"`
}

// EstimateFees 入场费 + 消息费 + 建议原生币总额
// 报价不可用时仍返回代币支付所需, 并给出原因
func (s *QueryService) EstimateFees(ctx context.Context, player string) (*FeeEstimate, error) {
	msgFee, err := s.crosschain.EstimateMessagingFee(ctx, player)
	if err != nil {
		return nil, err
	}
	est := &FeeEstimate{
		EntryFee:     s.fees.EntryFee(),
		MessagingFee: msgFee,
	}
	quote, err := s.fees.Quote(ctx)
	if err != nil {
		est.NativeUnavailable = err.Error()
		return est, nil
	}
	est.Quote = quote
	est.RecommendedNative = new(big.Int).Add(quote.RequiredNative, msgFee)
	return est, nil
}

// OptimalNativeAmount 当前预言机状态下原生币支付所需金额
func (s *QueryService) OptimalNativeAmount(ctx context.Context) (*pricing.FeeQuote, error) {
	return s.fees.Quote(ctx)
}

// ProviderStatus 随机数服务资金状态
func (s *QueryService) ProviderStatus(ctx context.Context) (*ProviderStatus, error) {
	return s.rounds.ProviderFunding(ctx)
}

// OracleStatus 预言机健康状态
func (s *QueryService) OracleStatus() oracle.Status {
	return s.oracle.Status()
}

// PaymentAssets 支持的替代支付资产
func (s *QueryService) PaymentAssets(ctx context.Context) ([]*model.PaymentAsset, error) {
	return s.assets.List(ctx)
}
