package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageAdmin 滑点与原生币金额区间调整
type SlippageAdmin interface {
	SetBounds(ctx context.Context, min, max int64) (*model.PricingState, error)
	SetFeeLimits(ctx context.Context, minNative, maxNative decimal.Decimal) (*model.PricingState, error)
}

// AdminConfig 管理配置
type AdminConfig struct {
	ChainID   uint64
	Role      string
	Principal string
	Timelock  time.Duration
}

// AdminService 管理操作, 每个操作都校验调用方为配置的管理员
type AdminService struct {
	state      repository.StateRepository
	pricing    repository.PricingRepository
	tx         repository.TxManager
	slippage   SlippageAdmin
	rounds     *RoundService
	crosschain *CrossChainService
	transfer   Transferer
	serial     *Serializer

	cfg AdminConfig
	now func() time.Time
}

// NewAdminService 创建管理服务
func NewAdminService(
	state repository.StateRepository,
	pricing repository.PricingRepository,
	tx repository.TxManager,
	slippage SlippageAdmin,
	rounds *RoundService,
	crosschain *CrossChainService,
	transfer Transferer,
	serial *Serializer,
	cfg AdminConfig,
) *AdminService {
	return &AdminService{
		state:      state,
		pricing:    pricing,
		tx:         tx,
		slippage:   slippage,
		rounds:     rounds,
		crosschain: crosschain,
		transfer:   transfer,
		serial:     serial,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Authorize 校验管理员
func (s *AdminService) Authorize(caller string) error {
	if s.cfg.Principal == "" || !strings.EqualFold(caller, s.cfg.Principal) {
		return errors.ErrUnauthorized.WithDetail("caller", caller)
	}
	return nil
}

// SetVRFParams 调整随机数请求参数
func (s *AdminService) SetVRFParams(ctx context.Context, caller string, params VRFParams) (*model.DeploymentState, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	if params.CallbackGas == 0 || params.NumWords == 0 {
		return nil, errors.ErrInvalidRequest.WithMessage("callback_gas 与 num_words 必须为正")
	}
	var state *model.DeploymentState
	err := s.serial.Do(ctx, "set_vrf_params", func(ctx context.Context) error {
		var err error
		state, err = s.state.GetState(ctx, s.cfg.ChainID)
		if err != nil {
			return err
		}
		state.CallbackGas = params.CallbackGas
		state.Confirmations = params.Confirmations
		state.NumWords = params.NumWords
		return s.state.SaveState(ctx, state)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("vrf params updated",
		zap.String("caller", caller),
		zap.Uint32("callback_gas", params.CallbackGas),
		zap.Uint16("confirmations", params.Confirmations),
		zap.Uint32("num_words", params.NumWords))
	return state, nil
}

// SetSlippageBounds 调整滑点上下限
func (s *AdminService) SetSlippageBounds(ctx context.Context, caller string, min, max int64) (*model.PricingState, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	state, err := s.slippage.SetBounds(ctx, min, max)
	if err != nil {
		return nil, errors.ErrInvalidRequest.WithMessage(err.Error())
	}
	logger.Info("slippage bounds updated", zap.String("caller", caller), zap.Int64("min", min), zap.Int64("max", max))
	return state, nil
}

// SetFeeLimits 调整原生币支付金额区间
func (s *AdminService) SetFeeLimits(ctx context.Context, caller string, minNative, maxNative *big.Int) (*model.PricingState, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	if minNative == nil || maxNative == nil {
		return nil, errors.ErrInvalidRequest.WithMessage("缺少金额区间")
	}
	state, err := s.slippage.SetFeeLimits(ctx, decimal.NewFromBigInt(minNative, 0), decimal.NewFromBigInt(maxNative, 0))
	if err != nil {
		return nil, errors.ErrInvalidRequest.WithMessage(err.Error())
	}
	logger.Info("native fee limits updated",
		zap.String("caller", caller),
		logger.BigInt("min", minNative),
		logger.BigInt("max", maxNative))
	return state, nil
}

// UpsertPaymentAsset 配置替代支付资产
func (s *AdminService) UpsertPaymentAsset(ctx context.Context, caller string, asset *model.PaymentAsset) (*model.PaymentAsset, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
	if asset.Symbol == "" || asset.Symbol == NativeFeeAsset {
		return nil, errors.ErrInvalidRequest.WithMessage("资产符号无效")
	}
	var err error
	if asset.TokenAddress, err = normalizeAddress(asset.TokenAddress); err != nil {
		return nil, err
	}
	if asset.PoolAddress, err = normalizeAddress(asset.PoolAddress); err != nil {
		return nil, err
	}
	if asset.MaxChangeBps <= 0 || asset.MaxChangeBps > 10000 {
		return nil, errors.ErrInvalidRequest.WithMessage("max_change_bps 需在 (0, 10000] 之间")
	}
	if asset.UpdateIntervalSec <= 0 {
		asset.UpdateIntervalSec = 300
	}
	if err := s.pricing.UpsertAsset(ctx, asset); err != nil {
		return nil, err
	}
	logger.Info("payment asset configured",
		zap.String("caller", caller),
		zap.String("symbol", asset.Symbol),
		zap.String("token", asset.TokenAddress),
		zap.Bool("enabled", asset.Enabled))
	return asset, nil
}

// SetPeer 配置远端链部署与白名单
func (s *AdminService) SetPeer(ctx context.Context, caller string, chainID uint64, address string, enabled bool) (*model.PeerChain, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	if chainID == 0 || chainID == s.cfg.ChainID {
		return nil, errors.ErrInvalidRequest.WithMessage("远端链 ID 无效")
	}
	addr, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	peer := &model.PeerChain{ChainID: chainID, Address: addr, Enabled: enabled}
	if err := s.state.UpsertPeer(ctx, peer); err != nil {
		return nil, err
	}
	logger.Info("peer chain configured",
		zap.String("caller", caller),
		logger.ChainID(chainID),
		zap.String("address", addr),
		zap.Bool("enabled", enabled))
	return peer, nil
}

// SetPaused 暂停或恢复参与
func (s *AdminService) SetPaused(ctx context.Context, caller string, paused bool) error {
	if err := s.Authorize(caller); err != nil {
		return err
	}
	err := s.serial.Do(ctx, "set_paused", func(ctx context.Context) error {
		state, err := s.state.GetState(ctx, s.cfg.ChainID)
		if err != nil {
			return err
		}
		state.Paused = paused
		return s.state.SaveState(ctx, state)
	})
	if err != nil {
		return err
	}
	logger.Info("entry acceptance updated", zap.String("caller", caller), zap.Bool("paused", paused))
	return nil
}

// ForceRoundSync 主链广播当前轮次号; 卫星链直接采用给定轮次号 (只进不退)
func (s *AdminService) ForceRoundSync(ctx context.Context, caller string, roundID uint64) (uint64, error) {
	if err := s.Authorize(caller); err != nil {
		return 0, err
	}
	if s.cfg.Role == config.RoleMain {
		return s.crosschain.BroadcastRoundSync(ctx)
	}
	err := s.serial.Do(ctx, "force_round_sync", func(ctx context.Context) error {
		_, err := s.rounds.SyncToRound(ctx, roundID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return s.rounds.CurrentRoundID(ctx)
}

// SettleRound 手动补完中断的结算 (开奖已写入但未完成)
func (s *AdminService) SettleRound(ctx context.Context, caller string, roundID uint64) (*model.Round, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	round, err := s.rounds.SettleRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	logger.Info("round settled by admin",
		logger.RoundID(roundID),
		zap.String("caller", checksum(caller)))
	return round, nil
}

// SweepExpiredEntries 批量清理过期的待确认参与
func (s *AdminService) SweepExpiredEntries(ctx context.Context, caller string, limit int) (int, error) {
	if err := s.Authorize(caller); err != nil {
		return 0, err
	}
	return s.crosschain.SweepExpired(ctx, limit)
}

// ProposeRecovery 提交紧急资金回收, 时间锁到期后方可执行
func (s *AdminService) ProposeRecovery(ctx context.Context, caller string, asset model.Asset, target string, amount *big.Int) (*model.AdminAction, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	if !asset.Valid() {
		return nil, errors.ErrInvalidRequest.WithMessagef("未知资产 %s", asset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.ErrInvalidRequest.WithMessage("回收金额必须为正")
	}
	to, err := normalizeAddress(target)
	if err != nil {
		return nil, err
	}
	action := &model.AdminAction{
		ActionID:   uuid.New().String(),
		Asset:      asset,
		Target:     to,
		Amount:     decimal.NewFromBigInt(amount, 0),
		ETA:        s.now().Add(s.cfg.Timelock).UnixMilli(),
		Status:     model.AdminActionStatusQueued,
		ProposedBy: checksum(caller),
	}
	if err := s.state.CreateAdminAction(ctx, action); err != nil {
		return nil, err
	}
	logger.Warn("fund recovery proposed",
		zap.String("action_id", action.ActionID),
		zap.String("target", to),
		logger.BigInt("amount", amount),
		zap.Time("eta", time.UnixMilli(action.ETA)))
	return action, nil
}

// ExecuteRecovery 执行到期的资金回收
func (s *AdminService) ExecuteRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	var action *model.AdminAction
	err := s.serial.Do(ctx, "execute_recovery", func(ctx context.Context) error {
		var err error
		action, err = s.queuedAction(ctx, actionID)
		if err != nil {
			return err
		}
		if s.now().UnixMilli() < action.ETA {
			return errors.ErrTimelockActive.WithMessagef("时间锁于 %s 到期", time.UnixMilli(action.ETA).Format(time.RFC3339))
		}
		txHash, err := s.transfer.Transfer(ctx, action.Asset, action.Target, action.Amount.BigInt())
		if err != nil {
			return errors.Wrap(errors.ErrTransferFailed, err)
		}
		action.Status = model.AdminActionStatusExecuted
		action.TxHash = txHash
		action.ExecutedAt = s.now().UnixMilli()
		return s.state.UpdateAdminAction(ctx, action)
	})
	if err != nil {
		return nil, err
	}
	logger.Warn("fund recovery executed",
		zap.String("action_id", actionID),
		zap.String("target", action.Target),
		zap.String("tx_hash", action.TxHash))
	return action, nil
}

// CancelRecovery 取消未执行的资金回收
func (s *AdminService) CancelRecovery(ctx context.Context, caller, actionID string) (*model.AdminAction, error) {
	if err := s.Authorize(caller); err != nil {
		return nil, err
	}
	action, err := s.queuedAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	action.Status = model.AdminActionStatusCancelled
	if err := s.state.UpdateAdminAction(ctx, action); err != nil {
		return nil, err
	}
	logger.Info("fund recovery cancelled", zap.String("action_id", actionID))
	return action, nil
}

func (s *AdminService) queuedAction(ctx context.Context, actionID string) (*model.AdminAction, error) {
	action, err := s.state.GetAdminAction(ctx, actionID)
	if stderrors.Is(err, repository.ErrAdminActionNotFound) {
		return nil, errors.ErrInvalidRequest.WithMessagef("管理操作 %s 不存在", actionID)
	}
	if err != nil {
		return nil, err
	}
	if action.Status != model.AdminActionStatusQueued {
		return nil, errors.ErrInvalidRequest.WithMessagef("管理操作状态为 %s", action.Status)
	}
	return action, nil
}
