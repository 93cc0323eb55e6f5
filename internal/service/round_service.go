package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/crosschain"
	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errIgnored 异步回调命中过期或重复状态, 回滚事务但不向调用方报错
var errIgnored = stderrors.New("ignored")

// RoundConfig 轮次服务配置
type RoundConfig struct {
	ChainID            uint64
	Role               string
	Capacity           int
	EntryFee           *big.Int
	Shares             Shares
	DevAddress         string
	FundingAddresses   []string
	BurnAddress        string
	PointsPerEntry     int64
	MinProviderBalance *big.Int
}

// RoundNotifier 轮次完成通知 (主链向卫星链广播)
type RoundNotifier interface {
	RoundCompleted(ctx context.Context, round *model.Round, stats []*model.RoundChainStat)
}

// RoundDeps 轮次服务依赖
type RoundDeps struct {
	Rounds     repository.RoundRepository
	Randomness repository.RandomnessRepository
	State      repository.StateRepository
	Tx         repository.TxManager
	Ledger     *LedgerService
	Funds      *NativeFunds
	Fees       FeeQuoter
	Slippage   SlippageRecorder
	Swapper    Swapper
	Tokens     TokenCollector
	Credential CredentialChecker
	Provider   RandomnessProvider
	Serial     *Serializer
	Limiter    *RateLimiter
}

// RoundService 轮次状态机
//
//	Active -> Full -> RandomnessRequested -> WinnersSelected -> PrizesDistributed -> Completed
//
// Completed 时同一事务内开启下一轮 Active, 任意时刻只有一个当前轮次
type RoundService struct {
	rounds     repository.RoundRepository
	randomness repository.RandomnessRepository
	state      repository.StateRepository
	tx         repository.TxManager
	ledger     *LedgerService
	funds      *NativeFunds
	fees       FeeQuoter
	slippage   SlippageRecorder
	swapper    Swapper
	tokens     TokenCollector
	credential CredentialChecker
	provider   RandomnessProvider
	serial     *Serializer
	limiter    *RateLimiter
	notifier   RoundNotifier

	cfg RoundConfig
}

// NewRoundService 创建轮次服务
func NewRoundService(deps RoundDeps, cfg RoundConfig) *RoundService {
	if cfg.EntryFee == nil {
		cfg.EntryFee = new(big.Int)
	}
	if cfg.MinProviderBalance == nil {
		cfg.MinProviderBalance = new(big.Int)
	}
	cfg.DevAddress = checksum(cfg.DevAddress)
	cfg.BurnAddress = checksum(cfg.BurnAddress)
	funding := make([]string, len(cfg.FundingAddresses))
	for i, a := range cfg.FundingAddresses {
		funding[i] = checksum(a)
	}
	cfg.FundingAddresses = funding
	return &RoundService{
		rounds:     deps.Rounds,
		randomness: deps.Randomness,
		state:      deps.State,
		tx:         deps.Tx,
		ledger:     deps.Ledger,
		funds:      deps.Funds,
		fees:       deps.Fees,
		slippage:   deps.Slippage,
		swapper:    deps.Swapper,
		tokens:     deps.Tokens,
		credential: deps.Credential,
		provider:   deps.Provider,
		serial:     deps.Serial,
		limiter:    deps.Limiter,
		cfg:        cfg,
	}
}

// SetNotifier 设置轮次完成通知
func (s *RoundService) SetNotifier(n RoundNotifier) {
	s.notifier = n
}

func (s *RoundService) isMain() bool {
	return s.cfg.Role == config.RoleMain
}

// EnsureInitialized 初始化部署状态与当前轮次
func (s *RoundService) EnsureInitialized(ctx context.Context, vrf VRFParams) (*model.DeploymentState, error) {
	var state *model.DeploymentState
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		state, err = s.state.GetState(ctx, s.cfg.ChainID)
		if stderrors.Is(err, repository.ErrStateNotFound) {
			state = &model.DeploymentState{
				ChainID:        s.cfg.ChainID,
				CurrentRoundID: 1,
				CallbackGas:    vrf.CallbackGas,
				Confirmations:  vrf.Confirmations,
				NumWords:       vrf.NumWords,
			}
			if err := s.state.SaveState(ctx, state); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		_, err = s.ensureRound(ctx, state.CurrentRoundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.CurrentRoundGauge.Set(float64(state.CurrentRoundID))
	return state, nil
}

// EnterRequest 本链参与请求
type EnterRequest struct {
	Player      string              `json:"player"`
	Method      model.PaymentMethod `json:"method"`
	NativeValue *big.Int            `json:"native_value"` // 从账本原生币余额中支付的金额, 为空时按所需最低金额扣减
	DepositTx   string              `json:"deposit_tx"`   // 转入收款地址的入金交易, 非空时以交易金额支付
}

// EnterResult 参与结果
type EnterResult struct {
	RoundID        uint64   `json:"round_id"`
	Position       int      `json:"position"`
	Full           bool     `json:"full"`
	NativeUsed     *big.Int `json:"native_used,omitempty"`
	NativeRefunded *big.Int `json:"native_refunded,omitempty"` // 已记入待提取余额
}

// payment 已收取的入场费
type payment struct {
	method      model.PaymentMethod
	fee         *big.Int
	nativeValue *big.Int
	nativeUsed  *big.Int
	refund      *big.Int
}

// Enter 主链本地参与
// 前置条件不满足时不收费、不改变状态; 付款后入账失败时通过账本补偿退款
func (s *RoundService) Enter(ctx context.Context, req *EnterRequest) (*EnterResult, error) {
	if !s.isMain() {
		return nil, errors.ErrWrongRole.WithMessage("卫星链请使用跨链参与")
	}
	player, err := normalizeAddress(req.Player)
	if err != nil {
		return nil, err
	}

	var result *EnterResult
	err = s.serial.Do(ctx, "enter", func(ctx context.Context) error {
		round, err := s.checkAdmission(ctx, player)
		if err != nil {
			return err
		}
		if err := s.limiter.Check(ctx, player); err != nil {
			return err
		}

		paid, err := s.collectPayment(ctx, player, req, nil)
		if err != nil {
			return err
		}

		var entry *model.RoundEntry
		var full bool
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			var err error
			_, entry, full, err = s.admit(ctx, admission{
				roundID:     round.RoundID,
				player:      player,
				sourceChain: s.cfg.ChainID,
				method:      paid.method,
				amount:      paid.fee,
			})
			if err != nil {
				return err
			}
			return s.ledger.Credit(ctx, player, model.AssetNative, paid.refund)
		})
		if err != nil {
			s.compensate(ctx, player, paid, err)
			return err
		}

		s.limiter.Record(ctx, player)
		metrics.RecordEntry(paid.method.String(), "local")
		logger.Info("player entered round",
			logger.RoundID(round.RoundID),
			logger.Player(player),
			zap.Int("position", entry.Position),
			zap.String("method", paid.method.String()),
			zap.Bool("full", full))

		result = &EnterResult{
			RoundID:        round.RoundID,
			Position:       entry.Position,
			Full:           full,
			NativeUsed:     paid.nativeUsed,
			NativeRefunded: paid.refund,
		}
		if full {
			s.tryRequestRandomness(ctx, round.RoundID)
		}
		return nil
	})
	if err != nil {
		metrics.RecordEntryRejected(errors.GetCode(err))
		return nil, err
	}
	return result, nil
}

// checkAdmission 参与前置条件, 不改变任何状态
func (s *RoundService) checkAdmission(ctx context.Context, player string) (*model.Round, error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return nil, err
	}
	if state.Paused {
		return nil, errors.ErrEntriesPaused
	}

	round, err := s.rounds.GetByRoundID(ctx, state.CurrentRoundID, nil)
	if err != nil {
		return nil, err
	}
	if _, err := s.rounds.GetEntry(ctx, round.RoundID, player); err == nil {
		return nil, errors.ErrDuplicateEntry.WithDetail("player", player)
	} else if !stderrors.Is(err, repository.ErrEntryNotFound) {
		return nil, err
	}
	if !round.Mirror && round.IsFull() {
		return nil, errors.ErrRoundFull.WithMessagef("第 %d 轮已满 (%d/%d)", round.RoundID, round.PlayerCount, round.Capacity)
	}
	if !round.Status.AcceptsEntries() {
		return nil, errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s", round.RoundID, round.Status)
	}

	if err := s.checkCredential(ctx, player); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *RoundService) checkCredential(ctx context.Context, player string) error {
	if s.credential == nil {
		return nil
	}
	count, err := s.credential.BalanceOf(ctx, common.HexToAddress(player))
	if err != nil {
		return errors.Wrap(errors.ErrCredentialLookup, err)
	}
	if count.Sign() <= 0 {
		return errors.ErrCredentialRequired.WithDetail("player", player)
	}
	return nil
}

// collectPayment 收取入场费, overhead 为入场费之外需要的原生币 (跨链消息费)
// 原生币支付: 报价 -> 收取原生币 -> 兑换 -> 多余部分作为 refund 返回; 兑换失败时全额退回账本
// 代币支付: overhead 大于 0 时先收取原生币, 代币划转失败时退回账本
func (s *RoundService) collectPayment(ctx context.Context, player string, req *EnterRequest, overhead *big.Int) (*payment, error) {
	if overhead == nil {
		overhead = new(big.Int)
	}
	fee := new(big.Int).Set(s.cfg.EntryFee)
	switch req.Method {
	case model.PaymentMethodToken:
		value := new(big.Int)
		if overhead.Sign() > 0 {
			var err error
			if value, err = s.takeNative(ctx, player, req, overhead); err != nil {
				return nil, err
			}
		}
		if err := s.tokens.CollectFrom(ctx, player, fee); err != nil {
			s.funds.Refund(ctx, player, value, "token collection failed")
			return nil, asPaymentError(err)
		}
		return &payment{method: req.Method, fee: fee, nativeValue: value, nativeUsed: new(big.Int), refund: new(big.Int).Set(value)}, nil

	case model.PaymentMethodNative:
		quote, err := s.fees.Quote(ctx)
		if err != nil {
			return nil, err
		}
		value, err := s.takeNative(ctx, player, req, new(big.Int).Add(quote.RequiredNative, overhead))
		if err != nil {
			return nil, err
		}

		res, err := s.swapper.SwapNativeForFixedToken(ctx, fee, quote.RequiredNative)
		if err != nil {
			s.recordSwap(ctx, false)
			s.funds.Refund(ctx, player, value, "swap failed")
			return nil, err
		}
		s.recordSwap(ctx, true)
		return &payment{
			method:      req.Method,
			fee:         fee,
			nativeValue: value,
			nativeUsed:  res.NativeUsed,
			refund:      new(big.Int).Sub(value, res.NativeUsed),
		}, nil
	}
	return nil, errors.ErrInvalidRequest.WithMessagef("未知支付方式 %d", req.Method)
}

// takeNative 收取至少 need 的原生币, 不足时退回已收取部分
func (s *RoundService) takeNative(ctx context.Context, player string, req *EnterRequest, need *big.Int) (*big.Int, error) {
	if s.funds == nil {
		return nil, errors.ErrInsufficientPayment.WithMessage("未启用原生币支付")
	}
	amount := need
	if req.NativeValue != nil && req.NativeValue.Sign() > 0 {
		amount = req.NativeValue
	}
	if req.DepositTx == "" && amount.Cmp(need) < 0 {
		return nil, errors.ErrInsufficientPayment.WithMessagef("需要 %s, 实际 %s", need, amount)
	}
	value, err := s.funds.Take(ctx, player, req.DepositTx, amount, PurposeLotteryEntry)
	if err != nil {
		return nil, err
	}
	if value.Cmp(need) < 0 {
		s.funds.Refund(ctx, player, value, "insufficient native payment")
		return nil, errors.ErrInsufficientPayment.WithMessagef("需要 %s, 实际 %s", need, value)
	}
	return value, nil
}

func asPaymentError(err error) error {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		return err
	}
	return errors.Wrap(errors.ErrInsufficientPayment, err)
}

func (s *RoundService) recordSwap(ctx context.Context, success bool) {
	if s.slippage == nil {
		return
	}
	if _, err := s.slippage.RecordSwap(ctx, success); err != nil {
		logger.Warn("record swap outcome failed", zap.Bool("success", success), zap.Error(err))
	}
}

// compensate 已收款但入账失败, 退回账本
func (s *RoundService) compensate(ctx context.Context, player string, paid *payment, cause error) {
	logger.Warn("admission failed after payment, refunding to ledger",
		logger.Player(player),
		logger.BigInt("fee", paid.fee),
		zap.Error(cause))
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.ledger.Credit(ctx, player, model.AssetToken, paid.fee); err != nil {
			return err
		}
		return s.ledger.Credit(ctx, player, model.AssetNative, paid.refund)
	})
	if err != nil {
		logger.Error("compensating refund failed", logger.Player(player), zap.Error(err))
	}
}

// admission 入账参数
type admission struct {
	roundID     uint64
	player      string
	sourceChain uint64
	method      model.PaymentMethod
	amount      *big.Int
	crossChain  bool
	provisional bool
}

// admit 写入参与记录并更新奖池与分链统计, 调用方负责事务
func (s *RoundService) admit(ctx context.Context, a admission) (*model.Round, *model.RoundEntry, bool, error) {
	round, err := s.rounds.GetByRoundID(ctx, a.roundID, repository.ForUpdate)
	if err != nil {
		return nil, nil, false, err
	}
	if !round.Status.AcceptsEntries() {
		return nil, nil, false, errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s", round.RoundID, round.Status)
	}
	if !round.Mirror && round.IsFull() {
		return nil, nil, false, errors.ErrRoundFull
	}
	if _, err := s.rounds.GetEntry(ctx, round.RoundID, a.player); err == nil {
		return nil, nil, false, errors.ErrDuplicateEntry.WithDetail("player", a.player)
	} else if !stderrors.Is(err, repository.ErrEntryNotFound) {
		return nil, nil, false, err
	}

	pos, err := s.rounds.NextPosition(ctx, round.RoundID)
	if err != nil {
		return nil, nil, false, err
	}
	amount := decimal.NewFromBigInt(a.amount, 0)
	entry := &model.RoundEntry{
		RoundID:       round.RoundID,
		Player:        a.player,
		Position:      pos,
		SourceChainID: a.sourceChain,
		Method:        a.method,
		ViaCrossChain: a.crossChain,
		Amount:        amount,
		Provisional:   a.provisional,
	}
	if err := s.rounds.CreateEntry(ctx, entry); err != nil {
		return nil, nil, false, err
	}
	if err := s.rounds.AdjustChainStat(ctx, round.RoundID, a.sourceChain, 1, amount); err != nil {
		return nil, nil, false, err
	}
	if !a.provisional {
		if err := s.ledger.RecordEntry(ctx, a.player, s.cfg.PointsPerEntry); err != nil {
			return nil, nil, false, err
		}
	}

	round.PlayerCount++
	round.TotalPool = round.TotalPool.Add(amount)
	full := false
	if !round.Mirror && round.IsFull() {
		round.Status = model.RoundStatusFull
		round.FullAt = nowMillis()
		full = true
	}
	if err := s.rounds.Update(ctx, round); err != nil {
		return nil, nil, false, err
	}

	metrics.RoundPlayersGauge.Set(float64(round.PlayerCount))
	if full {
		metrics.RecordRoundTransition(model.RoundStatusFull.String())
	}
	return round, entry, full, nil
}

// removeEntry 撤销参与记录并回退奖池与分链统计, 调用方负责事务
func (s *RoundService) removeEntry(ctx context.Context, roundID uint64, player string) (*model.RoundEntry, error) {
	entry, err := s.rounds.GetEntry(ctx, roundID, player)
	if err != nil {
		return nil, err
	}
	round, err := s.rounds.GetByRoundID(ctx, roundID, repository.ForUpdate)
	if err != nil {
		return nil, err
	}
	if err := s.rounds.DeleteEntry(ctx, roundID, player); err != nil {
		return nil, err
	}
	if err := s.rounds.AdjustChainStat(ctx, roundID, entry.SourceChainID, -1, entry.Amount.Neg()); err != nil {
		return nil, err
	}
	round.PlayerCount--
	round.TotalPool = round.TotalPool.Sub(entry.Amount)
	if err := s.rounds.Update(ctx, round); err != nil {
		return nil, err
	}
	return entry, nil
}

// AdmitRemote 主链处理跨链参与请求, 需在串行入口内调用
// 前置条件不满足时返回拒绝原因 (错误码), err 仅表示内部错误
func (s *RoundService) AdmitRemote(ctx context.Context, sourceChain uint64, player string, fee *big.Int) (uint64, string, error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return 0, "", err
	}
	player, err = normalizeAddress(player)
	if err != nil {
		return state.CurrentRoundID, errors.GetCode(err), nil
	}

	round, err := s.checkAdmission(ctx, player)
	if err != nil {
		if errors.IsPrecondition(err) || errors.IsDependency(err) {
			return state.CurrentRoundID, errors.GetCode(err), nil
		}
		return 0, "", err
	}
	if fee == nil || fee.Cmp(s.cfg.EntryFee) < 0 {
		return round.RoundID, errors.ErrInsufficientPayment.Code, nil
	}

	var full bool
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		_, _, full, err = s.admit(ctx, admission{
			roundID:     round.RoundID,
			player:      player,
			sourceChain: sourceChain,
			method:      model.PaymentMethodToken,
			amount:      s.cfg.EntryFee,
			crossChain:  true,
		})
		return err
	})
	if err != nil {
		if errors.IsPrecondition(err) {
			return round.RoundID, errors.GetCode(err), nil
		}
		return 0, "", err
	}

	metrics.RecordEntry(model.PaymentMethodToken.String(), "remote")
	logger.Info("remote player admitted",
		logger.RoundID(round.RoundID),
		logger.Player(player),
		logger.ChainID(sourceChain),
		zap.Bool("full", full))
	if full {
		afterCommit(ctx, func(ctx context.Context) {
			s.tryRequestRandomness(ctx, round.RoundID)
		})
	}
	return round.RoundID, "", nil
}

// RequestRandomness 为已满轮次请求随机数, 重复调用返回已有请求 ID
func (s *RoundService) RequestRandomness(ctx context.Context, roundID uint64) (string, error) {
	var requestID string
	err := s.serial.Do(ctx, "request_randomness", func(ctx context.Context) error {
		var err error
		requestID, err = s.requestRandomness(ctx, roundID)
		return err
	})
	return requestID, err
}

func (s *RoundService) tryRequestRandomness(ctx context.Context, roundID uint64) {
	if _, err := s.requestRandomness(ctx, roundID); err != nil {
		logger.Warn("randomness request deferred",
			logger.RoundID(roundID),
			zap.Error(err))
	}
}

func (s *RoundService) requestRandomness(ctx context.Context, roundID uint64) (string, error) {
	round, err := s.getRound(ctx, roundID)
	if err != nil {
		return "", err
	}
	if round.Mirror {
		return "", errors.ErrWrongRole.WithMessage("镜像轮次由主链开奖")
	}
	switch round.Status {
	case model.RoundStatusRandomnessRequested:
		return round.RandomnessRequestID, nil
	case model.RoundStatusFull:
	default:
		return "", errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s", roundID, round.Status)
	}

	if _, err := s.checkProviderFunding(ctx); err != nil {
		metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindLottery.String(), "underfunded").Inc()
		return "", err
	}

	state, err := s.currentState(ctx)
	if err != nil {
		return "", err
	}
	params := VRFParams{CallbackGas: state.CallbackGas, Confirmations: state.Confirmations, NumWords: state.NumWords}
	requestID, err := s.provider.Request(ctx, params)
	if err != nil {
		metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindLottery.String(), "failed").Inc()
		return "", errors.Wrap(errors.ErrRandomnessRequest, err)
	}

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.randomness.Create(ctx, &model.RandomnessRequest{
			RequestID:   requestID,
			Kind:        model.RandomnessKindLottery,
			RoundID:     roundID,
			Exists:      true,
			NumWords:    params.NumWords,
			RequestedAt: nowMillis(),
		}); err != nil {
			return err
		}
		return s.rounds.UpdateStatus(ctx, roundID, model.RoundStatusFull, model.RoundStatusRandomnessRequested,
			map[string]interface{}{"randomness_request_id": requestID})
	})
	if err != nil {
		return "", err
	}

	metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindLottery.String(), "requested").Inc()
	metrics.RecordRoundTransition(model.RoundStatusRandomnessRequested.String())
	logger.Info("randomness requested",
		logger.RoundID(roundID),
		zap.String("request_id", requestID),
		zap.Uint32("num_words", params.NumWords))
	return requestID, nil
}

// checkProviderFunding 随机数服务余额不低于最低要求
func (s *RoundService) checkProviderFunding(ctx context.Context) (*big.Int, error) {
	return checkFunding(ctx, s.provider, s.cfg.MinProviderBalance)
}

func checkFunding(ctx context.Context, provider RandomnessProvider, min *big.Int) (*big.Int, error) {
	balance, err := provider.Balance(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRandomnessRequest, err, "查询订阅余额失败")
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	metrics.ProviderBalanceGauge.Set(f)
	if balance.Cmp(min) < 0 {
		return balance, errors.ErrProviderUnderfunded.WithMessagef("订阅余额 %s 低于 %s", balance, min)
	}
	return balance, nil
}

// FulfillRandomness 随机数回调: 选出中奖者, 分配奖金并完成轮次
// 选择、分配与完成在同一事务内提交; 未知、未登记或已处理的请求直接忽略
func (s *RoundService) FulfillRandomness(ctx context.Context, requestID string, words []*big.Int, txHash string) error {
	return s.serial.Do(ctx, "fulfill_randomness", func(ctx context.Context) error {
		req, err := s.randomness.GetByRequestID(ctx, requestID)
		if stderrors.Is(err, repository.ErrRandomnessRequestNotFound) {
			s.ignoreCallback(requestID, "unknown request")
			return nil
		}
		if err != nil {
			return err
		}
		if !req.Exists || req.Fulfilled || req.Kind != model.RandomnessKindLottery {
			s.ignoreCallback(requestID, "not pending")
			return nil
		}
		if len(words) == 0 {
			s.ignoreCallback(requestID, "no random words")
			return nil
		}

		var winners []string
		var st *settlement
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			err := s.randomness.MarkFulfilled(ctx, requestID, model.NewBigIntList(words), txHash)
			if stderrors.Is(err, repository.ErrStaleState) {
				return errIgnored
			}
			if err != nil {
				return err
			}
			round, err := s.rounds.GetByRoundID(ctx, req.RoundID, repository.ForUpdate)
			if err != nil {
				return err
			}
			if round.Status != model.RoundStatusRandomnessRequested || round.RandomnessRequestID != requestID {
				return errIgnored
			}
			entries, err := s.rounds.ListEntries(ctx, round.RoundID)
			if err != nil {
				return err
			}
			players := make([]string, len(entries))
			for i, e := range entries {
				players[i] = e.Player
			}
			winners = SelectWinners(players, words)
			if err := s.rounds.UpdateStatus(ctx, round.RoundID, model.RoundStatusRandomnessRequested, model.RoundStatusWinnersSelected,
				map[string]interface{}{"winners": model.AddressList(winners)}); err != nil {
				return err
			}
			st, err = s.settleTx(ctx, round.RoundID, nil)
			return err
		})
		if stderrors.Is(err, errIgnored) {
			s.ignoreCallback(requestID, "stale round state")
			return nil
		}
		if err != nil {
			return err
		}

		metrics.RandomnessCallbacksTotal.WithLabelValues("fulfilled").Inc()
		metrics.RecordRoundTransition(model.RoundStatusWinnersSelected.String())
		logger.Info("winners selected",
			logger.RoundID(req.RoundID),
			zap.String("request_id", requestID),
			zap.Strings("winners", winners))
		s.afterSettle(ctx, st)
		return nil
	})
}

func (s *RoundService) ignoreCallback(requestID, reason string) {
	metrics.RandomnessCallbacksTotal.WithLabelValues("ignored").Inc()
	logger.Debug("randomness callback ignored",
		zap.String("request_id", requestID),
		zap.String("reason", reason))
}

// settlement 一次结算的结果, 提交后用于记录与通知
type settlement struct {
	roundID uint64
	split   *PrizeSplit // 从 PrizesDistributed 续完成时为空
	winners []string
	round   *model.Round
	stats   []*model.RoundChainStat
}

// SettleRound 续完中断的结算: WinnersSelected 分配并完成, PrizesDistributed 只完成
func (s *RoundService) SettleRound(ctx context.Context, roundID uint64) (*model.Round, error) {
	var st *settlement
	err := s.serial.Do(ctx, "settle_round", func(ctx context.Context) error {
		return s.tx.Transaction(ctx, func(ctx context.Context) error {
			round, err := s.getRoundForUpdate(ctx, roundID)
			if err != nil {
				return err
			}
			switch round.Status {
			case model.RoundStatusWinnersSelected:
				st, err = s.settleTx(ctx, roundID, nil)
			case model.RoundStatusPrizesDistributed:
				st = &settlement{roundID: roundID, winners: round.Winners}
				st.round, st.stats, err = s.completeTx(ctx, roundID)
			default:
				err = errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s, 无需结算", roundID, round.Status)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Warn("interrupted settlement resumed", logger.RoundID(roundID))
	s.afterSettle(ctx, st)
	return st.round, nil
}

// ResumeSettlement 续完所有停留在 WinnersSelected 或 PrizesDistributed 的轮次
func (s *RoundService) ResumeSettlement(ctx context.Context, limit int) (int, error) {
	settled := 0
	for _, status := range []model.RoundStatus{model.RoundStatusWinnersSelected, model.RoundStatusPrizesDistributed} {
		rounds, err := s.rounds.ListByStatus(ctx, status, limit)
		if err != nil {
			return settled, err
		}
		for _, r := range rounds {
			if _, err := s.SettleRound(ctx, r.RoundID); err != nil {
				logger.Warn("settlement resume failed", logger.RoundID(r.RoundID), zap.Error(err))
				continue
			}
			settled++
		}
	}
	return settled, nil
}

// settleTx WinnersSelected -> PrizesDistributed -> Completed, 调用方负责事务
func (s *RoundService) settleTx(ctx context.Context, roundID uint64, local *big.Int) (*settlement, error) {
	split, winners, err := s.distributeTx(ctx, roundID, local)
	if err != nil {
		return nil, err
	}
	round, stats, err := s.completeTx(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return &settlement{roundID: roundID, split: split, winners: winners, round: round, stats: stats}, nil
}

// afterSettle 结算提交后记录指标并通知远端链, 通知失败不影响结算
func (s *RoundService) afterSettle(ctx context.Context, st *settlement) {
	if split := st.split; split != nil {
		dust, _ := new(big.Float).SetInt(split.Dust).Float64()
		metrics.PrizeDustTotal.Add(dust)
		metrics.RecordRoundTransition(model.RoundStatusPrizesDistributed.String())
		logger.Info("prizes distributed",
			logger.RoundID(st.roundID),
			logger.BigInt("local_contribution", split.LocalContribution),
			logger.BigInt("per_winner", split.PerWinner),
			zap.Int("winners", len(st.winners)),
			logger.BigInt("dev", split.Dev),
			logger.BigInt("funding", split.FundingPaid),
			logger.BigInt("burn", split.Burn),
			logger.BigInt("dust", split.Dust))
	}

	metrics.RecordRoundTransition(model.RoundStatusCompleted.String())
	metrics.RoundPlayersGauge.Set(0)
	logger.Info("round completed",
		logger.RoundID(st.roundID),
		zap.Uint64("next_round_id", st.roundID+1),
		zap.Strings("winners", st.round.Winners))

	if s.notifier != nil && !st.round.Mirror {
		s.notifier.RoundCompleted(ctx, st.round, st.stats)
	}
}

// distributeTx 按本链贡献拆分奖池并记入账本, 调用方负责事务
// local 为空时按 总奖池 - 远端链贡献 计算
func (s *RoundService) distributeTx(ctx context.Context, roundID uint64, local *big.Int) (*PrizeSplit, []string, error) {
	round, err := s.getRoundForUpdate(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	if round.Status != model.RoundStatusWinnersSelected {
		return nil, nil, errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s, 无法分配奖金", roundID, round.Status)
	}

	contribution := local
	if contribution == nil {
		stats, err := s.rounds.ListChainStats(ctx, roundID)
		if err != nil {
			return nil, nil, err
		}
		contribution = LocalContribution(round.TotalPool.BigInt(), stats, s.cfg.ChainID)
	}

	winners := []string(round.Winners)
	split := ComputeSplit(contribution, s.cfg.Shares, len(winners), s.recipients())
	if err := s.payout(ctx, winners, split); err != nil {
		return nil, nil, err
	}
	err = s.rounds.UpdateStatus(ctx, roundID, model.RoundStatusWinnersSelected, model.RoundStatusPrizesDistributed,
		map[string]interface{}{
			"burn_amount":   decimal.NewFromBigInt(split.Burn, 0),
			"retained_dust": decimal.NewFromBigInt(split.Dust, 0),
		})
	if err != nil {
		return nil, nil, err
	}
	return split, winners, nil
}

// recipients 已配置的固定份额收款方, 未配置的份额并入余数
func (s *RoundService) recipients() Recipients {
	return Recipients{
		Dev:     s.cfg.DevAddress != "",
		Funding: len(s.cfg.FundingAddresses),
		Burn:    s.cfg.BurnAddress != "",
	}
}

// LocalContribution 总奖池减去远端链贡献
func LocalContribution(totalPool *big.Int, stats []*model.RoundChainStat, selfChain uint64) *big.Int {
	local := new(big.Int).Set(totalPool)
	for _, st := range stats {
		if st.ChainID == selfChain {
			continue
		}
		local.Sub(local, st.Contribution.BigInt())
	}
	if local.Sign() < 0 {
		return new(big.Int)
	}
	return local
}

func (s *RoundService) payout(ctx context.Context, winners []string, split *PrizeSplit) error {
	for _, w := range winners {
		if err := s.ledger.Credit(ctx, w, model.AssetToken, split.PerWinner); err != nil {
			return err
		}
		if err := s.ledger.RecordWin(ctx, w, split.PerWinner); err != nil {
			return err
		}
	}
	if err := s.ledger.Credit(ctx, s.cfg.DevAddress, model.AssetToken, split.Dev); err != nil {
		return err
	}
	for _, addr := range s.cfg.FundingAddresses {
		if err := s.ledger.Credit(ctx, addr, model.AssetToken, split.PerFunding); err != nil {
			return err
		}
	}
	return s.ledger.Credit(ctx, s.cfg.BurnAddress, model.AssetToken, split.Burn)
}

// completeTx PrizesDistributed -> Completed 并开启 roundID+1, 调用方负责事务
func (s *RoundService) completeTx(ctx context.Context, roundID uint64) (*model.Round, []*model.RoundChainStat, error) {
	round, err := s.getRoundForUpdate(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	if round.Status != model.RoundStatusPrizesDistributed {
		return nil, nil, errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s, 无法完成", roundID, round.Status)
	}
	completedAt := nowMillis()
	if err := s.rounds.UpdateStatus(ctx, roundID, model.RoundStatusPrizesDistributed, model.RoundStatusCompleted,
		map[string]interface{}{"completed_at": completedAt}); err != nil {
		return nil, nil, err
	}
	round.Status = model.RoundStatusCompleted
	round.CompletedAt = completedAt

	stats, err := s.rounds.ListChainStats(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.advanceTo(ctx, roundID+1); err != nil {
		return nil, nil, err
	}
	return round, stats, nil
}

// advanceTo 当前轮次只前进不后退, 返回是否发生变化; 调用方负责事务
func (s *RoundService) advanceTo(ctx context.Context, roundID uint64) (bool, error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return false, err
	}
	if roundID <= state.CurrentRoundID {
		return false, nil
	}
	if _, err := s.ensureRound(ctx, roundID); err != nil {
		return false, err
	}
	from := state.CurrentRoundID
	state.CurrentRoundID = roundID
	if err := s.state.SaveState(ctx, state); err != nil {
		return false, err
	}
	metrics.CurrentRoundGauge.Set(float64(roundID))
	logger.Info("current round advanced",
		logger.ChainID(s.cfg.ChainID),
		zap.Uint64("from", from),
		zap.Uint64("to", roundID))
	return true, nil
}

// SyncToRound 采用更高的轮次号, x <= 当前轮次时不做任何事; 需在串行入口内调用
func (s *RoundService) SyncToRound(ctx context.Context, roundID uint64) (bool, error) {
	var advanced bool
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		advanced, err = s.advanceTo(ctx, roundID)
		return err
	})
	return advanced, err
}

// ensureRound 轮次不存在时以 Active 创建
func (s *RoundService) ensureRound(ctx context.Context, roundID uint64) (*model.Round, error) {
	round, err := s.rounds.GetByRoundID(ctx, roundID, nil)
	if err == nil {
		return round, nil
	}
	if !stderrors.Is(err, repository.ErrRoundNotFound) {
		return nil, err
	}
	round = &model.Round{
		RoundID:      roundID,
		Status:       model.RoundStatusActive,
		Capacity:     s.cfg.Capacity,
		TotalPool:    decimal.Zero,
		BurnAmount:   decimal.Zero,
		RetainedDust: decimal.Zero,
		Mirror:       !s.isMain(),
	}
	if err := s.rounds.Create(ctx, round); err != nil {
		return nil, err
	}
	metrics.RecordRoundTransition(model.RoundStatusActive.String())
	return round, nil
}

// SettleFromNotification 卫星链按主链开奖结果结算本链贡献; 需在串行入口内调用
// 本链贡献取主链通知值与本地镜像奖池的较小者, 结算在同一事务内提交
func (s *RoundService) SettleFromNotification(ctx context.Context, n *crosschain.WinnersNotification) error {
	round, err := s.rounds.GetByRoundID(ctx, n.RoundID, nil)
	if stderrors.Is(err, repository.ErrRoundNotFound) {
		// 本链没有该轮参与者, 只推进轮次
		_, err := s.SyncToRound(ctx, n.RoundID+1)
		return err
	}
	if err != nil {
		return err
	}
	if round.Status >= model.RoundStatusWinnersSelected {
		logger.Debug("winners notification for settled round ignored", logger.RoundID(n.RoundID))
		return nil
	}

	winners := make(model.AddressList, 0, len(n.Winners))
	for _, w := range n.Winners {
		winners = append(winners, w.Hex())
	}
	local := n.Contribution(s.cfg.ChainID)
	if held := round.TotalPool.BigInt(); held.Cmp(local) < 0 {
		logger.Warn("reported contribution exceeds mirror pool",
			logger.RoundID(round.RoundID),
			logger.BigInt("reported", local),
			logger.BigInt("held", held))
		local = held
	}

	var st *settlement
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		err := s.rounds.UpdateStatus(ctx, round.RoundID, round.Status, model.RoundStatusWinnersSelected,
			map[string]interface{}{"winners": winners})
		if err != nil {
			return err
		}
		st, err = s.settleTx(ctx, round.RoundID, local)
		return err
	})
	if stderrors.Is(err, repository.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	afterCommit(ctx, func(ctx context.Context) {
		s.afterSettle(ctx, st)
	})
	return nil
}

// RetryPendingRandomness 为已满但尚未请求随机数的轮次补发请求
func (s *RoundService) RetryPendingRandomness(ctx context.Context, limit int) (int, error) {
	rounds, err := s.rounds.ListByStatus(ctx, model.RoundStatusFull, limit)
	if err != nil {
		return 0, err
	}
	requested := 0
	for _, r := range rounds {
		if r.Mirror {
			continue
		}
		if _, err := s.RequestRandomness(ctx, r.RoundID); err != nil {
			logger.Warn("randomness retry failed", logger.RoundID(r.RoundID), zap.Error(err))
			continue
		}
		requested++
	}
	return requested, nil
}

// RoundSnapshot 轮次快照
type RoundSnapshot struct {
	Round             *model.Round            `json:"round"`
	Entries           []*model.RoundEntry     `json:"entries"`
	ChainStats        []*model.RoundChainStat `json:"chain_stats"`
	LocalContribution *big.Int                `json:"local_contribution"`
}

// CurrentRoundID 当前轮次号
func (s *RoundService) CurrentRoundID(ctx context.Context) (uint64, error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return 0, err
	}
	return state.CurrentRoundID, nil
}

// CurrentRound 当前轮次快照
func (s *RoundService) CurrentRound(ctx context.Context) (*RoundSnapshot, error) {
	id, err := s.CurrentRoundID(ctx)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, id)
}

// Snapshot 指定轮次快照
func (s *RoundService) Snapshot(ctx context.Context, roundID uint64) (*RoundSnapshot, error) {
	round, err := s.getRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	entries, err := s.rounds.ListEntries(ctx, roundID)
	if err != nil {
		return nil, err
	}
	stats, err := s.rounds.ListChainStats(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return &RoundSnapshot{
		Round:             round,
		Entries:           entries,
		ChainStats:        stats,
		LocalContribution: LocalContribution(round.TotalPool.BigInt(), stats, s.cfg.ChainID),
	}, nil
}

// ListRounds 分页列出轮次
func (s *RoundService) ListRounds(ctx context.Context, page *repository.Pagination) ([]*model.Round, error) {
	return s.rounds.List(ctx, page)
}

// ProviderStatus 随机数服务资金状态
type ProviderStatus struct {
	Balance    *big.Int `json:"balance"`
	MinBalance *big.Int `json:"min_balance"`
	Affordable bool     `json:"affordable"`
}

// ProviderFunding 查询随机数服务余额是否足够发起请求
func (s *RoundService) ProviderFunding(ctx context.Context) (*ProviderStatus, error) {
	balance, err := s.checkProviderFunding(ctx)
	if err != nil && !errors.Is(err, errors.ErrProviderUnderfunded) {
		return nil, err
	}
	return &ProviderStatus{
		Balance:    balance,
		MinBalance: new(big.Int).Set(s.cfg.MinProviderBalance),
		Affordable: err == nil,
	}, nil
}

// Paused 参与是否暂停
func (s *RoundService) Paused(ctx context.Context) (bool, error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

func (s *RoundService) currentState(ctx context.Context) (*model.DeploymentState, error) {
	state, err := s.state.GetState(ctx, s.cfg.ChainID)
	if stderrors.Is(err, repository.ErrStateNotFound) {
		return nil, errors.ErrInternal.WithMessage("部署状态未初始化")
	}
	return state, err
}

func (s *RoundService) getRound(ctx context.Context, roundID uint64) (*model.Round, error) {
	round, err := s.rounds.GetByRoundID(ctx, roundID, nil)
	if stderrors.Is(err, repository.ErrRoundNotFound) {
		return nil, errors.ErrRoundNotFound.WithDetail("round_id", formatUint(roundID))
	}
	return round, err
}

func (s *RoundService) getRoundForUpdate(ctx context.Context, roundID uint64) (*model.Round, error) {
	round, err := s.rounds.GetByRoundID(ctx, roundID, repository.ForUpdate)
	if stderrors.Is(err, repository.ErrRoundNotFound) {
		return nil, errors.ErrRoundNotFound.WithDetail("round_id", formatUint(roundID))
	}
	return round, err
}

func formatUint(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

// ageOf 距给定毫秒时间戳的时长
func ageOf(ms int64) time.Duration {
	return time.Since(time.UnixMilli(ms))
}
