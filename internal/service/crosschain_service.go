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

// CrossChainConfig 跨链同步配置
type CrossChainConfig struct {
	ChainID           uint64
	Role              string
	MainChainID       uint64
	PendingExpiry     time.Duration
	RejectPolicy      string
	FallbackRecipient string
	SweepBatchSize    int
}

// CrossChainService 跨链参与与轮次同步
//
// 卫星链: EnterRemote 乐观占位并发送 ENTRY_REQUEST, 之后按 ENTRY_RESPONSE 确认、迁移或撤销;
// 收到 WINNERS_NOTIFICATION 结算本链贡献, 收到 ROUND_SYNC 推进轮次号 (只进不退)
//
// 主链: 处理 ENTRY_REQUEST 并回复 ENTRY_RESPONSE, 轮次完成后向所有远端链广播结果
type CrossChainService struct {
	rounds    *RoundService
	pending   repository.PendingEntryRepository
	state     repository.StateRepository
	tx        repository.TxManager
	ledger    *LedgerService
	transport MessageTransport
	serial    *Serializer
	limiter   *RateLimiter

	cfg CrossChainConfig
	now func() time.Time
}

// NewCrossChainService 创建跨链服务
func NewCrossChainService(
	rounds *RoundService,
	pending repository.PendingEntryRepository,
	state repository.StateRepository,
	tx repository.TxManager,
	ledger *LedgerService,
	transport MessageTransport,
	serial *Serializer,
	limiter *RateLimiter,
	cfg CrossChainConfig,
) *CrossChainService {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 50
	}
	if cfg.RejectPolicy == "" {
		cfg.RejectPolicy = config.RejectPolicyRefund
	}
	return &CrossChainService{
		rounds:    rounds,
		pending:   pending,
		state:     state,
		tx:        tx,
		ledger:    ledger,
		transport: transport,
		serial:    serial,
		limiter:   limiter,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *CrossChainService) isMain() bool {
	return s.cfg.Role == config.RoleMain
}

// RemoteEntryResult 跨链参与结果, 最终结果由主链异步确认
type RemoteEntryResult struct {
	RoundID      uint64   `json:"round_id"`
	Position     int      `json:"position"`
	MessageID    string   `json:"message_id"`
	MessagingFee *big.Int `json:"messaging_fee"`
	Escrow       *big.Int `json:"escrow"` // 确认后退回的剩余消息预算
}

// EnterRemote 卫星链参与
// 收取的原生币需覆盖消息费 (原生币支付时还需覆盖兑换所需); 发送失败时撤销占位并全额退回账本
func (s *CrossChainService) EnterRemote(ctx context.Context, req *EnterRequest) (*RemoteEntryResult, error) {
	if s.isMain() {
		return nil, errors.ErrWrongRole.WithMessage("主链请直接参与")
	}
	player, err := normalizeAddress(req.Player)
	if err != nil {
		return nil, err
	}

	var result *RemoteEntryResult
	err = s.serial.Do(ctx, "enter_remote", func(ctx context.Context) error {
		roundID, err := s.checkRemoteAdmission(ctx, player)
		if err != nil {
			return err
		}
		if err := s.limiter.Check(ctx, player); err != nil {
			return err
		}

		payload, err := crosschain.EncodeEntryRequest(&crosschain.EntryRequest{
			RoundID: roundID,
			Player:  common.HexToAddress(player),
			Fee:     s.rounds.cfg.EntryFee,
		})
		if err != nil {
			return errors.Wrap(errors.ErrInternal, err)
		}
		msgFee, err := s.transport.EstimateFee(ctx, s.cfg.MainChainID, payload)
		if err != nil {
			return errors.Wrap(errors.ErrFeeEstimationFailed, err)
		}

		// 兑换最多使用报价所需, 剩余部分不低于消息费
		paid, err := s.rounds.collectPayment(ctx, player, req, msgFee)
		if err != nil {
			return err
		}
		escrow := paid.refund

		var entry *model.RoundEntry
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			var err error
			_, entry, _, err = s.rounds.admit(ctx, admission{
				roundID:     roundID,
				player:      player,
				sourceChain: s.cfg.ChainID,
				method:      paid.method,
				amount:      paid.fee,
				crossChain:  true,
				provisional: true,
			})
			if err != nil {
				return err
			}
			return s.pending.Create(ctx, &model.PendingEntry{
				Player:          player,
				RoundID:         roundID,
				EntryFee:        decimal.NewFromBigInt(paid.fee, 0),
				Method:          paid.method,
				MessagingEscrow: decimal.NewFromBigInt(escrow, 0),
			})
		})
		if err != nil {
			s.refund(ctx, player, paid.fee, escrow, "reservation failed")
			return err
		}

		messageID, err := s.transport.Send(ctx, s.cfg.MainChainID, payload, msgFee)
		if err != nil {
			s.unwindAndRefund(ctx, player, "send failed")
			return errors.Wrap(errors.ErrMessageSendFailed, err)
		}

		remaining := new(big.Int).Sub(escrow, msgFee)
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			p, err := s.pending.GetByPlayer(ctx, player)
			if err != nil {
				return err
			}
			p.MessagingFee = decimal.NewFromBigInt(msgFee, 0)
			p.MessagingEscrow = decimal.NewFromBigInt(remaining, 0)
			p.MessageID = messageID
			return s.pending.Update(ctx, p)
		})
		if err != nil {
			// 消息已发出, 待确认记录以主链回复为准
			logger.Error("record messaging fee failed",
				logger.Player(player),
				zap.String("message_id", messageID),
				zap.Error(err))
		}

		s.limiter.Record(ctx, player)
		metrics.RecordEntry(paid.method.String(), "remote")
		s.refreshPendingGauge(ctx)
		logger.Info("remote entry submitted",
			logger.RoundID(roundID),
			logger.Player(player),
			zap.String("message_id", messageID),
			logger.BigInt("messaging_fee", msgFee),
			logger.BigInt("escrow", remaining))

		result = &RemoteEntryResult{
			RoundID:      roundID,
			Position:     entry.Position,
			MessageID:    messageID,
			MessagingFee: msgFee,
			Escrow:       remaining,
		}
		return nil
	})
	if err != nil {
		metrics.RecordEntryRejected(errors.GetCode(err))
		return nil, err
	}
	return result, nil
}

// checkRemoteAdmission 卫星链本地前置条件, 凭证与容量由主链校验
func (s *CrossChainService) checkRemoteAdmission(ctx context.Context, player string) (uint64, error) {
	state, err := s.rounds.currentState(ctx)
	if err != nil {
		return 0, err
	}
	if state.Paused {
		return 0, errors.ErrEntriesPaused
	}
	exists, err := s.pending.Exists(ctx, player)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errors.ErrEntryPending.WithDetail("player", player)
	}
	round, err := s.rounds.ensureRound(ctx, state.CurrentRoundID)
	if err != nil {
		return 0, err
	}
	if !round.Status.AcceptsEntries() {
		return 0, errors.ErrInvalidRoundState.WithMessagef("第 %d 轮状态为 %s", round.RoundID, round.Status)
	}
	if _, err := s.rounds.rounds.GetEntry(ctx, round.RoundID, player); err == nil {
		return 0, errors.ErrDuplicateEntry.WithDetail("player", player)
	} else if !stderrors.Is(err, repository.ErrEntryNotFound) {
		return 0, err
	}
	return round.RoundID, nil
}

// refund 入场费退回代币余额, 消息预算退回原生币余额
func (s *CrossChainService) refund(ctx context.Context, player string, fee, escrow *big.Int, reason string) {
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.ledger.Credit(ctx, player, model.AssetToken, fee); err != nil {
			return err
		}
		return s.ledger.Credit(ctx, player, model.AssetNative, escrow)
	})
	if err != nil {
		logger.Error("remote entry refund failed",
			logger.Player(player),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	logger.Warn("remote entry refunded",
		logger.Player(player),
		zap.String("reason", reason),
		logger.BigInt("fee", fee),
		logger.BigInt("escrow", escrow))
}

// unwindAndRefund 发送失败: 撤销占位, 入场费与全部消息预算退回玩家
func (s *CrossChainService) unwindAndRefund(ctx context.Context, player, reason string) {
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		p, err := s.unwind(ctx, player)
		if err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, player, model.AssetToken, p.EntryFee.BigInt()); err != nil {
			return err
		}
		return s.ledger.Credit(ctx, player, model.AssetNative, p.MessagingEscrow.BigInt())
	})
	if err != nil {
		logger.Error("unwind remote entry failed",
			logger.Player(player),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	metrics.PendingEntriesResolvedTotal.WithLabelValues("unwound").Inc()
	s.refreshPendingGauge(ctx)
	logger.Warn("remote entry unwound",
		logger.Player(player),
		zap.String("reason", reason))
}

// unwind 删除待确认记录并撤销镜像轮次中的占位, 调用方负责事务
// 占位所在轮次已不接受参与时保留轮次数据, 只删除待确认记录
func (s *CrossChainService) unwind(ctx context.Context, player string) (*model.PendingEntry, error) {
	p, err := s.pending.GetByPlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	round, err := s.rounds.rounds.GetByRoundID(ctx, p.RoundID, nil)
	switch {
	case err == nil && round.Status.AcceptsEntries():
		entry, err := s.rounds.rounds.GetEntry(ctx, p.RoundID, player)
		if err == nil && entry.Provisional {
			if _, err := s.rounds.removeEntry(ctx, p.RoundID, player); err != nil {
				return nil, err
			}
		} else if err != nil && !stderrors.Is(err, repository.ErrEntryNotFound) {
			return nil, err
		}
	case err != nil && !stderrors.Is(err, repository.ErrRoundNotFound):
		return nil, err
	}
	if err := s.pending.Delete(ctx, player); err != nil {
		return nil, err
	}
	return p, nil
}

// HandleEnvelope 处理入站跨链消息
// 非白名单来源、无法解析或重复的消息记录日志后丢弃, 不向消费方返回错误
// 消息登记与处理在同一事务内提交, 处理失败时登记一并回滚, 重新投递的消息会再次处理;
// 回复与随机数请求在提交后发出
func (s *CrossChainService) HandleEnvelope(ctx context.Context, env *crosschain.Envelope) error {
	return s.serial.Do(ctx, "receive_message", func(ctx context.Context) error {
		if err := s.transport.Verify(ctx, env); err != nil {
			metrics.RecordMessage("inbound", "unknown", "rejected")
			logger.Warn("cross-chain envelope rejected",
				zap.String("message_id", env.MessageID),
				logger.ChainID(env.SourceChainID),
				zap.String("sender", env.Sender),
				zap.Error(err))
			return nil
		}
		msg, err := crosschain.Decode(env.Payload)
		if err != nil {
			metrics.RecordMessage("inbound", "unknown", "malformed")
			logger.Warn("cross-chain payload malformed",
				zap.String("message_id", env.MessageID),
				logger.ChainID(env.SourceChainID),
				zap.Error(err))
			return nil
		}

		txCtx, runHooks := withCommitHooks(ctx)
		fresh := false
		err = s.tx.Transaction(txCtx, func(ctx context.Context) error {
			var err error
			fresh, err = s.state.RecordMessage(ctx, &model.MessageLog{
				MessageID:   env.MessageID,
				Direction:   model.MessageDirectionInbound,
				PeerChainID: env.SourceChainID,
				MessageType: uint8(msg.Type),
				Fee:         parseDecimal(env.Fee),
				Player:      messagePlayer(msg),
				RoundID:     messageRound(msg),
			})
			if err != nil || !fresh {
				return err
			}
			return s.dispatch(ctx, env.SourceChainID, msg)
		})
		if err != nil {
			metrics.RecordMessage("inbound", msg.Type.String(), "failed")
			logger.Error("handle cross-chain message failed",
				zap.String("message_id", env.MessageID),
				zap.String("type", msg.Type.String()),
				logger.ChainID(env.SourceChainID),
				zap.Error(err))
			return err
		}
		if !fresh {
			metrics.RecordMessage("inbound", msg.Type.String(), "duplicate")
			logger.Debug("duplicate cross-chain message ignored", zap.String("message_id", env.MessageID))
			return nil
		}
		metrics.RecordMessage("inbound", msg.Type.String(), "received")
		runHooks(ctx)
		return nil
	})
}

func (s *CrossChainService) dispatch(ctx context.Context, source uint64, msg *crosschain.Message) error {
	if s.isMain() {
		if msg.Type == crosschain.MessageEntryRequest {
			return s.handleEntryRequest(ctx, source, msg.EntryRequest)
		}
	} else if source == s.cfg.MainChainID {
		switch msg.Type {
		case crosschain.MessageEntryResponse:
			return s.handleEntryResponse(ctx, msg.EntryResponse)
		case crosschain.MessageWinnersNotification:
			return s.rounds.SettleFromNotification(ctx, msg.WinnersNotification)
		case crosschain.MessageRoundSync:
			_, err := s.rounds.SyncToRound(ctx, msg.RoundSync.RoundID)
			return err
		}
	}
	logger.Debug("cross-chain message not applicable to role",
		zap.String("role", s.cfg.Role),
		zap.String("type", msg.Type.String()),
		logger.ChainID(source))
	return nil
}

// handleEntryRequest 主链校验远端参与并回复结果, 回复失败由卫星链过期清理兜底
func (s *CrossChainService) handleEntryRequest(ctx context.Context, source uint64, req *crosschain.EntryRequest) error {
	roundID, reason, err := s.rounds.AdmitRemote(ctx, source, req.Player.Hex(), req.Fee)
	if err != nil {
		return err
	}
	if reason != "" {
		metrics.RecordEntryRejected(reason)
		logger.Info("remote entry rejected",
			logger.ChainID(source),
			logger.Player(req.Player.Hex()),
			zap.Uint64("requested_round", req.RoundID),
			zap.String("reason", reason))
	}

	payload, err := crosschain.EncodeEntryResponse(&crosschain.EntryResponse{
		RoundID:  roundID,
		Player:   req.Player,
		Accepted: reason == "",
		Reason:   reason,
	})
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err)
	}
	afterCommit(ctx, func(ctx context.Context) {
		s.sendBestEffort(ctx, source, payload)
	})
	return nil
}

// handleEntryResponse 卫星链处理主链校验结果, 没有对应待确认记录时忽略
func (s *CrossChainService) handleEntryResponse(ctx context.Context, resp *crosschain.EntryResponse) error {
	player := resp.Player.Hex()
	p, err := s.pending.GetByPlayer(ctx, player)
	if stderrors.Is(err, repository.ErrPendingEntryNotFound) {
		logger.Debug("entry response without pending entry ignored",
			logger.Player(player),
			logger.RoundID(resp.RoundID))
		return nil
	}
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return s.reject(ctx, p, resp.Reason)
	}
	return s.accept(ctx, p, resp.RoundID)
}

// reject 撤销占位; 消息预算退回玩家, 入场费按策略退回玩家或转给兜底地址
func (s *CrossChainService) reject(ctx context.Context, p *model.PendingEntry, reason string) error {
	feeRecipient := p.Player
	if s.cfg.RejectPolicy == config.RejectPolicyForfeit && s.cfg.FallbackRecipient != "" {
		feeRecipient = s.cfg.FallbackRecipient
	}
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.unwind(ctx, p.Player); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, feeRecipient, model.AssetToken, p.EntryFee.BigInt()); err != nil {
			return err
		}
		return s.ledger.Credit(ctx, p.Player, model.AssetNative, p.MessagingEscrow.BigInt())
	})
	if err != nil {
		return err
	}

	metrics.PendingEntriesResolvedTotal.WithLabelValues("rejected").Inc()
	s.refreshPendingGauge(ctx)
	logger.Info("remote entry rejected by main chain",
		logger.Player(p.Player),
		logger.RoundID(p.RoundID),
		zap.String("reason", reason),
		zap.String("policy", s.cfg.RejectPolicy),
		zap.String("fee_recipient", feeRecipient))
	return nil
}

// accept 确认占位并退回剩余消息预算; 主链轮次号更高时迁移到新轮次
func (s *CrossChainService) accept(ctx context.Context, p *model.PendingEntry, mainRoundID uint64) error {
	migrated := false
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if mainRoundID > p.RoundID {
			if _, err := s.rounds.advanceTo(ctx, mainRoundID); err != nil {
				return err
			}
			if err := s.migrate(ctx, p, mainRoundID); err != nil {
				return err
			}
			migrated = true
		} else {
			entry, err := s.rounds.rounds.GetEntry(ctx, p.RoundID, p.Player)
			if err != nil && !stderrors.Is(err, repository.ErrEntryNotFound) {
				return err
			}
			if entry != nil && entry.Provisional {
				entry.Provisional = false
				if err := s.rounds.rounds.UpdateEntry(ctx, entry); err != nil {
					return err
				}
				if err := s.ledger.RecordEntry(ctx, p.Player, s.rounds.cfg.PointsPerEntry); err != nil {
					return err
				}
			}
		}
		if err := s.ledger.Credit(ctx, p.Player, model.AssetNative, p.MessagingEscrow.BigInt()); err != nil {
			return err
		}
		return s.pending.Delete(ctx, p.Player)
	})
	if err != nil {
		return err
	}

	metrics.PendingEntriesResolvedTotal.WithLabelValues("accepted").Inc()
	s.refreshPendingGauge(ctx)
	logger.Info("remote entry accepted",
		logger.Player(p.Player),
		zap.Uint64("reserved_round", p.RoundID),
		zap.Uint64("main_round", mainRoundID),
		zap.Bool("migrated", migrated),
		logger.BigInt("escrow_refunded", p.MessagingEscrow.BigInt()))
	return nil
}

// migrate 将占位从旧轮次移到主链确认的轮次, 调用方负责事务
func (s *CrossChainService) migrate(ctx context.Context, p *model.PendingEntry, roundID uint64) error {
	old, err := s.rounds.rounds.GetByRoundID(ctx, p.RoundID, nil)
	if err != nil && !stderrors.Is(err, repository.ErrRoundNotFound) {
		return err
	}
	if old != nil && old.Status.AcceptsEntries() {
		if _, err := s.rounds.removeEntry(ctx, p.RoundID, p.Player); err != nil && !stderrors.Is(err, repository.ErrEntryNotFound) {
			return err
		}
	}
	_, _, _, err = s.rounds.admit(ctx, admission{
		roundID:     roundID,
		player:      p.Player,
		sourceChain: s.cfg.ChainID,
		method:      p.Method,
		amount:      p.EntryFee.BigInt(),
		crossChain:  true,
	})
	return err
}

// RoundCompleted 主链轮次完成后向所有远端链发送开奖结果与轮次推进, 失败只记录
func (s *CrossChainService) RoundCompleted(ctx context.Context, round *model.Round, stats []*model.RoundChainStat) {
	peers, err := s.state.ListPeers(ctx, true)
	if err != nil {
		logger.Warn("list peers for notification failed", logger.RoundID(round.RoundID), zap.Error(err))
		return
	}
	if len(peers) == 0 {
		return
	}

	n := &crosschain.WinnersNotification{
		RoundID:   round.RoundID,
		TotalPool: round.TotalPool.BigInt(),
	}
	for _, w := range round.Winners {
		n.Winners = append(n.Winners, common.HexToAddress(w))
	}
	for _, st := range stats {
		n.ChainIDs = append(n.ChainIDs, st.ChainID)
		n.Contributions = append(n.Contributions, st.Contribution.BigInt())
	}
	winnersPayload, err := crosschain.EncodeWinnersNotification(n)
	if err != nil {
		logger.Error("encode winners notification failed", logger.RoundID(round.RoundID), zap.Error(err))
		return
	}
	syncPayload, err := crosschain.EncodeRoundSync(&crosschain.RoundSync{RoundID: round.RoundID + 1})
	if err != nil {
		logger.Error("encode round sync failed", logger.RoundID(round.RoundID), zap.Error(err))
		return
	}

	for _, peer := range peers {
		s.sendBestEffort(ctx, peer.ChainID, winnersPayload)
		s.sendBestEffort(ctx, peer.ChainID, syncPayload)
	}
}

// BroadcastRoundSync 主链向所有远端链发送当前轮次号
func (s *CrossChainService) BroadcastRoundSync(ctx context.Context) (uint64, error) {
	roundID, err := s.rounds.CurrentRoundID(ctx)
	if err != nil {
		return 0, err
	}
	peers, err := s.state.ListPeers(ctx, true)
	if err != nil {
		return 0, err
	}
	payload, err := crosschain.EncodeRoundSync(&crosschain.RoundSync{RoundID: roundID})
	if err != nil {
		return 0, errors.Wrap(errors.ErrInternal, err)
	}
	for _, peer := range peers {
		s.sendBestEffort(ctx, peer.ChainID, payload)
	}
	return roundID, nil
}

func (s *CrossChainService) sendBestEffort(ctx context.Context, dest uint64, payload []byte) {
	fee, err := s.transport.EstimateFee(ctx, dest, payload)
	if err != nil {
		logger.Warn("estimate messaging fee failed", logger.ChainID(dest), zap.Error(err))
		return
	}
	if _, err := s.transport.Send(ctx, dest, payload, fee); err != nil {
		logger.Warn("send cross-chain message failed", logger.ChainID(dest), zap.Error(err))
	}
}

// SweepExpired 清理超过确认窗口的待确认参与
// 入场费转给兜底地址, 剩余消息预算退回玩家
func (s *CrossChainService) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > s.cfg.SweepBatchSize {
		limit = s.cfg.SweepBatchSize
	}
	swept := 0
	err := s.serial.Do(ctx, "sweep_expired", func(ctx context.Context) error {
		cutoff := s.now().Add(-s.cfg.PendingExpiry).UnixMilli()
		entries, err := s.pending.ListSubmittedBefore(ctx, cutoff, limit)
		if err != nil {
			return err
		}
		for _, p := range entries {
			if err := s.sweepOne(ctx, p); err != nil {
				logger.Error("sweep pending entry failed", logger.Player(p.Player), zap.Error(err))
				continue
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.refreshPendingGauge(ctx)
	}
	return swept, nil
}

func (s *CrossChainService) sweepOne(ctx context.Context, p *model.PendingEntry) error {
	feeRecipient := s.cfg.FallbackRecipient
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.unwind(ctx, p.Player); err != nil {
			return err
		}
		if feeRecipient != "" {
			if err := s.ledger.Credit(ctx, feeRecipient, model.AssetToken, p.EntryFee.BigInt()); err != nil {
				return err
			}
		}
		return s.ledger.Credit(ctx, p.Player, model.AssetNative, p.MessagingEscrow.BigInt())
	})
	if err != nil {
		return err
	}
	metrics.PendingEntriesResolvedTotal.WithLabelValues("swept").Inc()
	logger.Info("expired pending entry swept",
		logger.Player(p.Player),
		logger.RoundID(p.RoundID),
		zap.Duration("age", ageOf(p.SubmittedAt)),
		zap.String("fee_recipient", feeRecipient))
	return nil
}

// HasPendingEntry 玩家是否有待确认参与
func (s *CrossChainService) HasPendingEntry(ctx context.Context, player string) (bool, error) {
	player, err := normalizeAddress(player)
	if err != nil {
		return false, err
	}
	return s.pending.Exists(ctx, player)
}

// PendingEntry 玩家的待确认参与, 不存在时返回 nil
func (s *CrossChainService) PendingEntry(ctx context.Context, player string) (*model.PendingEntry, error) {
	p, err := s.pending.GetByPlayer(ctx, player)
	if stderrors.Is(err, repository.ErrPendingEntryNotFound) {
		return nil, nil
	}
	return p, err
}

// PendingEntries 分页列出待确认参与
func (s *CrossChainService) PendingEntries(ctx context.Context, page *repository.Pagination) ([]*model.PendingEntry, error) {
	return s.pending.List(ctx, page)
}

// EstimateMessagingFee 发送一次参与请求的消息费
func (s *CrossChainService) EstimateMessagingFee(ctx context.Context, player string) (*big.Int, error) {
	if s.isMain() {
		return new(big.Int), nil
	}
	roundID, err := s.rounds.CurrentRoundID(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := crosschain.EncodeEntryRequest(&crosschain.EntryRequest{
		RoundID: roundID,
		Player:  common.HexToAddress(player),
		Fee:     s.rounds.cfg.EntryFee,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err)
	}
	fee, err := s.transport.EstimateFee(ctx, s.cfg.MainChainID, payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFeeEstimationFailed, err)
	}
	return fee, nil
}

func (s *CrossChainService) refreshPendingGauge(ctx context.Context) {
	page := &repository.Pagination{Page: 1, PageSize: 1}
	if _, err := s.pending.List(ctx, page); err != nil {
		return
	}
	metrics.PendingEntriesGauge.Set(float64(page.Total))
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func messagePlayer(m *crosschain.Message) string {
	switch {
	case m.EntryRequest != nil:
		return m.EntryRequest.Player.Hex()
	case m.EntryResponse != nil:
		return m.EntryResponse.Player.Hex()
	}
	return ""
}

func messageRound(m *crosschain.Message) uint64 {
	switch {
	case m.EntryRequest != nil:
		return m.EntryRequest.RoundID
	case m.EntryResponse != nil:
		return m.EntryResponse.RoundID
	case m.WinnersNotification != nil:
		return m.WinnersNotification.RoundID
	case m.RoundSync != nil:
		return m.RoundSync.RoundID
	}
	return 0
}
