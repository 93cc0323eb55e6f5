package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NativeFeeAsset 以原生币支付创建费
const NativeFeeAsset = "NATIVE"

// CoinflipConfig 猜硬币配置
type CoinflipConfig struct {
	ChainID            uint64
	MinStake           *big.Int
	MaxStake           *big.Int
	HouseFeePct        int
	CreationFee        *big.Int // 原生币计价
	DevAddress         string
	MinProviderBalance *big.Int
}

// CoinflipService 双人猜硬币
//
//	Active -> RandomnessRequested -> Resolved
//	Active -> Cancelled (仅创建者)
type CoinflipService struct {
	games      repository.CoinflipRepository
	randomness repository.RandomnessRepository
	state      repository.StateRepository
	tx         repository.TxManager
	ledger     *LedgerService
	funds      *NativeFunds
	tokens     TokenCollector
	assets     AssetQuoter
	provider   RandomnessProvider
	serial     *Serializer
	limiter    *RateLimiter

	cfg CoinflipConfig
}

// NewCoinflipService 创建猜硬币服务
func NewCoinflipService(
	games repository.CoinflipRepository,
	randomness repository.RandomnessRepository,
	state repository.StateRepository,
	tx repository.TxManager,
	ledger *LedgerService,
	funds *NativeFunds,
	tokens TokenCollector,
	assets AssetQuoter,
	provider RandomnessProvider,
	serial *Serializer,
	limiter *RateLimiter,
	cfg CoinflipConfig,
) *CoinflipService {
	for _, v := range []**big.Int{&cfg.MinStake, &cfg.MaxStake, &cfg.CreationFee, &cfg.MinProviderBalance} {
		if *v == nil {
			*v = new(big.Int)
		}
	}
	cfg.DevAddress = checksum(cfg.DevAddress)
	return &CoinflipService{
		games:      games,
		randomness: randomness,
		state:      state,
		tx:         tx,
		ledger:     ledger,
		funds:      funds,
		tokens:     tokens,
		assets:     assets,
		provider:   provider,
		serial:     serial,
		limiter:    limiter,
		cfg:        cfg,
	}
}

// CreateGameRequest 创建对局请求
type CreateGameRequest struct {
	Creator     string         `json:"creator"`
	Stake       *big.Int       `json:"stake"`
	Side        model.CoinSide `json:"side"`
	FeeAsset    string         `json:"fee_asset"`    // 空或 NATIVE 表示原生币, 否则为替代资产符号
	NativeValue *big.Int       `json:"native_value"` // 愿意支付的原生币上限, 账本只扣减创建费
	DepositTx   string         `json:"deposit_tx"`   // 转入收款地址的入金交易, 非空时以交易金额支付创建费
}

// CreateGame 创建对局: 收取押注与创建费
// 押注先收取, 创建费收取失败时押注与已收取的原生币退回账本
func (s *CoinflipService) CreateGame(ctx context.Context, req *CreateGameRequest) (*model.CoinflipGame, error) {
	creator, err := normalizeAddress(req.Creator)
	if err != nil {
		return nil, err
	}
	if req.Stake == nil || req.Stake.Cmp(s.cfg.MinStake) < 0 || req.Stake.Cmp(s.cfg.MaxStake) > 0 {
		return nil, errors.ErrInvalidRequest.WithMessagef("押注需在 [%s, %s] 之间", s.cfg.MinStake, s.cfg.MaxStake)
	}
	if req.Side != model.CoinSideHeads && req.Side != model.CoinSideTails {
		return nil, errors.ErrInvalidRequest.WithMessage("未知硬币面")
	}

	var game *model.CoinflipGame
	err = s.serial.Do(ctx, "create_game", func(ctx context.Context) error {
		if err := s.limiter.Check(ctx, creator); err != nil {
			return err
		}

		fee, err := s.quoteCreationFee(ctx, req)
		if err != nil {
			return err
		}

		if err := s.tokens.CollectFrom(ctx, creator, req.Stake); err != nil {
			return asPaymentError(err)
		}
		if fee.asset != nil {
			if err := s.tokens.CollectAsset(ctx, fee.asset.TokenAddress, creator, fee.amount); err != nil {
				s.refundStake(ctx, creator, req.Stake, "creation fee failed")
				return asPaymentError(err)
			}
		} else if err := s.takeNativeFee(ctx, creator, req, fee); err != nil {
			s.refundStake(ctx, creator, req.Stake, "creation fee failed")
			return err
		}

		game = &model.CoinflipGame{
			GameID:      uuid.New().String(),
			Creator:     creator,
			Stake:       decimal.NewFromBigInt(req.Stake, 0),
			CreatorSide: req.Side,
			Status:      model.GameStatusActive,
			FeeAsset:    fee.symbol,
			FeePaid:     decimal.NewFromBigInt(fee.amount, 0),
			Payout:      decimal.Zero,
		}
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			if err := s.games.Create(ctx, game); err != nil {
				return err
			}
			if fee.asset != nil {
				return nil
			}
			if s.cfg.DevAddress != "" {
				if err := s.ledger.Credit(ctx, s.cfg.DevAddress, model.AssetNative, fee.amount); err != nil {
					return err
				}
			}
			return s.ledger.Credit(ctx, creator, model.AssetNative, fee.excess)
		})
		if err != nil {
			s.refundStake(ctx, creator, req.Stake, "create game failed")
			if fee.asset == nil {
				s.funds.Refund(ctx, creator, fee.paid, "create game failed")
			}
			return err
		}
		s.limiter.Record(ctx, creator)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CoinflipGamesTotal.WithLabelValues("created").Inc()
	logger.Info("coinflip game created",
		zap.String("game_id", game.GameID),
		logger.Player(creator),
		logger.BigInt("stake", req.Stake),
		zap.String("side", req.Side.String()),
		zap.String("fee_asset", game.FeeAsset))
	return game, nil
}

// creationFee 创建费报价
type creationFee struct {
	symbol string
	asset  *model.PaymentAsset // 为空表示原生币
	amount *big.Int
	paid   *big.Int // 实际收取的原生币
	excess *big.Int
}

func (s *CoinflipService) quoteCreationFee(ctx context.Context, req *CreateGameRequest) (*creationFee, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.FeeAsset))
	if symbol == "" || symbol == NativeFeeAsset {
		if req.NativeValue != nil && req.NativeValue.Sign() > 0 && req.NativeValue.Cmp(s.cfg.CreationFee) < 0 {
			return nil, errors.ErrInsufficientPayment.WithMessagef("创建费需要 %s", s.cfg.CreationFee)
		}
		return &creationFee{
			symbol: NativeFeeAsset,
			amount: new(big.Int).Set(s.cfg.CreationFee),
			paid:   new(big.Int),
			excess: new(big.Int),
		}, nil
	}

	asset, err := s.assets.Asset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	amount, err := s.assets.QuoteAsset(ctx, symbol, s.cfg.CreationFee)
	if err != nil {
		return nil, err
	}
	return &creationFee{symbol: symbol, asset: asset, amount: amount, excess: new(big.Int)}, nil
}

// takeNativeFee 收取原生币创建费, 超出部分记入 fee.excess 退回创建者
func (s *CoinflipService) takeNativeFee(ctx context.Context, creator string, req *CreateGameRequest, fee *creationFee) error {
	if fee.amount.Sign() == 0 && req.DepositTx == "" {
		return nil
	}
	if s.funds == nil {
		return errors.ErrInsufficientPayment.WithMessage("未启用原生币支付")
	}
	// 账本余额只扣减创建费, 入金交易按全额收取
	value, err := s.funds.Take(ctx, creator, req.DepositTx, fee.amount, PurposeCoinflipFee)
	if err != nil {
		return err
	}
	if value.Cmp(fee.amount) < 0 {
		s.funds.Refund(ctx, creator, value, "insufficient creation fee")
		return errors.ErrInsufficientPayment.WithMessagef("创建费需要 %s, 实际 %s", fee.amount, value)
	}
	fee.paid = value
	fee.excess = new(big.Int).Sub(value, fee.amount)
	return nil
}

func (s *CoinflipService) refundStake(ctx context.Context, player string, stake *big.Int, reason string) {
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		return s.ledger.Credit(ctx, player, model.AssetToken, stake)
	})
	if err != nil {
		logger.Error("refund stake failed",
			logger.Player(player),
			logger.BigInt("stake", stake),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	logger.Warn("stake refunded to ledger",
		logger.Player(player),
		logger.BigInt("stake", stake),
		zap.String("reason", reason))
}

// CancelGame 创建者取消等待中的对局, 押注退回账本
func (s *CoinflipService) CancelGame(ctx context.Context, creator, gameID string) (*model.CoinflipGame, error) {
	creator, err := normalizeAddress(creator)
	if err != nil {
		return nil, err
	}
	var game *model.CoinflipGame
	err = s.serial.Do(ctx, "cancel_game", func(ctx context.Context) error {
		return s.tx.Transaction(ctx, func(ctx context.Context) error {
			var err error
			game, err = s.getGame(ctx, gameID, repository.ForUpdate)
			if err != nil {
				return err
			}
			if game.Creator != creator {
				return errors.ErrNotGameCreator
			}
			if game.Status != model.GameStatusActive {
				return errors.ErrInvalidGameState.WithMessagef("对局状态为 %s, 无法取消", game.Status)
			}
			game.Status = model.GameStatusCancelled
			game.ResolvedAt = nowMillis()
			if err := s.games.Update(ctx, game); err != nil {
				return err
			}
			return s.ledger.Credit(ctx, creator, model.AssetToken, game.Stake.BigInt())
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.CoinflipGamesTotal.WithLabelValues("cancelled").Inc()
	logger.Info("coinflip game cancelled",
		zap.String("game_id", gameID),
		logger.Player(creator))
	return game, nil
}

// JoinGame 加入对局并请求随机数
// 随机数请求失败时押注退回账本, 对局保持等待
func (s *CoinflipService) JoinGame(ctx context.Context, joiner, gameID string) (*model.CoinflipGame, error) {
	joiner, err := normalizeAddress(joiner)
	if err != nil {
		return nil, err
	}
	var game *model.CoinflipGame
	err = s.serial.Do(ctx, "join_game", func(ctx context.Context) error {
		var err error
		game, err = s.getGame(ctx, gameID, nil)
		if err != nil {
			return err
		}
		if game.Status != model.GameStatusActive {
			return errors.ErrInvalidGameState.WithMessagef("对局状态为 %s, 无法加入", game.Status)
		}
		if game.Creator == joiner {
			return errors.ErrInvalidGameState.WithMessage("不能加入自己创建的对局")
		}
		if err := s.limiter.Check(ctx, joiner); err != nil {
			return err
		}
		if _, err := checkFunding(ctx, s.provider, s.cfg.MinProviderBalance); err != nil {
			metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindCoinflip.String(), "underfunded").Inc()
			return err
		}
		state, err := s.state.GetState(ctx, s.cfg.ChainID)
		if err != nil {
			return err
		}

		stake := game.Stake.BigInt()
		if err := s.tokens.CollectFrom(ctx, joiner, stake); err != nil {
			return asPaymentError(err)
		}

		params := VRFParams{CallbackGas: state.CallbackGas, Confirmations: state.Confirmations, NumWords: 1}
		requestID, err := s.provider.Request(ctx, params)
		if err != nil {
			metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindCoinflip.String(), "failed").Inc()
			s.refundStake(ctx, joiner, stake, "randomness request failed")
			return errors.Wrap(errors.ErrRandomnessRequest, err)
		}

		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			g, err := s.getGame(ctx, gameID, repository.ForUpdate)
			if err != nil {
				return err
			}
			g.Joiner = joiner
			g.JoinedAt = nowMillis()
			g.Status = model.GameStatusRandomnessRequested
			g.RandomnessRequestID = requestID
			if err := s.games.Update(ctx, g); err != nil {
				return err
			}
			game = g
			return s.randomness.Create(ctx, &model.RandomnessRequest{
				RequestID:   requestID,
				Kind:        model.RandomnessKindCoinflip,
				GameID:      gameID,
				Exists:      true,
				NumWords:    params.NumWords,
				RequestedAt: nowMillis(),
			})
		})
		if err != nil {
			s.refundStake(ctx, joiner, stake, "join failed")
			return err
		}
		metrics.RandomnessRequestsTotal.WithLabelValues(model.RandomnessKindCoinflip.String(), "requested").Inc()
		s.limiter.Record(ctx, joiner)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CoinflipGamesTotal.WithLabelValues("joined").Inc()
	logger.Info("coinflip game joined",
		zap.String("game_id", gameID),
		logger.Player(joiner),
		zap.String("request_id", game.RandomnessRequestID))
	return game, nil
}

// Fulfill 随机数回调: words[0] 的奇偶决定硬币面
// 胜者获得 2*stake*(100-house)/100, 其余记给开发者地址
func (s *CoinflipService) Fulfill(ctx context.Context, requestID string, words []*big.Int, txHash string) error {
	return s.serial.Do(ctx, "fulfill_coinflip", func(ctx context.Context) error {
		req, err := s.randomness.GetByRequestID(ctx, requestID)
		if stderrors.Is(err, repository.ErrRandomnessRequestNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !req.Exists || req.Fulfilled || req.Kind != model.RandomnessKindCoinflip || len(words) == 0 {
			metrics.RandomnessCallbacksTotal.WithLabelValues("ignored").Inc()
			logger.Debug("coinflip callback ignored", zap.String("request_id", requestID))
			return nil
		}

		var game *model.CoinflipGame
		var payout *big.Int
		err = s.tx.Transaction(ctx, func(ctx context.Context) error {
			err := s.randomness.MarkFulfilled(ctx, requestID, model.NewBigIntList(words), txHash)
			if stderrors.Is(err, repository.ErrStaleState) {
				return errIgnored
			}
			if err != nil {
				return err
			}
			game, err = s.getGame(ctx, req.GameID, repository.ForUpdate)
			if err != nil {
				return err
			}
			if game.Status != model.GameStatusRandomnessRequested || game.RandomnessRequestID != requestID {
				return errIgnored
			}

			side := model.CoinSide(new(big.Int).Mod(new(big.Int).Abs(words[0]), big.NewInt(2)).Int64())
			winner := game.Joiner
			if side == game.CreatorSide {
				winner = game.Creator
			}
			var house *big.Int
			payout, house = SplitPot(game.Stake.BigInt(), s.cfg.HouseFeePct)

			if err := s.ledger.Credit(ctx, winner, model.AssetToken, payout); err != nil {
				return err
			}
			if err := s.ledger.RecordWin(ctx, winner, payout); err != nil {
				return err
			}
			if s.cfg.DevAddress != "" {
				if err := s.ledger.Credit(ctx, s.cfg.DevAddress, model.AssetToken, house); err != nil {
					return err
				}
			}
			game.Winner = winner
			game.Payout = decimal.NewFromBigInt(payout, 0)
			game.Status = model.GameStatusResolved
			game.ResolvedAt = nowMillis()
			return s.games.Update(ctx, game)
		})
		if stderrors.Is(err, errIgnored) {
			metrics.RandomnessCallbacksTotal.WithLabelValues("ignored").Inc()
			return nil
		}
		if err != nil {
			return err
		}

		metrics.RandomnessCallbacksTotal.WithLabelValues("fulfilled").Inc()
		metrics.CoinflipGamesTotal.WithLabelValues("resolved").Inc()
		logger.Info("coinflip game resolved",
			zap.String("game_id", game.GameID),
			zap.String("winner", game.Winner),
			logger.BigInt("payout", payout))
		return nil
	})
}

// SplitPot 两份押注扣除平台费后的奖金与平台费
func SplitPot(stake *big.Int, houseFeePct int) (payout, house *big.Int) {
	pot := new(big.Int).Mul(stake, big.NewInt(2))
	payout = new(big.Int).Mul(pot, big.NewInt(int64(100-houseFeePct)))
	payout.Quo(payout, big.NewInt(100))
	house = new(big.Int).Sub(pot, payout)
	return payout, house
}

// Game 查询对局
func (s *CoinflipService) Game(ctx context.Context, gameID string) (*model.CoinflipGame, error) {
	return s.getGame(ctx, gameID, nil)
}

// OpenGames 等待对手的对局
func (s *CoinflipService) OpenGames(ctx context.Context, page *repository.Pagination) ([]*model.CoinflipGame, error) {
	return s.games.ListByStatus(ctx, model.GameStatusActive, page)
}

func (s *CoinflipService) getGame(ctx context.Context, gameID string, opts *repository.QueryOptions) (*model.CoinflipGame, error) {
	game, err := s.games.GetByGameID(ctx, gameID, opts)
	if stderrors.Is(err, repository.ErrGameNotFound) {
		return nil, errors.ErrGameNotFound.WithDetail("game_id", gameID)
	}
	return game, err
}
