package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService 玩家账本
// 结算与退款只记账, 资金由玩家通过 Withdraw 拉取
type LedgerService struct {
	repo     repository.PlayerRepository
	tx       repository.TxManager
	transfer Transferer
	serial   *Serializer
}

// NewLedgerService 创建账本服务
func NewLedgerService(repo repository.PlayerRepository, tx repository.TxManager, transfer Transferer, serial *Serializer) *LedgerService {
	return &LedgerService{
		repo:     repo,
		tx:       tx,
		transfer: transfer,
		serial:   serial,
	}
}

// Credit 记入待提取余额, 金额为 0 时不做任何事
func (s *LedgerService) Credit(ctx context.Context, player string, asset model.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errors.ErrInvalidRequest.WithMessage("记账金额不能为负")
	}
	return s.repo.Credit(ctx, player, asset, decimal.NewFromBigInt(amount, 0))
}

// Debit 扣减指定金额, 余额不足返回 ErrInsufficientBalance
func (s *LedgerService) Debit(ctx context.Context, player string, asset model.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.ErrInvalidRequest.WithMessage("扣减金额必须为正")
	}
	err := s.repo.Debit(ctx, player, asset, decimal.NewFromBigInt(amount, 0))
	if stderrors.Is(err, repository.ErrInsufficientPending) {
		return errors.ErrInsufficientBalance.WithDetail("player", player)
	}
	return err
}

// ClaimDeposit 登记入金交易, 同一交易再次登记返回 ErrDepositClaimed
func (s *LedgerService) ClaimDeposit(ctx context.Context, d *Deposit, player, purpose string) error {
	err := s.repo.ClaimDeposit(ctx, &model.NativeDeposit{
		TxHash:      d.TxHash,
		Player:      player,
		Amount:      decimal.NewFromBigInt(d.Value, 0),
		BlockNumber: d.BlockNumber,
		Purpose:     purpose,
	})
	if stderrors.Is(err, repository.ErrDepositClaimed) {
		return errors.ErrDepositClaimed.WithDetail("tx_hash", d.TxHash)
	}
	return err
}

// DebitAll 清空并返回待提取余额, 无余额时返回 0
func (s *LedgerService) DebitAll(ctx context.Context, player string, asset model.Asset) (*big.Int, error) {
	amount, err := s.repo.DebitAll(ctx, player, asset)
	if err != nil {
		return nil, err
	}
	return amount.BigInt(), nil
}

// RecordEntry 记录参与次数与积分
func (s *LedgerService) RecordEntry(ctx context.Context, player string, points int64) error {
	return s.repo.RecordEntry(ctx, player, points)
}

// RecordWin 记录累计中奖金额
func (s *LedgerService) RecordWin(ctx context.Context, player string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return s.repo.RecordWinnings(ctx, player, decimal.NewFromBigInt(amount, 0))
}

// Account 玩家账户, 不存在时返回零值账户
func (s *LedgerService) Account(ctx context.Context, player string) (*model.PlayerAccount, error) {
	account, err := s.repo.Get(ctx, player)
	if stderrors.Is(err, repository.ErrPlayerNotFound) {
		return &model.PlayerAccount{Player: player}, nil
	}
	return account, err
}

// Withdrawals 玩家提取记录
func (s *LedgerService) Withdrawals(ctx context.Context, player string, page *repository.Pagination) ([]*model.Withdrawal, error) {
	return s.repo.ListWithdrawals(ctx, player, page)
}

// Withdraw 提取全部待提取余额
// 先在独立事务中清零余额并写入提取记录, 再转账; 转账失败时恢复余额
func (s *LedgerService) Withdraw(ctx context.Context, player string, asset model.Asset) (*model.Withdrawal, error) {
	player, err := normalizeAddress(player)
	if err != nil {
		return nil, err
	}
	if !asset.Valid() {
		return nil, errors.ErrInvalidRequest.WithMessagef("未知资产 %s", asset)
	}

	var w *model.Withdrawal
	err = s.serial.Do(ctx, "withdraw", func(ctx context.Context) error {
		var amount *big.Int
		err := s.tx.Transaction(ctx, func(ctx context.Context) error {
			var err error
			amount, err = s.DebitAll(ctx, player, asset)
			if err != nil {
				return err
			}
			if amount.Sign() == 0 {
				return errors.ErrInsufficientBalance.WithMessage("没有可提取余额")
			}
			w = &model.Withdrawal{
				WithdrawID: uuid.New().String(),
				Player:     player,
				Asset:      asset,
				Amount:     decimal.NewFromBigInt(amount, 0),
				Status:     model.WithdrawalStatusPending,
			}
			return s.repo.CreateWithdrawal(ctx, w)
		})
		if err != nil {
			return err
		}

		txHash, transferErr := s.transfer.Transfer(ctx, asset, player, amount)
		if transferErr != nil {
			metrics.WithdrawalsTotal.WithLabelValues(string(asset), "reverted").Inc()
			logger.Error("withdrawal transfer failed, restoring balance",
				logger.Player(player),
				zap.String("withdraw_id", w.WithdrawID),
				logger.BigInt("amount", amount),
				zap.Error(transferErr))

			restoreErr := s.tx.Transaction(ctx, func(ctx context.Context) error {
				if err := s.Credit(ctx, player, asset, amount); err != nil {
					return err
				}
				w.Status = model.WithdrawalStatusReverted
				w.ErrorMessage = truncate(transferErr.Error(), 500)
				return s.repo.UpdateWithdrawal(ctx, w)
			})
			if restoreErr != nil {
				logger.Error("restore withdrawal balance failed",
					logger.Player(player),
					zap.String("withdraw_id", w.WithdrawID),
					zap.Error(restoreErr))
			}
			return errors.Wrap(errors.ErrTransferFailed, transferErr)
		}

		w.Status = model.WithdrawalStatusCompleted
		w.TxHash = txHash
		if err := s.repo.UpdateWithdrawal(ctx, w); err != nil {
			logger.Error("update withdrawal failed",
				zap.String("withdraw_id", w.WithdrawID),
				zap.String("tx_hash", txHash),
				zap.Error(err))
		}
		metrics.WithdrawalsTotal.WithLabelValues(string(asset), "completed").Inc()
		logger.Info("withdrawal completed",
			logger.Player(player),
			zap.String("asset", string(asset)),
			logger.BigInt("amount", amount),
			zap.String("tx_hash", txHash))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
