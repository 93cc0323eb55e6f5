package service

import (
	"context"
	"math/big"
	"strings"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

// 入金用途
const (
	PurposeLotteryEntry = "lottery_entry"
	PurposeCoinflipFee  = "coinflip_fee"
)

// NativeFunds 原生币支付来源
// 玩家要么提交转入收款地址的入金交易 (每笔只能使用一次), 要么使用账本中的原生币余额
type NativeFunds struct {
	ledger   *LedgerService
	tx       repository.TxManager
	verifier DepositVerifier
}

// NewNativeFunds 创建原生币支付来源, verifier 为空时只接受账本余额
func NewNativeFunds(ledger *LedgerService, tx repository.TxManager, verifier DepositVerifier) *NativeFunds {
	return &NativeFunds{ledger: ledger, tx: tx, verifier: verifier}
}

// Take 收取原生币
// depositTx 非空时返回入金交易的全部金额, 否则从玩家账本扣减 amount
func (f *NativeFunds) Take(ctx context.Context, player, depositTx string, amount *big.Int, purpose string) (*big.Int, error) {
	if depositTx == "" {
		if amount == nil || amount.Sign() <= 0 {
			return nil, errors.ErrInsufficientPayment.WithMessage("未指定原生币金额")
		}
		err := f.tx.Transaction(ctx, func(ctx context.Context) error {
			return f.ledger.Debit(ctx, player, model.AssetNative, amount)
		})
		if err != nil {
			return nil, err
		}
		return new(big.Int).Set(amount), nil
	}

	if f.verifier == nil {
		return nil, errors.ErrDepositInvalid.WithMessage("未启用入金校验")
	}
	d, err := f.verifier.VerifyDeposit(ctx, depositTx)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(d.From, player) {
		return nil, errors.ErrDepositInvalid.WithMessage("入金交易发送方不是参与玩家")
	}
	err = f.tx.Transaction(ctx, func(ctx context.Context) error {
		return f.ledger.ClaimDeposit(ctx, d, player, purpose)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("native deposit claimed",
		logger.Player(player),
		zap.String("tx_hash", d.TxHash),
		logger.BigInt("amount", d.Value),
		zap.String("purpose", purpose))
	return new(big.Int).Set(d.Value), nil
}

// Refund 已收取的原生币退回账本
func (f *NativeFunds) Refund(ctx context.Context, player string, amount *big.Int, reason string) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	err := f.tx.Transaction(ctx, func(ctx context.Context) error {
		return f.ledger.Credit(ctx, player, model.AssetNative, amount)
	})
	if err != nil {
		logger.Error("native refund failed",
			logger.Player(player),
			logger.BigInt("amount", amount),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	logger.Warn("native payment refunded to ledger",
		logger.Player(player),
		logger.BigInt("amount", amount),
		zap.String("reason", reason))
}
