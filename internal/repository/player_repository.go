package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPlayerNotFound      = errors.New("player account not found")
	ErrInsufficientPending = errors.New("insufficient pending balance")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrDepositClaimed      = errors.New("deposit already claimed")
)

// PlayerRepository 玩家账本仓储接口
type PlayerRepository interface {
	Get(ctx context.Context, player string) (*model.PlayerAccount, error)
	GetOrCreate(ctx context.Context, player string) (*model.PlayerAccount, error)
	Update(ctx context.Context, account *model.PlayerAccount) error
	// Credit 增加待提取余额
	Credit(ctx context.Context, player string, asset model.Asset, amount decimal.Decimal) error
	// Debit 扣减待提取余额, 余额不足返回 ErrInsufficientPending
	Debit(ctx context.Context, player string, asset model.Asset, amount decimal.Decimal) error
	// DebitAll 清零并返回待提取余额
	DebitAll(ctx context.Context, player string, asset model.Asset) (decimal.Decimal, error)
	RecordEntry(ctx context.Context, player string, points int64) error
	RevertEntry(ctx context.Context, player string, points int64) error
	RecordWinnings(ctx context.Context, player string, amount decimal.Decimal) error

	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawID string) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, player string, page *Pagination) ([]*model.Withdrawal, error)

	// ClaimDeposit 登记入金交易, 已登记返回 ErrDepositClaimed
	ClaimDeposit(ctx context.Context, d *model.NativeDeposit) error
}

type playerRepository struct {
	*Repository
}

// NewPlayerRepository 创建玩家账本仓储
func NewPlayerRepository(db *gorm.DB) PlayerRepository {
	return &playerRepository{Repository: NewRepository(db)}
}

func (r *playerRepository) Get(ctx context.Context, player string) (*model.PlayerAccount, error) {
	var account model.PlayerAccount
	err := ForUpdate.ApplyLock(r.DB(ctx)).Where("player = ?", player).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *playerRepository) GetOrCreate(ctx context.Context, player string) (*model.PlayerAccount, error) {
	account, err := r.Get(ctx, player)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrPlayerNotFound) {
		return nil, err
	}
	now := time.Now().UnixMilli()
	account = &model.PlayerAccount{
		Player:        player,
		PendingToken:  decimal.Zero,
		PendingNative: decimal.Zero,
		TotalWinnings: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.DB(ctx).Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

func (r *playerRepository) Update(ctx context.Context, account *model.PlayerAccount) error {
	account.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(account).Error
}

func (r *playerRepository) Credit(ctx context.Context, player string, asset model.Asset, amount decimal.Decimal) error {
	return r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		if asset == model.AssetNative {
			a.PendingNative = a.PendingNative.Add(amount)
		} else {
			a.PendingToken = a.PendingToken.Add(amount)
		}
		return nil
	})
}

func (r *playerRepository) Debit(ctx context.Context, player string, asset model.Asset, amount decimal.Decimal) error {
	return r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		if a.Pending(asset).LessThan(amount) {
			return ErrInsufficientPending
		}
		if asset == model.AssetNative {
			a.PendingNative = a.PendingNative.Sub(amount)
		} else {
			a.PendingToken = a.PendingToken.Sub(amount)
		}
		return nil
	})
}

func (r *playerRepository) DebitAll(ctx context.Context, player string, asset model.Asset) (decimal.Decimal, error) {
	amount := decimal.Zero
	err := r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		amount = a.Pending(asset)
		if asset == model.AssetNative {
			a.PendingNative = decimal.Zero
		} else {
			a.PendingToken = decimal.Zero
		}
		return nil
	})
	return amount, err
}

func (r *playerRepository) RecordEntry(ctx context.Context, player string, points int64) error {
	return r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		a.EntryCount++
		a.Points += points
		return nil
	})
}

func (r *playerRepository) RevertEntry(ctx context.Context, player string, points int64) error {
	return r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		if a.EntryCount > 0 {
			a.EntryCount--
		}
		a.Points -= points
		if a.Points < 0 {
			a.Points = 0
		}
		return nil
	})
}

func (r *playerRepository) RecordWinnings(ctx context.Context, player string, amount decimal.Decimal) error {
	return r.mutate(ctx, player, func(a *model.PlayerAccount) error {
		a.TotalWinnings = a.TotalWinnings.Add(amount)
		return nil
	})
}

// mutate 读取 (不存在则创建) 后修改并保存, 调用方负责事务边界
func (r *playerRepository) mutate(ctx context.Context, player string, fn func(a *model.PlayerAccount) error) error {
	account, err := r.GetOrCreate(ctx, player)
	if err != nil {
		return err
	}
	if err := fn(account); err != nil {
		return err
	}
	return r.Update(ctx, account)
}

func (r *playerRepository) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	now := time.Now().UnixMilli()
	w.CreatedAt = now
	w.UpdatedAt = now
	return r.DB(ctx).Create(w).Error
}

func (r *playerRepository) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	w.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(w).Error
}

func (r *playerRepository) GetWithdrawal(ctx context.Context, withdrawID string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.DB(ctx).Where("withdraw_id = ?", withdrawID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *playerRepository) ListWithdrawals(ctx context.Context, player string, page *Pagination) ([]*model.Withdrawal, error) {
	var list []*model.Withdrawal
	if err := r.DB(ctx).Model(&model.Withdrawal{}).Where("player = ?", player).Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := r.DB(ctx).Where("player = ?", player).
		Order("created_at DESC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&list).Error
	return list, err
}

func (r *playerRepository) ClaimDeposit(ctx context.Context, d *model.NativeDeposit) error {
	var count int64
	if err := r.DB(ctx).Model(&model.NativeDeposit{}).Where("tx_hash = ?", d.TxHash).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDepositClaimed
	}
	d.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(d).Error
}
