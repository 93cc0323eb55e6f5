package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"gorm.io/gorm"
)

var (
	ErrPaymentAssetNotFound = errors.New("payment asset not found")
	ErrPricingStateNotFound = errors.New("pricing state not found")
)

// PricingRepository 定价状态与替代支付资产仓储接口
type PricingRepository interface {
	GetState(ctx context.Context, name string) (*model.PricingState, error)
	SaveState(ctx context.Context, state *model.PricingState) error

	UpsertAsset(ctx context.Context, asset *model.PaymentAsset) error
	GetAsset(ctx context.Context, symbol string) (*model.PaymentAsset, error)
	ListAssets(ctx context.Context, enabledOnly bool) ([]*model.PaymentAsset, error)
	SaveAsset(ctx context.Context, asset *model.PaymentAsset) error
}

type pricingRepository struct {
	*Repository
}

// NewPricingRepository 创建定价仓储
func NewPricingRepository(db *gorm.DB) PricingRepository {
	return &pricingRepository{Repository: NewRepository(db)}
}

func (r *pricingRepository) GetState(ctx context.Context, name string) (*model.PricingState, error) {
	var state model.PricingState
	err := r.DB(ctx).Where("name = ?", name).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPricingStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *pricingRepository) SaveState(ctx context.Context, state *model.PricingState) error {
	state.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(state).Error
}

func (r *pricingRepository) UpsertAsset(ctx context.Context, asset *model.PaymentAsset) error {
	existing, err := r.GetAsset(ctx, asset.Symbol)
	now := time.Now().UnixMilli()
	if errors.Is(err, ErrPaymentAssetNotFound) {
		asset.CreatedAt = now
		asset.UpdatedAt = now
		return r.DB(ctx).Create(asset).Error
	}
	if err != nil {
		return err
	}
	asset.ID = existing.ID
	asset.CreatedAt = existing.CreatedAt
	if asset.LastValidPrice.IsZero() {
		asset.LastValidPrice = existing.LastValidPrice
	}
	if asset.CachedRate.IsZero() {
		asset.CachedRate = existing.CachedRate
		asset.LastUpdate = existing.LastUpdate
	}
	asset.UpdatedAt = now
	return r.DB(ctx).Save(asset).Error
}

func (r *pricingRepository) GetAsset(ctx context.Context, symbol string) (*model.PaymentAsset, error) {
	var asset model.PaymentAsset
	err := r.DB(ctx).Where("symbol = ?", symbol).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *pricingRepository) ListAssets(ctx context.Context, enabledOnly bool) ([]*model.PaymentAsset, error) {
	var assets []*model.PaymentAsset
	db := r.DB(ctx)
	if enabledOnly {
		db = db.Where("enabled = ?", true)
	}
	err := db.Order("symbol ASC").Find(&assets).Error
	return assets, err
}

func (r *pricingRepository) SaveAsset(ctx context.Context, asset *model.PaymentAsset) error {
	asset.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(asset).Error
}
