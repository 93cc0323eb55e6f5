package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"gorm.io/gorm"
)

var ErrGameNotFound = errors.New("coinflip game not found")

// CoinflipRepository 猜硬币对局仓储接口
type CoinflipRepository interface {
	Create(ctx context.Context, game *model.CoinflipGame) error
	GetByGameID(ctx context.Context, gameID string, opts *QueryOptions) (*model.CoinflipGame, error)
	GetByRequestID(ctx context.Context, requestID string) (*model.CoinflipGame, error)
	Update(ctx context.Context, game *model.CoinflipGame) error
	ListByStatus(ctx context.Context, status model.GameStatus, page *Pagination) ([]*model.CoinflipGame, error)
}

type coinflipRepository struct {
	*Repository
}

// NewCoinflipRepository 创建猜硬币仓储
func NewCoinflipRepository(db *gorm.DB) CoinflipRepository {
	return &coinflipRepository{Repository: NewRepository(db)}
}

func (r *coinflipRepository) Create(ctx context.Context, game *model.CoinflipGame) error {
	now := time.Now().UnixMilli()
	game.CreatedAt = now
	game.UpdatedAt = now
	return r.DB(ctx).Create(game).Error
}

func (r *coinflipRepository) GetByGameID(ctx context.Context, gameID string, opts *QueryOptions) (*model.CoinflipGame, error) {
	var game model.CoinflipGame
	err := opts.ApplyLock(r.DB(ctx)).Where("game_id = ?", gameID).First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (r *coinflipRepository) GetByRequestID(ctx context.Context, requestID string) (*model.CoinflipGame, error) {
	var game model.CoinflipGame
	err := r.DB(ctx).Where("randomness_request_id = ?", requestID).First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (r *coinflipRepository) Update(ctx context.Context, game *model.CoinflipGame) error {
	game.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(game).Error
}

func (r *coinflipRepository) ListByStatus(ctx context.Context, status model.GameStatus, page *Pagination) ([]*model.CoinflipGame, error) {
	var games []*model.CoinflipGame
	if err := r.DB(ctx).Model(&model.CoinflipGame{}).Where("status = ?", status).Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := r.DB(ctx).Where("status = ?", status).
		Order("created_at DESC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&games).Error
	return games, err
}
