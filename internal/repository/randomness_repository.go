package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"gorm.io/gorm"
)

var ErrRandomnessRequestNotFound = errors.New("randomness request not found")

// RandomnessRepository 随机数请求仓储接口
type RandomnessRepository interface {
	Create(ctx context.Context, req *model.RandomnessRequest) error
	GetByRequestID(ctx context.Context, requestID string) (*model.RandomnessRequest, error)
	// MarkFulfilled 标记已履约, 已履约或不存在时返回 ErrStaleState
	MarkFulfilled(ctx context.Context, requestID string, words model.BigIntList, txHash string) error
	ListUnfulfilled(ctx context.Context, olderThan int64, limit int) ([]*model.RandomnessRequest, error)
}

type randomnessRepository struct {
	*Repository
}

// NewRandomnessRepository 创建随机数请求仓储
func NewRandomnessRepository(db *gorm.DB) RandomnessRepository {
	return &randomnessRepository{Repository: NewRepository(db)}
}

func (r *randomnessRepository) Create(ctx context.Context, req *model.RandomnessRequest) error {
	if req.RequestedAt == 0 {
		req.RequestedAt = time.Now().UnixMilli()
	}
	return r.DB(ctx).Create(req).Error
}

func (r *randomnessRepository) GetByRequestID(ctx context.Context, requestID string) (*model.RandomnessRequest, error) {
	var req model.RandomnessRequest
	err := r.DB(ctx).Where("request_id = ?", requestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRandomnessRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *randomnessRepository) MarkFulfilled(ctx context.Context, requestID string, words model.BigIntList, txHash string) error {
	result := r.DB(ctx).Model(&model.RandomnessRequest{}).
		Where("request_id = ? AND registered = ? AND fulfilled = ?", requestID, true, false).
		Updates(map[string]interface{}{
			"fulfilled":    true,
			"random_words": words,
			"tx_hash":      txHash,
			"fulfilled_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *randomnessRepository) ListUnfulfilled(ctx context.Context, olderThan int64, limit int) ([]*model.RandomnessRequest, error) {
	var reqs []*model.RandomnessRequest
	err := r.DB(ctx).
		Where("fulfilled = ? AND requested_at < ?", false, olderThan).
		Order("requested_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}
