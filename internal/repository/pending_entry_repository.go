package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"gorm.io/gorm"
)

var ErrPendingEntryNotFound = errors.New("pending entry not found")

// PendingEntryRepository 跨链待确认参与仓储接口
type PendingEntryRepository interface {
	Create(ctx context.Context, entry *model.PendingEntry) error
	GetByPlayer(ctx context.Context, player string) (*model.PendingEntry, error)
	Update(ctx context.Context, entry *model.PendingEntry) error
	Delete(ctx context.Context, player string) error
	Exists(ctx context.Context, player string) (bool, error)
	ListSubmittedBefore(ctx context.Context, before int64, limit int) ([]*model.PendingEntry, error)
	List(ctx context.Context, page *Pagination) ([]*model.PendingEntry, error)
}

type pendingEntryRepository struct {
	*Repository
}

// NewPendingEntryRepository 创建待确认参与仓储
func NewPendingEntryRepository(db *gorm.DB) PendingEntryRepository {
	return &pendingEntryRepository{Repository: NewRepository(db)}
}

func (r *pendingEntryRepository) Create(ctx context.Context, entry *model.PendingEntry) error {
	now := time.Now().UnixMilli()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.SubmittedAt == 0 {
		entry.SubmittedAt = now
	}
	return r.DB(ctx).Create(entry).Error
}

func (r *pendingEntryRepository) GetByPlayer(ctx context.Context, player string) (*model.PendingEntry, error) {
	var entry model.PendingEntry
	err := r.DB(ctx).Where("player = ?", player).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPendingEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *pendingEntryRepository) Update(ctx context.Context, entry *model.PendingEntry) error {
	entry.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(entry).Error
}

func (r *pendingEntryRepository) Delete(ctx context.Context, player string) error {
	result := r.DB(ctx).Where("player = ?", player).Delete(&model.PendingEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPendingEntryNotFound
	}
	return nil
}

func (r *pendingEntryRepository) Exists(ctx context.Context, player string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.PendingEntry{}).Where("player = ?", player).Count(&count).Error
	return count > 0, err
}

func (r *pendingEntryRepository) ListSubmittedBefore(ctx context.Context, before int64, limit int) ([]*model.PendingEntry, error) {
	var entries []*model.PendingEntry
	err := r.DB(ctx).
		Where("submitted_at < ?", before).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *pendingEntryRepository) List(ctx context.Context, page *Pagination) ([]*model.PendingEntry, error) {
	var entries []*model.PendingEntry
	if err := r.DB(ctx).Model(&model.PendingEntry{}).Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := r.DB(ctx).Order("submitted_at ASC").Offset(page.Offset()).Limit(page.Limit()).Find(&entries).Error
	return entries, err
}
