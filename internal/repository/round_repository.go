package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoundNotFound = errors.New("round not found")
	ErrEntryNotFound = errors.New("round entry not found")
)

// RoundRepository 轮次仓储接口
type RoundRepository interface {
	Create(ctx context.Context, round *model.Round) error
	GetByRoundID(ctx context.Context, roundID uint64, opts *QueryOptions) (*model.Round, error)
	Update(ctx context.Context, round *model.Round) error
	// UpdateStatus 仅当当前状态为 from 时推进到 to
	UpdateStatus(ctx context.Context, roundID uint64, from, to model.RoundStatus, fields map[string]interface{}) error
	ListByStatus(ctx context.Context, status model.RoundStatus, limit int) ([]*model.Round, error)
	List(ctx context.Context, page *Pagination) ([]*model.Round, error)

	CreateEntry(ctx context.Context, entry *model.RoundEntry) error
	GetEntry(ctx context.Context, roundID uint64, player string) (*model.RoundEntry, error)
	UpdateEntry(ctx context.Context, entry *model.RoundEntry) error
	DeleteEntry(ctx context.Context, roundID uint64, player string) error
	ListEntries(ctx context.Context, roundID uint64) ([]*model.RoundEntry, error)
	NextPosition(ctx context.Context, roundID uint64) (int, error)

	// AdjustChainStat 调整来源链统计, 不存在时创建
	AdjustChainStat(ctx context.Context, roundID, chainID uint64, playerDelta int, amountDelta decimal.Decimal) error
	ListChainStats(ctx context.Context, roundID uint64) ([]*model.RoundChainStat, error)
}

type roundRepository struct {
	*Repository
}

// NewRoundRepository 创建轮次仓储
func NewRoundRepository(db *gorm.DB) RoundRepository {
	return &roundRepository{Repository: NewRepository(db)}
}

func (r *roundRepository) Create(ctx context.Context, round *model.Round) error {
	now := time.Now().UnixMilli()
	round.CreatedAt = now
	round.UpdatedAt = now
	if round.StartTime == 0 {
		round.StartTime = now
	}
	return r.DB(ctx).Create(round).Error
}

func (r *roundRepository) GetByRoundID(ctx context.Context, roundID uint64, opts *QueryOptions) (*model.Round, error) {
	var round model.Round
	err := opts.ApplyLock(r.DB(ctx)).Where("round_id = ?", roundID).First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (r *roundRepository) Update(ctx context.Context, round *model.Round) error {
	round.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(round).Error
}

func (r *roundRepository) UpdateStatus(ctx context.Context, roundID uint64, from, to model.RoundStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UnixMilli(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.DB(ctx).Model(&model.Round{}).
		Where("round_id = ? AND status = ?", roundID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *roundRepository) ListByStatus(ctx context.Context, status model.RoundStatus, limit int) ([]*model.Round, error) {
	var rounds []*model.Round
	err := r.DB(ctx).Where("status = ?", status).Order("round_id ASC").Limit(limit).Find(&rounds).Error
	return rounds, err
}

func (r *roundRepository) List(ctx context.Context, page *Pagination) ([]*model.Round, error) {
	var rounds []*model.Round
	if err := r.DB(ctx).Model(&model.Round{}).Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := r.DB(ctx).Order("round_id DESC").Offset(page.Offset()).Limit(page.Limit()).Find(&rounds).Error
	return rounds, err
}

func (r *roundRepository) CreateEntry(ctx context.Context, entry *model.RoundEntry) error {
	entry.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(entry).Error
}

func (r *roundRepository) GetEntry(ctx context.Context, roundID uint64, player string) (*model.RoundEntry, error) {
	var entry model.RoundEntry
	err := r.DB(ctx).Where("round_id = ? AND player = ?", roundID, player).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *roundRepository) UpdateEntry(ctx context.Context, entry *model.RoundEntry) error {
	return r.DB(ctx).Save(entry).Error
}

func (r *roundRepository) DeleteEntry(ctx context.Context, roundID uint64, player string) error {
	result := r.DB(ctx).Where("round_id = ? AND player = ?", roundID, player).Delete(&model.RoundEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *roundRepository) ListEntries(ctx context.Context, roundID uint64) ([]*model.RoundEntry, error) {
	var entries []*model.RoundEntry
	err := r.DB(ctx).Where("round_id = ?", roundID).Order("position ASC").Find(&entries).Error
	return entries, err
}

func (r *roundRepository) NextPosition(ctx context.Context, roundID uint64) (int, error) {
	var maxPos sql.NullInt64
	err := r.DB(ctx).Model(&model.RoundEntry{}).
		Where("round_id = ?", roundID).
		Select("MAX(position)").
		Row().Scan(&maxPos)
	if err != nil {
		return 0, err
	}
	if !maxPos.Valid {
		return 0, nil
	}
	return int(maxPos.Int64) + 1, nil
}

func (r *roundRepository) AdjustChainStat(ctx context.Context, roundID, chainID uint64, playerDelta int, amountDelta decimal.Decimal) error {
	var stat model.RoundChainStat
	err := r.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("round_id = ? AND chain_id = ?", roundID, chainID).
		First(&stat).Error
	now := time.Now().UnixMilli()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stat = model.RoundChainStat{
			RoundID:      roundID,
			ChainID:      chainID,
			PlayerCount:  playerDelta,
			Contribution: amountDelta,
			UpdatedAt:    now,
		}
		return r.DB(ctx).Create(&stat).Error
	}
	if err != nil {
		return err
	}
	stat.PlayerCount += playerDelta
	stat.Contribution = stat.Contribution.Add(amountDelta)
	stat.UpdatedAt = now
	return r.DB(ctx).Save(&stat).Error
}

func (r *roundRepository) ListChainStats(ctx context.Context, roundID uint64) ([]*model.RoundChainStat, error) {
	var stats []*model.RoundChainStat
	err := r.DB(ctx).Where("round_id = ?", roundID).Order("chain_id ASC").Find(&stats).Error
	return stats, err
}
