package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"gorm.io/gorm"
)

var (
	ErrStateNotFound       = errors.New("deployment state not found")
	ErrPeerNotFound        = errors.New("peer chain not found")
	ErrAdminActionNotFound = errors.New("admin action not found")
)

// StateRepository 部署状态 / 远端链 / 管理操作 / 消息记录仓储接口
type StateRepository interface {
	GetState(ctx context.Context, chainID uint64) (*model.DeploymentState, error)
	SaveState(ctx context.Context, state *model.DeploymentState) error

	UpsertPeer(ctx context.Context, peer *model.PeerChain) error
	GetPeer(ctx context.Context, chainID uint64) (*model.PeerChain, error)
	ListPeers(ctx context.Context, enabledOnly bool) ([]*model.PeerChain, error)

	CreateAdminAction(ctx context.Context, action *model.AdminAction) error
	GetAdminAction(ctx context.Context, actionID string) (*model.AdminAction, error)
	UpdateAdminAction(ctx context.Context, action *model.AdminAction) error

	// RecordMessage 记录消息, message_id 已存在时返回 false
	RecordMessage(ctx context.Context, msg *model.MessageLog) (bool, error)
}

type stateRepository struct {
	*Repository
}

// NewStateRepository 创建部署状态仓储
func NewStateRepository(db *gorm.DB) StateRepository {
	return &stateRepository{Repository: NewRepository(db)}
}

func (r *stateRepository) GetState(ctx context.Context, chainID uint64) (*model.DeploymentState, error) {
	var state model.DeploymentState
	err := ForUpdate.ApplyLock(r.DB(ctx)).Where("chain_id = ?", chainID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *stateRepository) SaveState(ctx context.Context, state *model.DeploymentState) error {
	state.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(state).Error
}

func (r *stateRepository) UpsertPeer(ctx context.Context, peer *model.PeerChain) error {
	existing, err := r.GetPeer(ctx, peer.ChainID)
	now := time.Now().UnixMilli()
	if errors.Is(err, ErrPeerNotFound) {
		peer.CreatedAt = now
		peer.UpdatedAt = now
		return r.DB(ctx).Create(peer).Error
	}
	if err != nil {
		return err
	}
	peer.ID = existing.ID
	peer.CreatedAt = existing.CreatedAt
	peer.UpdatedAt = now
	return r.DB(ctx).Save(peer).Error
}

func (r *stateRepository) GetPeer(ctx context.Context, chainID uint64) (*model.PeerChain, error) {
	var peer model.PeerChain
	err := r.DB(ctx).Where("chain_id = ?", chainID).First(&peer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPeerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &peer, nil
}

func (r *stateRepository) ListPeers(ctx context.Context, enabledOnly bool) ([]*model.PeerChain, error) {
	var peers []*model.PeerChain
	db := r.DB(ctx)
	if enabledOnly {
		db = db.Where("enabled = ?", true)
	}
	err := db.Order("chain_id ASC").Find(&peers).Error
	return peers, err
}

func (r *stateRepository) CreateAdminAction(ctx context.Context, action *model.AdminAction) error {
	action.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(action).Error
}

func (r *stateRepository) GetAdminAction(ctx context.Context, actionID string) (*model.AdminAction, error) {
	var action model.AdminAction
	err := r.DB(ctx).Where("action_id = ?", actionID).First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAdminActionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (r *stateRepository) UpdateAdminAction(ctx context.Context, action *model.AdminAction) error {
	return r.DB(ctx).Save(action).Error
}

func (r *stateRepository) RecordMessage(ctx context.Context, msg *model.MessageLog) (bool, error) {
	var count int64
	if err := r.DB(ctx).Model(&model.MessageLog{}).Where("message_id = ?", msg.MessageID).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	msg.CreatedAt = time.Now().UnixMilli()
	if err := r.DB(ctx).Create(msg).Error; err != nil {
		return false, err
	}
	return true, nil
}
