package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
)

// PeerStore 对端链登记
type PeerStore interface {
	GetPeer(ctx context.Context, chainID uint64) (*model.PeerChain, error)
	UpsertPeer(ctx context.Context, peer *model.PeerChain) error
}

// RoundInitializer 部署状态初始化
type RoundInitializer interface {
	EnsureInitialized(ctx context.Context, vrf service.VRFParams) (*model.DeploymentState, error)
}

// PricingInitializer 定价状态初始化
type PricingInitializer interface {
	State(ctx context.Context) (*model.PricingState, error)
}

// AutoMigrate 迁移全部表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(repository.Models()...)
}

// Bootstrap 首次启动时写入部署状态、定价状态与配置中的对端链
// 已存在的记录保持不变, 管理接口的修改不会被配置覆盖
func Bootstrap(ctx context.Context, cfg *config.Config, peers PeerStore, rounds RoundInitializer, pricing PricingInitializer) error {
	deployment, err := rounds.EnsureInitialized(ctx, service.VRFParams{
		CallbackGas:   cfg.VRF.CallbackGas,
		Confirmations: cfg.VRF.Confirmations,
		NumWords:      cfg.VRF.NumWords,
	})
	if err != nil {
		return fmt.Errorf("init deployment state: %w", err)
	}

	if _, err := pricing.State(ctx); err != nil {
		return fmt.Errorf("init pricing state: %w", err)
	}

	seeded := 0
	for _, p := range cfg.Chain.Peers {
		if p.ChainID == uint64(cfg.Blockchain.ChainID) {
			continue
		}
		if !common.IsHexAddress(p.Address) {
			return fmt.Errorf("peer %d: invalid address %q", p.ChainID, p.Address)
		}
		_, err := peers.GetPeer(ctx, p.ChainID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrPeerNotFound) {
			return fmt.Errorf("load peer %d: %w", p.ChainID, err)
		}
		if err := peers.UpsertPeer(ctx, &model.PeerChain{
			ChainID: p.ChainID,
			Address: common.HexToAddress(p.Address).Hex(),
			Enabled: true,
		}); err != nil {
			return fmt.Errorf("seed peer %d: %w", p.ChainID, err)
		}
		seeded++
	}

	logger.Info("state bootstrapped",
		logger.RoundID(deployment.CurrentRoundID),
		zap.Int("peers_seeded", seeded))
	return nil
}
