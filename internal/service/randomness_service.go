package service

import (
	"context"
	stderrors "errors"
	"math/big"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

// RandomnessService 按请求用途分发随机数回调
type RandomnessService struct {
	requests repository.RandomnessRepository
	rounds   *RoundService
	coinflip *CoinflipService
	verifier FulfillmentVerifier
}

// NewRandomnessService 创建随机数回调分发, verifier 为空时不做链上校验
func NewRandomnessService(requests repository.RandomnessRepository, rounds *RoundService, coinflip *CoinflipService, verifier FulfillmentVerifier) *RandomnessService {
	return &RandomnessService{requests: requests, rounds: rounds, coinflip: coinflip, verifier: verifier}
}

// HandleFulfilled 处理随机数回调事件
// 未知请求、无法解析的随机数与未通过链上校验的回调直接忽略; 链上查询失败时返回错误等待重投
func (s *RandomnessService) HandleFulfilled(ctx context.Context, msg *model.RandomnessFulfilled) error {
	req, err := s.requests.GetByRequestID(ctx, msg.RequestID)
	if stderrors.Is(err, repository.ErrRandomnessRequestNotFound) {
		metrics.RandomnessCallbacksTotal.WithLabelValues("ignored").Inc()
		logger.Debug("randomness callback for unknown request ignored", zap.String("request_id", msg.RequestID))
		return nil
	}
	if err != nil {
		return err
	}

	words, err := model.BigIntList(msg.RandomWords).Ints()
	if err != nil {
		metrics.RandomnessCallbacksTotal.WithLabelValues("ignored").Inc()
		logger.Warn("malformed random words ignored",
			zap.String("request_id", msg.RequestID),
			zap.Error(err))
		return nil
	}

	if s.verifier != nil && !req.Fulfilled {
		if err := s.verifier.VerifyFulfillment(ctx, msg, words); err != nil {
			if errors.IsDependency(err) {
				return err
			}
			metrics.RandomnessCallbacksTotal.WithLabelValues("unverified").Inc()
			logger.Warn("unverified randomness callback ignored",
				zap.String("request_id", msg.RequestID),
				zap.String("tx_hash", msg.TxHash),
				zap.Int64("block_number", msg.BlockNumber),
				zap.Error(err))
			return nil
		}
	}
	return s.dispatch(ctx, req, msg.RequestID, words, msg.TxHash)
}

func (s *RandomnessService) dispatch(ctx context.Context, req *model.RandomnessRequest, requestID string, words []*big.Int, txHash string) error {
	switch req.Kind {
	case model.RandomnessKindLottery:
		return s.rounds.FulfillRandomness(ctx, requestID, words, txHash)
	case model.RandomnessKindCoinflip:
		if s.coinflip == nil {
			return nil
		}
		return s.coinflip.Fulfill(ctx, requestID, words, txHash)
	}
	logger.Warn("randomness callback with unknown kind", zap.String("request_id", requestID), zap.Int8("kind", int8(req.Kind)))
	return nil
}

// Fulfill 以随机数直接完成请求, 不经过链上校验 (测试与手工补偿)
func (s *RandomnessService) Fulfill(ctx context.Context, requestID string, words []*big.Int) error {
	req, err := s.requests.GetByRequestID(ctx, requestID)
	if stderrors.Is(err, repository.ErrRandomnessRequestNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dispatch(ctx, req, requestID, words, "")
}
