package crosschain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownPeer      = errors.New("destination chain is not a configured peer")
	ErrUntrustedSender  = errors.New("sender is not the allow-listed peer for source chain")
	ErrWrongDestination = errors.New("envelope addressed to another chain")
	ErrFeeTooLow        = errors.New("messaging fee below estimate")
)

// Topic 目标链入站消息 Topic
func Topic(chainID uint64) string {
	return fmt.Sprintf("crosschain-%d", chainID)
}

// Envelope 跨链消息信封
type Envelope struct {
	MessageID     string `json:"message_id"`
	SourceChainID uint64 `json:"source_chain_id"`
	DestChainID   uint64 `json:"dest_chain_id"`
	Sender        string `json:"sender"`
	Payload       []byte `json:"payload"`
	Fee           string `json:"fee"`
	SentAt        int64  `json:"sent_at"`
}

// DecodeEnvelope 解析信封
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.MessageID == "" || len(env.Payload) == 0 {
		return nil, errors.New("incomplete envelope")
	}
	return &env, nil
}

// Publisher 消息发布
type Publisher interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// PeerLookup 远端链白名单
type PeerLookup interface {
	GetPeer(ctx context.Context, chainID uint64) (*model.PeerChain, error)
}

// TransportConfig 传输配置
type TransportConfig struct {
	ChainID    uint64
	Sender     string // 本部署地址
	BaseFee    *big.Int
	PerByteFee *big.Int
}

// Transport 基于 Kafka 的跨链消息传输
// 费用模型: base + per_byte * len(payload)
type Transport struct {
	pub   Publisher
	peers PeerLookup
	cfg   TransportConfig
	now   func() time.Time
}

// NewTransport 创建跨链传输
func NewTransport(pub Publisher, peers PeerLookup, cfg TransportConfig) *Transport {
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(big.Int)
	}
	if cfg.PerByteFee == nil {
		cfg.PerByteFee = new(big.Int)
	}
	return &Transport{pub: pub, peers: peers, cfg: cfg, now: time.Now}
}

// ChainID 本链 ID
func (t *Transport) ChainID() uint64 {
	return t.cfg.ChainID
}

// EstimateFee 估算发送到目标链的消息费
func (t *Transport) EstimateFee(ctx context.Context, dest uint64, payload []byte) (*big.Int, error) {
	if _, err := t.peer(ctx, dest); err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(t.cfg.PerByteFee, big.NewInt(int64(len(payload))))
	return fee.Add(fee, t.cfg.BaseFee), nil
}

// Send 发送消息, 返回消息 ID
func (t *Transport) Send(ctx context.Context, dest uint64, payload []byte, fee *big.Int) (string, error) {
	required, err := t.EstimateFee(ctx, dest, payload)
	if err != nil {
		return "", err
	}
	if fee == nil || fee.Cmp(required) < 0 {
		return "", fmt.Errorf("%w: need %s", ErrFeeTooLow, required)
	}

	env := &Envelope{
		MessageID:     uuid.New().String(),
		SourceChainID: t.cfg.ChainID,
		DestChainID:   dest,
		Sender:        t.cfg.Sender,
		Payload:       payload,
		Fee:           fee.String(),
		SentAt:        t.now().UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	msgType := messageTypeOf(payload)
	if err := t.pub.Send(ctx, Topic(dest), env.MessageID, data); err != nil {
		metrics.RecordMessage("outbound", msgType, "failed")
		return "", err
	}
	metrics.RecordMessage("outbound", msgType, "sent")

	logger.Debug("cross-chain message sent",
		logger.ChainID(dest),
		zap.String("message_id", env.MessageID),
		zap.String("type", msgType))
	return env.MessageID, nil
}

// Verify 校验入站信封: 目标为本链, 发送方为来源链白名单地址
func (t *Transport) Verify(ctx context.Context, env *Envelope) error {
	if env.DestChainID != t.cfg.ChainID {
		return ErrWrongDestination
	}
	peer, err := t.peer(ctx, env.SourceChainID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(peer.Address, env.Sender) {
		return ErrUntrustedSender
	}
	return nil
}

func (t *Transport) peer(ctx context.Context, chainID uint64) (*model.PeerChain, error) {
	peer, err := t.peers.GetPeer(ctx, chainID)
	if errors.Is(err, repository.ErrPeerNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, chainID)
	}
	if err != nil {
		return nil, err
	}
	if !peer.Enabled {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, chainID)
	}
	return peer, nil
}

func messageTypeOf(payload []byte) string {
	outer, err := envelopeArgs.Unpack(payload)
	if err != nil {
		return MessageType(0).String()
	}
	return MessageType(outer[0].(uint8)).String()
}
