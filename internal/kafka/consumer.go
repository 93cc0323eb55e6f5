package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/crosschain"
	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

// TopicRandomnessFulfilled 随机数回调 Topic
// 生产者: 链上事件索引
// Partition Key: request_id
// 消息格式: model.RandomnessFulfilled
const TopicRandomnessFulfilled = "randomness-fulfilled"

// EnvelopeHandler 跨链入站消息处理
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env *crosschain.Envelope) error
}

// FulfillmentHandler 随机数回调处理
type FulfillmentHandler interface {
	HandleFulfilled(ctx context.Context, msg *model.RandomnessFulfilled) error
}

// RetryConfig 处理失败重试配置
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	ClientID    string
	ChainID     uint64
	SASL        config.SASLConfig
	Retry       *RetryConfig
	Envelopes   EnvelopeHandler
	Fulfillment FulfillmentHandler
}

// Consumer 消费组, 将消息分发给跨链与随机数服务
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *consumerGroupHandler
	topics  []string
	groupID string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = cfg.ClientID
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	if err := applySASL(sc, cfg.SASL); err != nil {
		return nil, err
	}

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, err
	}
	return newConsumer(client, cfg), nil
}

func newConsumer(client sarama.ConsumerGroup, cfg *ConsumerConfig) *Consumer {
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &Consumer{
		client: client,
		handler: &consumerGroupHandler{
			envelopeTopic: crosschain.Topic(cfg.ChainID),
			envelopes:     cfg.Envelopes,
			fulfillment:   cfg.Fulfillment,
			retry:         retry,
		},
		topics:  []string{crosschain.Topic(cfg.ChainID), TopicRandomnessFulfilled},
		groupID: cfg.GroupID,
	}
}

// Topics 订阅的 Topic
func (c *Consumer) Topics() []string {
	return c.topics
}

// Start 启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("consumer already running")
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for {
			if err := c.client.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))
	return nil
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.cancel()
	err := c.client.Close()
	<-c.done
	return err
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	envelopeTopic string
	envelopes     EnvelopeHandler
	fulfillment   FulfillmentHandler
	retry         *RetryConfig
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// process 处理单条消息, 失败按退避重试; 重试耗尽或无法解析的消息记录后跳过
func (h *consumerGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	backoff := h.retry.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := h.dispatch(ctx, msg.Topic, msg.Value)
		if err == nil {
			metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "success").Inc()
			return
		}
		var perr *poisonError
		if errors.As(err, &perr) {
			metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "malformed").Inc()
			logger.Warn("malformed kafka message skipped",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return
		}
		if attempt >= h.retry.MaxRetries || ctx.Err() != nil {
			metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "failed").Inc()
			logger.Error("kafka message handling failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}

		logger.Warn("kafka message handling failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
		if backoff > h.retry.MaxBackoff {
			backoff = h.retry.MaxBackoff
		}
	}
}

type poisonError struct{ err error }

func (e *poisonError) Error() string { return e.err.Error() }
func (e *poisonError) Unwrap() error { return e.err }

func (h *consumerGroupHandler) dispatch(ctx context.Context, topic string, value []byte) error {
	switch topic {
	case h.envelopeTopic:
		env, err := crosschain.DecodeEnvelope(value)
		if err != nil {
			return &poisonError{err}
		}
		return h.envelopes.HandleEnvelope(ctx, env)

	case TopicRandomnessFulfilled:
		if h.fulfillment == nil {
			return nil
		}
		var event model.RandomnessFulfilled
		if err := json.Unmarshal(value, &event); err != nil {
			return &poisonError{err}
		}
		return h.fulfillment.HandleFulfilled(ctx, &event)
	}
	logger.Warn("unknown topic", zap.String("topic", topic))
	return nil
}
