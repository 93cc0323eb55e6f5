// Package metrics 提供 eidos-lottery 服务的 Prometheus 监控指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_lottery"

// 轮次指标
var (
	// EntriesTotal 参与总数
	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "参与总数",
		},
		[]string{"method", "source"}, // method: token/native, source: local/remote
	)

	// EntriesRejectedTotal 被拒绝的参与
	EntriesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_rejected_total",
			Help:      "被拒绝的参与次数",
		},
		[]string{"reason"},
	)

	// RoundTransitionsTotal 轮次状态迁移
	RoundTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_transitions_total",
			Help:      "轮次状态迁移次数",
		},
		[]string{"to"},
	)

	// CurrentRoundGauge 当前轮次号
	CurrentRoundGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round_id",
			Help:      "当前活跃轮次号",
		},
	)

	// RoundPlayersGauge 当前轮次人数
	RoundPlayersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round_players",
			Help:      "当前轮次已参与人数",
		},
	)

	// PrizeDustTotal 分配舍入保留的余数
	PrizeDustTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prize_dust_units_total",
			Help:      "奖金分配整除余数累计 (最小单位)",
		},
	)
)

// 随机数指标
var (
	// RandomnessRequestsTotal 随机数请求
	RandomnessRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "randomness_requests_total",
			Help:      "随机数请求次数",
		},
		[]string{"kind", "status"}, // status: requested/underfunded/failed
	)

	// RandomnessCallbacksTotal 随机数回调
	RandomnessCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "randomness_callbacks_total",
			Help:      "随机数回调次数",
		},
		[]string{"status"}, // status: fulfilled/ignored
	)

	// ProviderBalanceGauge 随机数服务订阅余额
	ProviderBalanceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "randomness_provider_balance",
			Help:      "随机数服务订阅余额 (最小单位)",
		},
	)
)

// 定价指标
var (
	// OracleReadingsTotal 预言机读数
	OracleReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_readings_total",
			Help:      "预言机读数次数",
		},
		[]string{"source", "result"}, // result: valid/invalid/fallback
	)

	// SlippageBpsGauge 当前滑点
	SlippageBpsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slippage_bps",
			Help:      "当前自适应滑点 (bps)",
		},
	)

	// SwapsTotal 兑换次数
	SwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "原生币兑换平台代币次数",
		},
		[]string{"status"},
	)

	// SwapDuration 兑换耗时
	SwapDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "兑换耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// AssetRateClampedTotal 替代资产价格被熔断截断
	AssetRateClampedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_rate_clamped_total",
			Help:      "替代资产价格单次变化超限被截断次数",
		},
		[]string{"symbol"},
	)

	// CircuitBreakerState 熔断器状态
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "熔断器状态 (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// 跨链指标
var (
	// CrossChainMessagesTotal 跨链消息
	CrossChainMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosschain_messages_total",
			Help:      "跨链消息数量",
		},
		[]string{"direction", "type", "status"},
	)

	// PendingEntriesGauge 待确认跨链参与
	PendingEntriesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_entries",
			Help:      "待主链确认的跨链参与数量",
		},
	)

	// PendingEntriesResolvedTotal 跨链参与结果
	PendingEntriesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_entries_resolved_total",
			Help:      "跨链参与处理结果",
		},
		[]string{"outcome"}, // accepted/rejected/swept/unwound
	)
)

// 账本指标
var (
	// WithdrawalsTotal 提取次数
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "玩家提取次数",
		},
		[]string{"asset", "status"},
	)

	// CoinflipGamesTotal 猜硬币对局事件
	CoinflipGamesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coinflip_games_total",
			Help:      "猜硬币对局事件",
		},
		[]string{"event"}, // created/joined/resolved/cancelled
	)
)

// 基础设施指标
var (
	// HTTPRequestsTotal HTTP 请求
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// KafkaMessagesConsumed Kafka 消费
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Kafka 消费消息数",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesProduced Kafka 生产
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息数",
		},
		[]string{"topic", "status"},
	)

	// JobRunsTotal 定时任务执行
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "定时任务执行次数",
		},
		[]string{"job", "status"}, // status: success/failed/skipped
	)

	// JobDuration 定时任务耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定时任务耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"job"},
	)
)

// RecordEntry 记录参与
func RecordEntry(method, source string) {
	EntriesTotal.WithLabelValues(method, source).Inc()
}

// RecordEntryRejected 记录被拒绝的参与
func RecordEntryRejected(reason string) {
	EntriesRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordRoundTransition 记录轮次迁移
func RecordRoundTransition(to string) {
	RoundTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordSwap 记录兑换
func RecordSwap(status string, d time.Duration) {
	SwapsTotal.WithLabelValues(status).Inc()
	SwapDuration.Observe(d.Seconds())
}

// RecordMessage 记录跨链消息
func RecordMessage(direction, msgType, status string) {
	CrossChainMessagesTotal.WithLabelValues(direction, msgType, status).Inc()
}

// RecordJob 记录定时任务
func RecordJob(job, status string, d time.Duration) {
	JobRunsTotal.WithLabelValues(job, status).Inc()
	if d > 0 {
		JobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
