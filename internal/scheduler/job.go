package scheduler

import (
	"context"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"go.uber.org/zap"
)

// Job 任务接口
type Job interface {
	Name() string
	Execute(ctx context.Context) (*JobResult, error)
	Timeout() time.Duration
	// LockTTL 为 0 表示无需分布式锁
	LockTTL() time.Duration
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	ErrorCount     int
	Details        map[string]interface{}
}

// BaseJob 基础任务实现
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{name: name, timeout: timeout, lockTTL: lockTTL}
}

func (j BaseJob) Name() string           { return j.name }
func (j BaseJob) Timeout() time.Duration { return j.timeout }
func (j BaseJob) LockTTL() time.Duration { return j.lockTTL }

// 任务名称
const (
	JobNameSweepPending    = "sweep-pending-entries"
	JobNameRateRefresh     = "asset-rate-refresh"
	JobNameRandomnessRetry = "randomness-retry"
	JobNameFundingCheck    = "provider-funding-check"
	JobNameSettleResume    = "settlement-resume"
)

// PendingSweeper 过期待确认参与清理
type PendingSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// SweepPendingJob 卫星链清理超时未确认的跨链参与
type SweepPendingJob struct {
	BaseJob
	sweeper   PendingSweeper
	batchSize int
}

// NewSweepPendingJob 创建清理任务
func NewSweepPendingJob(sweeper PendingSweeper, batchSize int, timeout time.Duration) *SweepPendingJob {
	return &SweepPendingJob{
		BaseJob:   NewBaseJob(JobNameSweepPending, timeout, timeout+10*time.Second),
		sweeper:   sweeper,
		batchSize: batchSize,
	}
}

// Execute 分批清理直到没有过期条目
func (j *SweepPendingJob) Execute(ctx context.Context) (*JobResult, error) {
	result := &JobResult{}
	for {
		n, err := j.sweeper.SweepExpired(ctx, j.batchSize)
		result.ProcessedCount += n
		if err != nil {
			return result, err
		}
		if n < j.batchSize || ctx.Err() != nil {
			return result, nil
		}
	}
}

// RateRefresher 替代资产汇率刷新
type RateRefresher interface {
	RefreshAll(ctx context.Context) ([]*pricing.AssetRate, error)
}

// RateRefreshJob 定时刷新替代资产汇率缓存
type RateRefreshJob struct {
	BaseJob
	rates RateRefresher
}

// NewRateRefreshJob 创建汇率刷新任务
func NewRateRefreshJob(rates RateRefresher, timeout time.Duration) *RateRefreshJob {
	return &RateRefreshJob{
		BaseJob: NewBaseJob(JobNameRateRefresh, timeout, timeout+10*time.Second),
		rates:   rates,
	}
}

// Execute 单个资产失败不影响其他资产, 错误计入结果
func (j *RateRefreshJob) Execute(ctx context.Context) (*JobResult, error) {
	rates, err := j.rates.RefreshAll(ctx)
	result := &JobResult{ProcessedCount: len(rates), Details: map[string]interface{}{}}
	for _, r := range rates {
		if r.Clamped || r.Stale {
			result.AffectedCount++
		}
		result.Details[r.Symbol] = r.Rate.String()
	}
	if err != nil {
		result.ErrorCount++
		logger.Warn("asset rate refresh incomplete", zap.Error(err))
	}
	return result, nil
}

// RandomnessRetrier 已满轮次的随机数补发
type RandomnessRetrier interface {
	RetryPendingRandomness(ctx context.Context, limit int) (int, error)
}

// RandomnessRetryJob 为余额不足时停在 Full 的轮次补发随机数请求
type RandomnessRetryJob struct {
	BaseJob
	rounds RandomnessRetrier
	limit  int
}

// NewRandomnessRetryJob 创建随机数补发任务
func NewRandomnessRetryJob(rounds RandomnessRetrier, limit int, timeout time.Duration) *RandomnessRetryJob {
	return &RandomnessRetryJob{
		BaseJob: NewBaseJob(JobNameRandomnessRetry, timeout, timeout+10*time.Second),
		rounds:  rounds,
		limit:   limit,
	}
}

func (j *RandomnessRetryJob) Execute(ctx context.Context) (*JobResult, error) {
	n, err := j.rounds.RetryPendingRandomness(ctx, j.limit)
	if err != nil {
		return nil, err
	}
	return &JobResult{AffectedCount: n}, nil
}

// SettlementResumer 中断结算续完
type SettlementResumer interface {
	ResumeSettlement(ctx context.Context, limit int) (int, error)
}

// SettlementResumeJob 续完停在 WinnersSelected 或 PrizesDistributed 的轮次
type SettlementResumeJob struct {
	BaseJob
	rounds SettlementResumer
	limit  int
}

// NewSettlementResumeJob 创建结算续完任务
func NewSettlementResumeJob(rounds SettlementResumer, limit int, timeout time.Duration) *SettlementResumeJob {
	return &SettlementResumeJob{
		BaseJob: NewBaseJob(JobNameSettleResume, timeout, timeout+10*time.Second),
		rounds:  rounds,
		limit:   limit,
	}
}

func (j *SettlementResumeJob) Execute(ctx context.Context) (*JobResult, error) {
	n, err := j.rounds.ResumeSettlement(ctx, j.limit)
	if err != nil {
		return nil, err
	}
	return &JobResult{AffectedCount: n}, nil
}

// FundingChecker 随机数服务资金检查
type FundingChecker interface {
	ProviderFunding(ctx context.Context) (*service.ProviderStatus, error)
}

// FundingCheckJob 巡检随机数订阅余额
type FundingCheckJob struct {
	BaseJob
	checker FundingChecker
}

// NewFundingCheckJob 创建余额巡检任务, 只读无需加锁
func NewFundingCheckJob(checker FundingChecker, timeout time.Duration) *FundingCheckJob {
	return &FundingCheckJob{
		BaseJob: NewBaseJob(JobNameFundingCheck, timeout, 0),
		checker: checker,
	}
}

func (j *FundingCheckJob) Execute(ctx context.Context) (*JobResult, error) {
	status, err := j.checker.ProviderFunding(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Affordable {
		logger.Warn("randomness provider underfunded",
			logger.BigInt("balance", status.Balance),
			logger.BigInt("min_balance", status.MinBalance))
	}
	return &JobResult{
		ProcessedCount: 1,
		Details: map[string]interface{}{
			"balance":    status.Balance.String(),
			"affordable": status.Affordable,
		},
	}, nil
}
