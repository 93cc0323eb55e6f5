// Package scheduler 定时任务调度: 过期参与清理、汇率刷新、随机数补发、余额巡检
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// 任务执行结果状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Scheduler 任务调度器
type Scheduler struct {
	cron    *cron.Cron
	redis   redis.UniversalClient // 为空时不加锁 (单实例部署)
	jobs    map[string]Job
	specs   map[string]string
	last    map[string]*JobStatus
	mu      sync.RWMutex
	running chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config 调度器配置
type Config struct {
	MaxConcurrentJobs int
	RedisClient       redis.UniversalClient
}

// JobStatus 任务最近一次执行情况
type JobStatus struct {
	Name       string        `json:"name"`
	Cron       string        `json:"cron"`
	LastStatus string        `json:"last_status"`
	LastRunAt  int64         `json:"last_run_at"`
	Duration   time.Duration `json:"duration"`
	LastError  string        `json:"last_error,omitempty"`
	Result     *JobResult    `json:"result,omitempty"`
}

// New 创建调度器
func New(cfg *Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		redis:   cfg.RedisClient,
		jobs:    make(map[string]Job),
		specs:   make(map[string]string),
		last:    make(map[string]*JobStatus),
		running: make(chan struct{}, maxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob 注册任务, spec 为带秒的 cron 表达式
func (s *Scheduler) RegisterJob(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Run(job) }); err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", job.Name(), err)
	}
	s.jobs[job.Name()] = job
	s.specs[job.Name()] = spec

	logger.Info("job registered", zap.String("job", job.Name()), zap.String("cron", spec))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop 停止调度器并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务 (异步)
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(job)
	}()
	return nil
}

// Run 同步执行一次任务, 返回执行状态
func (s *Scheduler) Run(job Job) string {
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		s.record(job.Name(), StatusSkipped, 0, nil, fmt.Errorf("max concurrent jobs reached"))
		return StatusSkipped
	}
	if s.ctx.Err() != nil {
		return StatusSkipped
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if s.redis != nil && job.LockTTL() > 0 {
		lock := NewDistributedLock(s.redis, job.Name(), job.LockTTL())
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire job lock", zap.String("job", job.Name()), zap.Error(err))
			s.record(job.Name(), StatusFailed, 0, nil, err)
			return StatusFailed
		}
		if !acquired {
			logger.Debug("job is running on another instance", zap.String("job", job.Name()))
			s.record(job.Name(), StatusSkipped, 0, nil, nil)
			return StatusSkipped
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("failed to release job lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result, err := job.Execute(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		s.record(job.Name(), StatusFailed, elapsed, result, err)
		return StatusFailed
	}

	fields := []zap.Field{zap.String("job", job.Name()), zap.Duration("duration", elapsed)}
	if result != nil {
		fields = append(fields,
			zap.Int("processed", result.ProcessedCount),
			zap.Int("affected", result.AffectedCount),
			zap.Int("errors", result.ErrorCount))
	}
	logger.Debug("job completed", fields...)
	s.record(job.Name(), StatusSuccess, elapsed, result, nil)
	return StatusSuccess
}

func (s *Scheduler) record(name, status string, d time.Duration, result *JobResult, err error) {
	metrics.RecordJob(name, status, d)

	st := &JobStatus{
		Name:       name,
		LastStatus: status,
		LastRunAt:  time.Now().UnixMilli(),
		Duration:   d,
		Result:     result,
	}
	if err != nil {
		st.LastError = err.Error()
	}
	s.mu.Lock()
	st.Cron = s.specs[name]
	s.last[name] = st
	s.mu.Unlock()
}

// ListJobStatus 列出所有任务及其最近一次执行情况
func (s *Scheduler) ListJobStatus() []*JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*JobStatus, 0, len(s.jobs))
	for name := range s.jobs {
		if st, ok := s.last[name]; ok {
			cp := *st
			out = append(out, &cp)
			continue
		}
		out = append(out, &JobStatus{Name: name, Cron: s.specs[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
