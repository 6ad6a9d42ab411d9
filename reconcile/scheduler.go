package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/aisgo/ais-tenancy/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 被调度的任务
type Runner interface {
	RunOnce(ctx context.Context) (*Report, error)
}

// Scheduler 按 cron 表达式周期执行对账，上一次未结束时跳过本次
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	log     *logger.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler 解析 schedule 并注册任务；timeout 为单次执行上限，0 表示不限
func NewScheduler(schedule string, timeout time.Duration, runner Runner, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner:  runner,
		log:     log,
		timeout: timeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		s.cancel()
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.log.Error("Scheduled reconcile failed", zap.Error(err))
	}
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Reconcile scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop 取消进行中的任务并等待其退出，ctx 到期则放弃等待
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Reconcile scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger 把 cron 内部日志转给 zap
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Sugar().Debugw(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Sugar().Errorw(msg, append(kv, "error", err)...)
}
