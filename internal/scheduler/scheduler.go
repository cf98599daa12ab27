// Package scheduler runs agent cycles: one at startup, then one per interval
// until shutdown, never two at the same time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CrabDAO-Agent/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CycleFunc runs one agent cycle.
type CycleFunc func(ctx context.Context) error

// Scheduler 周期性地调用 CycleFunc。
type Scheduler struct {
	schedule cron.Schedule
	interval time.Duration
	run      CycleFunc
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Scheduler)

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedule 替换 cron.Every 生成的调度。
func WithSchedule(schedule cron.Schedule) Option {
	return func(s *Scheduler) {
		if schedule != nil {
			s.schedule = schedule
		}
	}
}

// New 创建调度器。interval 必须大于 0。
func New(interval time.Duration, run CycleFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("调度间隔必须大于 0")
	}
	if run == nil {
		return nil, errors.New("未提供周期函数")
	}
	s := &Scheduler{
		schedule: cron.Every(interval),
		interval: interval,
		run:      run,
		logger:   logger.Named("scheduler"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run executes the startup cycle, then schedules further cycles until ctx is
// cancelled. A cycle already running when ctx is cancelled is allowed to
// finish: cycles run on a context detached from ctx's cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)

	s.runCycle(cycleCtx)
	if ctx.Err() != nil {
		s.logger.Info("启动周期结束时已收到停止信号")
		return nil
	}

	cronLogger := logger.CronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runCycle(cycleCtx) }))
	c.Start()
	s.logger.Info("调度器已启动", "interval", s.interval.String())

	<-ctx.Done()
	s.logger.Info("收到停止信号，等待当前周期结束")
	<-c.Stop().Done()
	s.logger.Info("调度器已停止")
	return nil
}

// RunOnce executes a single cycle and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.run(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("周期发生 panic", "panic", r)
		}
	}()
	if err := s.run(ctx); err != nil {
		s.logger.Error("周期执行失败", "error", err)
	}
}
