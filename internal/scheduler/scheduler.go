package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ashare-kline-board/internal/analyzer"
	"ashare-kline-board/pkg/types"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Analyzer 批量分析
type Analyzer interface {
	AnalyzeAll(ctx context.Context, symbols []string) analyzer.Report
}

// DirectoryRefresher 股票列表刷新
type DirectoryRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Scheduler 定时任务调度器
type Scheduler struct {
	cron      *cron.Cron
	analyzer  Analyzer
	directory DirectoryRefresher
	refresh   types.RefreshConfig
	dirCron   string
	ctx       context.Context

	entries map[string]cron.EntryID
	mutex   sync.Mutex
}

// NewScheduler 创建调度器，cron 表达式按 refresh.timezone 解释
func NewScheduler(ctx context.Context, analysisEngine Analyzer, directory DirectoryRefresher,
	refresh types.RefreshConfig, dirConfig types.DirectoryConfig) (*Scheduler, error) {
	tz := refresh.Timezone
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	logger := zapLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		analyzer:  analysisEngine,
		directory: directory,
		refresh:   refresh,
		dirCron:   dirConfig.RefreshCron,
		ctx:       ctx,
		entries:   make(map[string]cron.EntryID),
	}, nil
}

// RegisterAll 注册指标刷新与股票列表刷新任务
func (s *Scheduler) RegisterAll() error {
	if s.refresh.Enabled {
		if err := s.add("analysis", s.refresh.Cron, s.analysisTask); err != nil {
			return err
		}
	}
	if s.directory != nil && s.dirCron != "" {
		if err := s.add("directory", s.dirCron, s.directoryTask); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) add(name, spec string, job func()) error {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.mutex.Lock()
	s.entries[name] = id
	s.mutex.Unlock()
	zap.L().Info("⏰ 已注册定时任务", zap.String("task", name), zap.String("cron", spec))
	return nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("🚀 调度器已启动")
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	zap.L().Info("📴 调度器已停止")
}

// NextRuns 各任务下一次执行时间
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// RunNow 立即执行一次指标刷新
func (s *Scheduler) RunNow(ctx context.Context) analyzer.Report {
	return s.analyzer.AnalyzeAll(ctx, s.refresh.Symbols)
}

func (s *Scheduler) analysisTask() {
	zap.L().Info("--- 定时指标刷新 ---", zap.Int("symbols", len(s.refresh.Symbols)))
	report := s.RunNow(s.ctx)
	zap.L().Info("--- 指标刷新完成 ---",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("alerts", report.Alerts))
}

func (s *Scheduler) directoryTask() {
	if _, err := s.directory.Refresh(s.ctx); err != nil {
		zap.L().Error("❌ 股票列表刷新失败", zap.Error(err))
	}
}

// zapLogger 将 cron 日志写入 zap
type zapLogger struct{}

func (zapLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw("cron: "+msg, keysAndValues...)
}

func (zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.S().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
