package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ashare-kline-board/internal/analyzer"
	"ashare-kline-board/internal/api"
	"ashare-kline-board/internal/database"
	"ashare-kline-board/internal/fetcher"
	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/internal/notifier"
	"ashare-kline-board/internal/scheduler"
	"ashare-kline-board/internal/search"
	"ashare-kline-board/internal/signals"
	"ashare-kline-board/internal/storage"
	"ashare-kline-board/internal/websocket"
	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// 启动时加载股票列表的超时
const bootstrapTimeout = 2 * time.Minute

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cache     *storage.Cache
	dbManager *database.Manager
	scheduler *scheduler.Scheduler
}

// NewApp 创建应用程序实例
func NewApp(config *types.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 组装各模块并启动后台任务
func (app *App) Start() error {
	zap.L().Info("🚀 A股K线看板服务启动中...")
	cfg := app.config

	m := metrics.New()
	app.cache = storage.NewCache(cfg.Redis, m)

	// 数据库可选，未启用时各接口都使用 nil 存储
	var (
		barStore    analyzer.Store
		signalStore api.SignalStore
		listStore   search.ListStore
	)
	if cfg.Database.MySQL.Enabled {
		manager, err := database.NewManager(cfg.Database.MySQL)
		if err != nil {
			return err
		}
		app.dbManager = manager
		barStore, signalStore, listStore = manager, manager, manager
	}

	historyFetcher := fetcher.NewHistoryFetcher(cfg.Provider, cfg.Network, m)
	directoryFetcher := fetcher.NewDirectoryFetcher(cfg.Provider, cfg.Network, m)

	directory := search.NewDirectory()
	refresher := search.NewRefresher(directory, directoryFetcher, listStore, cfg.Directory.FilePath)
	app.goRun(func() {
		ctx, cancel := context.WithTimeout(app.ctx, bootstrapTimeout)
		defer cancel()
		if err := refresher.Bootstrap(ctx); err != nil {
			zap.L().Warn("⚠️ 股票列表加载失败，搜索暂不可用", zap.Error(err))
		}
	})

	hub := websocket.NewHub(cfg.Server.AllowOrigins, m)
	app.goRun(func() { hub.Run(app.ctx) })

	service := analyzer.NewService(historyFetcher, app.cache, barStore, cfg.Indicators, m)
	analysisEngine := analyzer.NewAnalysisEngine(service, signals.NewDetector(signals.DefaultThresholds()),
		notifier.New(cfg.Alert, m), hub, directory, cfg.Refresh, cfg.Alert, m)

	taskScheduler, err := scheduler.NewScheduler(app.ctx, analysisEngine, refresher, cfg.Refresh, cfg.Directory)
	if err != nil {
		return err
	}
	if err := taskScheduler.RegisterAll(); err != nil {
		return err
	}
	taskScheduler.Start()
	app.scheduler = taskScheduler

	if cfg.Refresh.RunOnStart && len(cfg.Refresh.Symbols) > 0 {
		app.goRun(func() { taskScheduler.RunNow(app.ctx) })
	}

	server := api.NewServer(api.Options{
		Config:    cfg.Server,
		Adjust:    cfg.Refresh.Adjust,
		Service:   service,
		Analysis:  analysisEngine,
		Directory: directory,
		Hub:       hub,
		Store:     signalStore,
		Cache:     app.cache,
		Metrics:   m,
	})
	app.goRun(func() {
		if err := server.Run(app.ctx); err != nil {
			zap.L().Error("❌ HTTP服务异常退出", zap.Error(err))
			app.cancel()
		}
	})

	zap.L().Info("✅ A股K线看板服务已启动",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("mysql", cfg.Database.MySQL.Enabled),
		zap.Bool("refresh", cfg.Refresh.Enabled),
		zap.Bool("alert", cfg.Alert.Enabled))
	return nil
}

func (app *App) goRun(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.cancel()
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			zap.L().Warn("关闭缓存失败", zap.Error(err))
		}
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			zap.L().Warn("关闭数据库失败", zap.Error(err))
		}
	}
	zap.L().Info("✅ A股K线看板服务已安全关闭")
}

// WaitForShutdown 等待关闭信号或服务异常退出
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-app.ctx.Done():
	}
}
