package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ashare-kline-board/internal/analyzer"
	"ashare-kline-board/internal/database"
	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/internal/search"
	"ashare-kline-board/pkg/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// SignalStore 历史信号查询
type SignalStore interface {
	GetSignals(ctx context.Context, symbol string, limit int) ([]database.SignalRecord, error)
	Health(ctx context.Context) error
}

// CacheStats 缓存状态
type CacheStats interface {
	Stats(ctx context.Context) map[string]interface{}
}

// Options 服务依赖，Store、Cache、Hub 可为 nil
type Options struct {
	Config    types.ServerConfig
	Adjust    string // 未指定复权方式时的默认值
	Service   *analyzer.Service
	Analysis  *analyzer.AnalysisEngine
	Directory *search.Directory
	Hub       http.Handler
	Store     SignalStore
	Cache     CacheStats
	Metrics   *metrics.Metrics
}

// Server HTTP 服务
type Server struct {
	opts       Options
	router     *gin.Engine
	httpServer *http.Server
	today      func() time.Time
}

// NewServer 创建服务并注册路由
func NewServer(opts Options) *Server {
	switch opts.Config.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(opts.Config.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(opts.Metrics), corsMiddleware(opts.Config.AllowOrigins))

	s := &Server{
		opts:   opts,
		router: router,
		today:  defaultToday,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 路由处理器，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	if s.opts.Hub != nil {
		s.router.GET("/ws", gin.WrapH(s.opts.Hub))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/stocks/search", s.searchStocks)
		v1.GET("/kline/:symbol", s.getKline)
		v1.GET("/indicators/:symbol", s.getIndicators)
		v1.POST("/indicators", s.computeIndicators)
		v1.GET("/analysis", s.listAnalysis)
		v1.GET("/analysis/:symbol", s.getAnalysis)
		v1.GET("/signals/:symbol", s.getSignals)
	}
}

// Run 监听端口直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("🌐 HTTP服务启动", zap.String("addr", s.opts.Config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zap.L().Info("📴 HTTP服务已停止")
	return nil
}
