package analyzer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"ashare-kline-board/internal/fetcher"
	"ashare-kline-board/internal/indicators"
	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/internal/notifier"
	"ashare-kline-board/internal/signals"
	"ashare-kline-board/internal/storage"
	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

const (
	// 波动率统计使用的ATR回看长度
	volatilityLookback = 60
	// 预警历史保留时长，超过冷却时间的记录会被清理
	alertHistoryRetention = 48 * time.Hour
)

// Publisher 分析结果推送（WebSocket 广播）
type Publisher interface {
	Publish(result *types.AnalysisResult)
}

// NameLookup 股票名称查询
type NameLookup interface {
	Name(code string) (string, bool)
}

// Report 一轮批量分析的统计
type Report struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Alerts    int           `json:"alerts"`
	Duration  time.Duration `json:"duration"`
}

// AnalysisEngine 批量分析引擎
type AnalysisEngine struct {
	service   *Service
	detector  *signals.Detector
	notifier  notifier.Interface
	publisher Publisher
	names     NameLookup
	refresh   types.RefreshConfig
	alert     types.AlertConfig
	metrics   *metrics.Metrics

	alertHistory map[string]time.Time // 防止重复预警
	mutex        sync.RWMutex

	latest      map[string]*types.AnalysisResult
	latestMutex sync.RWMutex

	today func() time.Time
	now   func() time.Time
}

// NewAnalysisEngine 创建分析引擎，publisher 与 names 可为 nil
func NewAnalysisEngine(service *Service, detector *signals.Detector, notifyService notifier.Interface,
	publisher Publisher, names NameLookup, refresh types.RefreshConfig, alert types.AlertConfig, m *metrics.Metrics) *AnalysisEngine {
	return &AnalysisEngine{
		service:      service,
		detector:     detector,
		notifier:     notifyService,
		publisher:    publisher,
		names:        names,
		refresh:      refresh,
		alert:        alert,
		metrics:      m,
		alertHistory: make(map[string]time.Time),
		latest:       make(map[string]*types.AnalysisResult),
		today:        fetcher.Today,
		now:          time.Now,
	}
}

// AnalyzeAll 并发分析所有股票，收集信号后批量推送
func (ae *AnalysisEngine) AnalyzeAll(ctx context.Context, symbols []string) Report {
	began := time.Now()
	report := Report{Total: len(symbols)}
	if len(symbols) == 0 {
		return report
	}

	workerCount := ae.refresh.Workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(symbols) {
		workerCount = len(symbols)
	}

	zap.L().Info("📊 开始批量分析",
		zap.Int("symbols", len(symbols)),
		zap.Int("workers", workerCount))

	jobs := make(chan string)
	var wg sync.WaitGroup
	var resultMutex sync.Mutex
	alerts := make([]types.SignalAlert, 0)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for symbol := range jobs {
				result, err := ae.AnalyzeSymbol(ctx, symbol)

				resultMutex.Lock()
				if err != nil {
					report.Failed++
					zap.L().Warn("分析失败",
						zap.Int("worker", workerID),
						zap.String("symbol", symbol),
						zap.Error(err))
				} else {
					report.Succeeded++
					if alert, ok := ae.toAlert(result); ok {
						alerts = append(alerts, alert)
					}
				}
				resultMutex.Unlock()
			}
		}(i)
	}

dispatch:
	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- symbol:
		}
	}
	close(jobs)
	wg.Wait()

	// 未派发的股票计为失败
	report.Failed = report.Total - report.Succeeded

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Symbol < alerts[j].Symbol })
	report.Alerts = len(alerts)
	if len(alerts) > 0 {
		ae.sendBatchAlerts(ctx, alerts)
	}

	report.Duration = time.Since(began)
	ae.metrics.ObserveAnalysis(report.Duration, report.Succeeded, report.Failed)

	zap.L().Info("✅ 批量分析完成",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("alerts", report.Alerts),
		zap.Duration("duration", report.Duration))
	return report
}

// AnalyzeSymbol 分析单只股票：取数、计算指标、识别信号、保存快照
func (ae *AnalysisEngine) AnalyzeSymbol(ctx context.Context, symbol string) (*types.AnalysisResult, error) {
	end := ae.today()
	lookback := ae.refresh.LookbackDays
	if lookback <= 0 {
		lookback = 365
	}
	req := types.BarRequest{
		Symbol: symbol,
		Start:  end.AddDate(0, 0, -lookback),
		End:    end,
		Adjust: ae.refresh.Adjust,
	}

	params := ae.service.Params()
	bars, set, err := ae.service.Indicators(ctx, req, params)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fetcher.ErrNoData
	}

	detected := ae.detector.Detect(symbol, bars, set)
	for _, s := range detected {
		ae.metrics.ObserveSignal(s.Type)
	}

	result := &types.AnalysisResult{
		Symbol:     symbol,
		Date:       bars[len(bars)-1].Date,
		Summary:    types.Summarize(bars),
		Latest:     set.Latest(),
		Signals:    detected,
		Volatility: volatilityOf(set[indicators.KeyATR], bars[len(bars)-1].Close),
		ComputedAt: ae.now(),
	}

	if ae.service.store != nil {
		if err := ae.service.store.SaveSnapshot(ctx, result, storage.ParamsHash(params)); err != nil {
			zap.L().Error("保存指标快照失败", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	ae.latestMutex.Lock()
	ae.latest[symbol] = result
	ae.latestMutex.Unlock()

	if ae.publisher != nil {
		ae.publisher.Publish(result)
	}
	return result, nil
}

// Latest 最近一次分析结果
func (ae *AnalysisEngine) Latest(symbol string) (*types.AnalysisResult, bool) {
	ae.latestMutex.RLock()
	defer ae.latestMutex.RUnlock()
	result, ok := ae.latest[symbol]
	return result, ok
}

// Results 全部最近分析结果，按代码排序
func (ae *AnalysisEngine) Results() []*types.AnalysisResult {
	ae.latestMutex.RLock()
	out := make([]*types.AnalysisResult, 0, len(ae.latest))
	for _, r := range ae.latest {
		out = append(out, r)
	}
	ae.latestMutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// volatilityOf ATR 尚未定义时返回 nil
func volatilityOf(atr types.Series, price float64) *types.Volatility {
	last := atr.Last()
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return nil
	}
	v := &types.Volatility{
		ATR:        last,
		Slope:      indicators.Slope(atr, volatilityLookback),
		Percentile: indicators.Percentile(atr, volatilityLookback),
	}
	if pct := indicators.Normalized(last, price); !math.IsNaN(pct) && !math.IsInf(pct, 0) {
		v.ATRPercent = pct
	}
	return v
}

// toAlert 有信号且不在冷却期内才生成提醒
func (ae *AnalysisEngine) toAlert(result *types.AnalysisResult) (types.SignalAlert, bool) {
	if len(result.Signals) == 0 || !ae.shouldAlert(result.Symbol) {
		return types.SignalAlert{}, false
	}
	ae.recordAlert(result.Symbol)

	alert := types.SignalAlert{
		Symbol:  result.Symbol,
		Date:    result.Date,
		Signals: result.Signals,
	}
	if result.Summary != nil {
		alert.Close = result.Summary.Close
	}
	if ae.names != nil {
		if name, ok := ae.names.Name(result.Symbol); ok {
			alert.Name = name
		}
	}
	return alert, true
}

// sendBatchAlerts 落库并批量推送
func (ae *AnalysisEngine) sendBatchAlerts(ctx context.Context, alerts []types.SignalAlert) {
	if store := ae.service.store; store != nil {
		for _, alert := range alerts {
			if err := store.SaveSignal(ctx, alert); err != nil {
				zap.L().Error("保存信号失败", zap.String("symbol", alert.Symbol), zap.Error(err))
			}
		}
	}

	if !ae.alert.Enabled || ae.notifier == nil {
		return
	}
	if err := ae.notifier.SendSignals(ctx, alerts); err != nil {
		zap.L().Error("❌ 批量发送信号提醒失败",
			zap.String("notifier", ae.notifier.Name()),
			zap.Int("alerts", len(alerts)),
			zap.Error(err))
	}
}

// shouldAlert 检查是否应该发送提醒（冷却期内不重复提醒）
func (ae *AnalysisEngine) shouldAlert(symbol string) bool {
	ae.mutex.RLock()
	defer ae.mutex.RUnlock()

	lastAlert, exists := ae.alertHistory[symbol]
	if !exists {
		return true
	}
	return ae.now().Sub(lastAlert) > ae.alert.Cooldown
}

// recordAlert 记录提醒历史
func (ae *AnalysisEngine) recordAlert(symbol string) {
	ae.mutex.Lock()
	defer ae.mutex.Unlock()

	now := ae.now()
	ae.alertHistory[symbol] = now

	retention := alertHistoryRetention
	if ae.alert.Cooldown > retention {
		retention = ae.alert.Cooldown
	}
	cutoff := now.Add(-retention)
	for sym, alertTime := range ae.alertHistory {
		if alertTime.Before(cutoff) {
			delete(ae.alertHistory, sym)
		}
	}
}
