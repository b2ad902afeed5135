package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务的 Prometheus 指标
// 所有方法对 nil 接收者安全，未启用监控时可直接传 nil
type Metrics struct {
	registry *prometheus.Registry

	IndicatorComputeDur prometheus.Histogram
	IndicatorSetsTotal  prometheus.Counter

	ProviderFetches  *prometheus.CounterVec // labels: source, result
	ProviderFetchDur prometheus.Histogram

	CacheLookups *prometheus.CounterVec // labels: kind, result

	SignalsDetected *prometheus.CounterVec // labels: type
	AlertsSent      *prometheus.CounterVec // labels: channel, result

	AnalysisRuns     prometheus.Counter
	AnalysisDuration prometheus.Histogram
	SymbolsAnalyzed  *prometheus.CounterVec // labels: result

	WSClients    prometheus.Gauge
	HTTPRequests *prometheus.CounterVec // labels: method, route, status
}

// New 创建并注册全部指标，每个实例使用独立的 registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kline_indicator_compute_duration_seconds",
			Help:    "Indicator engine latency per bar series",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		IndicatorSetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kline_indicator_sets_total",
			Help: "Total indicator sets computed",
		}),

		ProviderFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_provider_fetches_total",
			Help: "Market data provider requests by source and result",
		}, []string{"source", "result"}),
		ProviderFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kline_provider_fetch_duration_seconds",
			Help:    "Market data provider request latency",
			Buckets: prometheus.DefBuckets,
		}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_cache_lookups_total",
			Help: "Cache lookups by kind (bars, indicators) and result (hit, miss)",
		}, []string{"kind", "result"}),

		SignalsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_signals_detected_total",
			Help: "Technical signals detected on the latest bar",
		}, []string{"type"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_alerts_sent_total",
			Help: "Signal alerts pushed by channel and result",
		}, []string{"channel", "result"}),

		AnalysisRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kline_analysis_runs_total",
			Help: "Scheduled or manual analysis rounds",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kline_analysis_duration_seconds",
			Help:    "Wall time of one analysis round",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		SymbolsAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_symbols_analyzed_total",
			Help: "Symbols processed by the analysis engine",
		}, []string{"result"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kline_ws_clients",
			Help: "Connected websocket clients",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kline_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IndicatorComputeDur,
		m.IndicatorSetsTotal,
		m.ProviderFetches,
		m.ProviderFetchDur,
		m.CacheLookups,
		m.SignalsDetected,
		m.AlertsSent,
		m.AnalysisRuns,
		m.AnalysisDuration,
		m.SymbolsAnalyzed,
		m.WSClients,
		m.HTTPRequests,
	)
	return m
}

// Registry 底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCompute 记录一次指标计算
func (m *Metrics) ObserveCompute(d time.Duration) {
	if m == nil {
		return
	}
	m.IndicatorComputeDur.Observe(d.Seconds())
	m.IndicatorSetsTotal.Inc()
}

// ObserveFetch 记录一次数据源请求
func (m *Metrics) ObserveFetch(source string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderFetches.WithLabelValues(source, result).Inc()
	m.ProviderFetchDur.Observe(d.Seconds())
}

// ObserveCache 记录一次缓存查询
func (m *Metrics) ObserveCache(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveSignal 记录检测到的信号
func (m *Metrics) ObserveSignal(signalType string) {
	if m == nil {
		return
	}
	m.SignalsDetected.WithLabelValues(signalType).Inc()
}

// ObserveAlert 记录推送结果
func (m *Metrics) ObserveAlert(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AlertsSent.WithLabelValues(channel, result).Inc()
}

// ObserveAnalysis 记录一轮分析
func (m *Metrics) ObserveAnalysis(d time.Duration, succeeded, failed int) {
	if m == nil {
		return
	}
	m.AnalysisRuns.Inc()
	m.AnalysisDuration.Observe(d.Seconds())
	m.SymbolsAnalyzed.WithLabelValues("ok").Add(float64(succeeded))
	m.SymbolsAnalyzed.WithLabelValues("error").Add(float64(failed))
}

// SetWSClients 当前 websocket 连接数
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// ObserveHTTP 记录一次HTTP请求
func (m *Metrics) ObserveHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
}
