package types

import "time"

// 信号类型
const (
	SignalMACDGoldenCross = "MACD_GOLDEN_CROSS"
	SignalMACDDeadCross   = "MACD_DEAD_CROSS"
	SignalKDJGoldenCross  = "KDJ_GOLDEN_CROSS"
	SignalKDJDeadCross    = "KDJ_DEAD_CROSS"
	SignalKDJOverbought   = "KDJ_OVERBOUGHT"
	SignalKDJOversold     = "KDJ_OVERSOLD"
	SignalRSIOverbought   = "RSI_OVERBOUGHT"
	SignalRSIOversold     = "RSI_OVERSOLD"
	SignalBollBreakUpper  = "BOLL_BREAK_UPPER"
	SignalBollBreakLower  = "BOLL_BREAK_LOWER"
)

// 信号方向
const (
	BiasBullish = "bullish"
	BiasBearish = "bearish"
)

// Signal 由指标推导出的单个信号
type Signal struct {
	Type  string  `json:"type"`
	Bias  string  `json:"bias"`
	Desc  string  `json:"desc"`
	Value float64 `json:"value"`
}

// SignalAlert 推送给通知渠道的信号汇总
type SignalAlert struct {
	Symbol  string    `json:"symbol"`
	Name    string    `json:"name"`
	Date    time.Time `json:"date"`
	Close   float64   `json:"close"`
	Signals []Signal  `json:"signals"`
}

// AnalysisResult 单只股票一次分析的结果
type AnalysisResult struct {
	Symbol     string             `json:"symbol"`
	Date       time.Time          `json:"date"`
	Summary    *KlineSummary      `json:"summary"`
	Latest     map[string]float64 `json:"latest"`
	Signals    []Signal           `json:"signals"`
	Volatility *Volatility        `json:"volatility,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`
}

// Volatility 基于ATR的波动率概况
type Volatility struct {
	ATR        float64 `json:"atr"`
	ATRPercent float64 `json:"atr_percent"` // ATR 占收盘价百分比
	Slope      float64 `json:"slope"`       // 近期ATR线性回归斜率
	Percentile float64 `json:"percentile"`  // 最新ATR在近期ATR中的百分位
}
