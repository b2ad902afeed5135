package indicators

import (
	"strconv"

	"ashare-kline-board/pkg/types"
)

// 指标名
const (
	KeyMACD          = "MACD"
	KeyMACDSignal    = "MACD.Signal"
	KeyMACDHistogram = "MACD.Histogram"
)

// EMA 指数移动平均，平滑系数 alpha = 2/(span+1)，以第一个有效值为种子
func EMA(values []float64, span int) types.Series {
	return ewm(values, 2/float64(span+1))
}

// EMACalculator 多周期 EMA 计算器
type EMACalculator struct {
	spans []int
}

// NewEMACalculator 创建 EMA 计算器
func NewEMACalculator(spans []int) *EMACalculator {
	seen := make(map[int]bool, len(spans))
	uniq := make([]int, 0, len(spans))
	for _, s := range spans {
		if !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	return &EMACalculator{spans: uniq}
}

func (ec *EMACalculator) Name() string { return "EMA" }

func (ec *EMACalculator) Keys() []string {
	keys := make([]string, len(ec.spans))
	for i, s := range ec.spans {
		keys[i] = EMAKey(s)
	}
	return keys
}

func (ec *EMACalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	closes := types.Closes(bars)
	set := make(types.IndicatorSet, len(ec.spans))
	for _, s := range ec.spans {
		set[EMAKey(s)] = EMA(closes, s)
	}
	return set
}

// EMAKey EMA指标名
func EMAKey(span int) string {
	return "EMA" + strconv.Itoa(span)
}

// MACDResult MACD三条线
type MACDResult struct {
	MACD      types.Series // DIF
	Signal    types.Series // DEA
	Histogram types.Series
}

// MACD 计算 MACD：快慢 EMA 之差、信号线及柱状图
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make(types.Series, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}

	sig := EMA(line, signal)
	hist := make(types.Series, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}

	return MACDResult{MACD: line, Signal: sig, Histogram: hist}
}

// MACDCalculator MACD计算器
type MACDCalculator struct {
	fast, slow, signal int
}

// NewMACDCalculator 创建MACD计算器
func NewMACDCalculator(p types.MACDParams) *MACDCalculator {
	return &MACDCalculator{fast: p.Fast, slow: p.Slow, signal: p.Signal}
}

func (mc *MACDCalculator) Name() string { return "MACD" }

func (mc *MACDCalculator) Keys() []string {
	return []string{KeyMACD, KeyMACDSignal, KeyMACDHistogram}
}

func (mc *MACDCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	r := MACD(types.Closes(bars), mc.fast, mc.slow, mc.signal)
	return types.IndicatorSet{
		KeyMACD:          r.MACD,
		KeyMACDSignal:    r.Signal,
		KeyMACDHistogram: r.Histogram,
	}
}
