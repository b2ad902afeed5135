package indicators

import (
	"math"
	"sort"

	"ashare-kline-board/pkg/types"
)

// KeyATR 指标名
const KeyATR = "ATR"

// TrueRange 真实波幅序列，首根K线没有前收盘，取 high-low
func TrueRange(bars []types.PriceBar) types.Series {
	tr := make(types.Series, len(bars))
	for i, current := range bars {
		hl := current.High - current.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		// 真实波幅 = max(high-low, |high-prevClose|, |low-prevClose|)
		prevClose := bars[i-1].Close
		hc := math.Abs(current.High - prevClose)
		lc := math.Abs(current.Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// ATR 真实波幅的 period 日简单平均
func ATR(bars []types.PriceBar, period int) types.Series {
	return rollingMean(TrueRange(bars), period)
}

// ATRCalculator ATR指标计算器
type ATRCalculator struct {
	length int
}

// NewATRCalculator 创建ATR计算器
func NewATRCalculator(p types.ATRParams) *ATRCalculator {
	return &ATRCalculator{length: p.Period}
}

func (ac *ATRCalculator) Name() string { return "ATR" }

func (ac *ATRCalculator) Keys() []string { return []string{KeyATR} }

// Calculate 计算ATR序列
func (ac *ATRCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	return types.IndicatorSet{KeyATR: ATR(bars, ac.length)}
}

// definedTail 序列末尾最多 lookback 个有效值
func definedTail(s types.Series, lookback int) []float64 {
	var values []float64
	for i := len(s) - 1; i >= 0 && len(values) < lookback; i-- {
		if math.IsNaN(s[i]) {
			break
		}
		values = append(values, s[i])
	}
	// 恢复时间顺序
	for l, r := 0, len(values)-1; l < r; l, r = l+1, r-1 {
		values[l], values[r] = values[r], values[l]
	}
	return values
}

// Slope 最近 lookback 个ATR值的线性回归斜率，有效值不足10个返回 0
func Slope(atr types.Series, lookback int) float64 {
	values := definedTail(atr, lookback)
	if len(values) < 10 {
		return 0
	}

	n := float64(len(values))
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i + 1)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	// 斜率 = (n*∑xy - ∑x*∑y) / (n*∑x² - (∑x)²)
	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// Percentile 最新ATR在最近 lookback 个ATR值中的百分位，数据不足返回 50
func Percentile(atr types.Series, lookback int) float64 {
	values := definedTail(atr, lookback)
	if len(values) < 4 {
		return 50
	}

	current := values[len(values)-1]
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := sort.SearchFloat64s(sorted, current)
	return float64(rank) / float64(len(sorted)) * 100
}

// Normalized ATR 占价格的百分比
func Normalized(atrValue, price float64) float64 {
	if price == 0 || math.IsNaN(atrValue) {
		return math.NaN()
	}
	return atrValue / price * 100
}
