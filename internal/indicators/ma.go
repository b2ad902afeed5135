package indicators

import (
	"strconv"

	"ashare-kline-board/pkg/types"
)

// SMA 简单移动平均，下标 i < window-1 的位置为 NaN
func SMA(values []float64, window int) types.Series {
	return rollingMean(values, window)
}

// MACalculator 多周期均线计算器
type MACalculator struct {
	windows []int
}

// NewMACalculator 创建均线计算器，重复的周期只计算一次
func NewMACalculator(windows []int) *MACalculator {
	seen := make(map[int]bool, len(windows))
	uniq := make([]int, 0, len(windows))
	for _, w := range windows {
		if !seen[w] {
			seen[w] = true
			uniq = append(uniq, w)
		}
	}
	return &MACalculator{windows: uniq}
}

func (mc *MACalculator) Name() string { return "MA" }

// Keys 返回 MA5、MA10 等指标名
func (mc *MACalculator) Keys() []string {
	keys := make([]string, len(mc.windows))
	for i, w := range mc.windows {
		keys[i] = MAKey(w)
	}
	return keys
}

// Calculate 计算全部周期的均线
func (mc *MACalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	closes := types.Closes(bars)
	set := make(types.IndicatorSet, len(mc.windows))
	for _, w := range mc.windows {
		set[MAKey(w)] = SMA(closes, w)
	}
	return set
}

// MAKey 均线指标名
func MAKey(window int) string {
	return "MA" + strconv.Itoa(window)
}
