package indicators

import (
	"math"

	"ashare-kline-board/pkg/types"
)

// rollingMean 滚动均值，窗口不足或窗口内含 NaN 的位置为 NaN
func rollingMean(values []float64, window int) types.Series {
	out := types.NewNaNSeries(len(values))
	if window <= 0 {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(window)
	}
	return out
}

// rollingSampleStd 滚动样本标准差（除以 n-1）
func rollingSampleStd(values []float64, window int) types.Series {
	out := types.NewNaNSeries(len(values))
	if window < 2 {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(window)

		var sq float64
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(window-1))
	}
	return out
}

// rollingHighest 窗口内最高价
func rollingHighest(bars []types.PriceBar, window int) types.Series {
	out := types.NewNaNSeries(len(bars))
	if window <= 0 {
		return out
	}

	for i := window - 1; i < len(bars); i++ {
		highest := bars[i-window+1].High
		for j := i - window + 2; j <= i; j++ {
			if bars[j].High > highest {
				highest = bars[j].High
			}
		}
		out[i] = highest
	}
	return out
}

// rollingLowest 窗口内最低价
func rollingLowest(bars []types.PriceBar, window int) types.Series {
	out := types.NewNaNSeries(len(bars))
	if window <= 0 {
		return out
	}

	for i := window - 1; i < len(bars); i++ {
		lowest := bars[i-window+1].Low
		for j := i - window + 2; j <= i; j++ {
			if bars[j].Low < lowest {
				lowest = bars[j].Low
			}
		}
		out[i] = lowest
	}
	return out
}

// ewm 递归指数平滑（不做偏差修正）：y[0]=x[0]，y[i]=y[i-1]+alpha*(x[i]-y[i-1])
// 以第一个非 NaN 值为种子；种子之后遇到 NaN 沿用上一个值
func ewm(values []float64, alpha float64) types.Series {
	out := types.NewNaNSeries(len(values))
	started := false
	prev := 0.0

	for i, v := range values {
		if math.IsNaN(v) {
			if started {
				out[i] = prev
			}
			continue
		}
		if !started {
			prev = v
			started = true
		} else {
			prev += alpha * (v - prev)
		}
		out[i] = prev
	}
	return out
}
