package indicators

import (
	"math"

	"ashare-kline-board/pkg/types"
)

// KeyRSI 指标名
const KeyRSI = "RSI"

// RSI 相对强弱指标，平均涨跌幅为 period 日简单平均
// delta[0] 无定义，因此首个有效值位于下标 period
// 平均跌幅为 0 时：平均涨幅大于 0 取 100，否则无定义
func RSI(closes []float64, period int) types.Series {
	n := len(closes)
	gains := types.NewNaNSeries(n)
	losses := types.NewNaNSeries(n)
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gains[i] = math.Max(delta, 0)
		losses[i] = math.Max(-delta, 0)
	}

	avgGain := rollingMean(gains, period)
	avgLoss := rollingMean(losses, period)

	out := types.NewNaNSeries(n)
	for i := 0; i < n; i++ {
		gain, loss := avgGain[i], avgLoss[i]
		if math.IsNaN(gain) || math.IsNaN(loss) {
			continue
		}
		if loss == 0 {
			if gain > 0 {
				out[i] = 100
			}
			continue
		}
		rs := gain / loss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// RSICalculator RSI计算器
type RSICalculator struct {
	period int
}

// NewRSICalculator 创建RSI计算器
func NewRSICalculator(p types.RSIParams) *RSICalculator {
	return &RSICalculator{period: p.Period}
}

func (rc *RSICalculator) Name() string { return "RSI" }

func (rc *RSICalculator) Keys() []string { return []string{KeyRSI} }

func (rc *RSICalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	return types.IndicatorSet{KeyRSI: RSI(types.Closes(bars), rc.period)}
}
