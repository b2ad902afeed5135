package indicators

import "ashare-kline-board/pkg/types"

// KeyOBV 指标名
const KeyOBV = "OBV"

// OBV 能量潮，OBV[0]=0，上涨日累加成交量，下跌日减去，平盘不变
func OBV(bars []types.PriceBar) types.Series {
	out := make(types.Series, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// OBVCalculator OBV计算器
type OBVCalculator struct{}

// NewOBVCalculator 创建OBV计算器
func NewOBVCalculator() *OBVCalculator { return &OBVCalculator{} }

func (oc *OBVCalculator) Name() string { return "OBV" }

func (oc *OBVCalculator) Keys() []string { return []string{KeyOBV} }

func (oc *OBVCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	return types.IndicatorSet{KeyOBV: OBV(bars)}
}
