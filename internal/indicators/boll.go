package indicators

import "ashare-kline-board/pkg/types"

// 指标名
const (
	KeyBollUpper  = "BOLL.Upper"
	KeyBollMiddle = "BOLL.Middle"
	KeyBollLower  = "BOLL.Lower"
)

// BollingerBands 布林带
type BollingerBands struct {
	Upper  types.Series
	Middle types.Series
	Lower  types.Series
	Std    types.Series // 样本标准差
}

// Bollinger 中轨为 period 日均线，上下轨为中轨 ± multiplier 倍样本标准差
func Bollinger(closes []float64, period int, multiplier float64) BollingerBands {
	middle := rollingMean(closes, period)
	std := rollingSampleStd(closes, period)

	upper := make(types.Series, len(closes))
	lower := make(types.Series, len(closes))
	for i := range closes {
		upper[i] = middle[i] + multiplier*std[i]
		lower[i] = middle[i] - multiplier*std[i]
	}

	return BollingerBands{Upper: upper, Middle: middle, Lower: lower, Std: std}
}

// BollCalculator 布林带计算器
type BollCalculator struct {
	period     int
	multiplier float64
}

// NewBollCalculator 创建布林带计算器
func NewBollCalculator(p types.BollParams) *BollCalculator {
	return &BollCalculator{period: p.Period, multiplier: p.StdMultiplier}
}

func (bc *BollCalculator) Name() string { return "BOLL" }

func (bc *BollCalculator) Keys() []string {
	return []string{KeyBollUpper, KeyBollMiddle, KeyBollLower}
}

func (bc *BollCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	b := Bollinger(types.Closes(bars), bc.period, bc.multiplier)
	return types.IndicatorSet{
		KeyBollUpper:  b.Upper,
		KeyBollMiddle: b.Middle,
		KeyBollLower:  b.Lower,
	}
}
