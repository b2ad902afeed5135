package indicators

import (
	"math"

	"ashare-kline-board/pkg/types"
)

// 指标名
const (
	KeyKDJK = "KDJ.K"
	KeyKDJD = "KDJ.D"
	KeyKDJJ = "KDJ.J"
)

// neutralRSV 价格区间为零或窗口不足时的 RSV
const neutralRSV = 50.0

// RSV 未成熟随机值：(收盘-N日最低)/(N日最高-N日最低)*100
// 窗口不足或区间为零时取 50
func RSV(bars []types.PriceBar, n int) types.Series {
	lowest := rollingLowest(bars, n)
	highest := rollingHighest(bars, n)

	rsv := make(types.Series, len(bars))
	for i, bar := range bars {
		low, high := lowest[i], highest[i]
		if math.IsNaN(low) || math.IsNaN(high) {
			rsv[i] = neutralRSV
			continue
		}
		rng := high - low
		if rng == 0 {
			rsv[i] = neutralRSV
			continue
		}
		rsv[i] = (bar.Close - low) / rng * 100
	}
	return rsv
}

// KDJResult KDJ三条线
type KDJResult struct {
	K types.Series
	D types.Series
	J types.Series
}

// KDJ K 为 RSV 的 1/m1 平滑，D 为 K 的 1/m2 平滑，J = 3K - 2D
func KDJ(bars []types.PriceBar, n, m1, m2 int) KDJResult {
	rsv := RSV(bars, n)
	k := ewm(rsv, 1/float64(m1))
	d := ewm(k, 1/float64(m2))

	j := make(types.Series, len(bars))
	for i := range j {
		j[i] = 3*k[i] - 2*d[i]
	}
	return KDJResult{K: k, D: d, J: j}
}

// KDJCalculator KDJ计算器
type KDJCalculator struct {
	n, m1, m2 int
}

// NewKDJCalculator 创建KDJ计算器
func NewKDJCalculator(p types.KDJParams) *KDJCalculator {
	return &KDJCalculator{n: p.N, m1: p.M1, m2: p.M2}
}

func (kc *KDJCalculator) Name() string { return "KDJ" }

func (kc *KDJCalculator) Keys() []string {
	return []string{KeyKDJK, KeyKDJD, KeyKDJJ}
}

func (kc *KDJCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	r := KDJ(bars, kc.n, kc.m1, kc.m2)
	return types.IndicatorSet{
		KeyKDJK: r.K,
		KeyKDJD: r.D,
		KeyKDJJ: r.J,
	}
}
