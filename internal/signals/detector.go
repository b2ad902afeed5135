package signals

import (
	"fmt"
	"math"

	"ashare-kline-board/internal/indicators"
	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// Thresholds 超买超卖阈值
type Thresholds struct {
	RSIOverbought float64
	RSIOversold   float64
	JOverbought   float64
	JOversold     float64
}

// DefaultThresholds RSI 70/30，KDJ 的 J 值 100/0
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOverbought: 70,
		RSIOversold:   30,
		JOverbought:   100,
		JOversold:     0,
	}
}

// Detector 基于最新一根K线的技术信号检测器
type Detector struct {
	thresholds Thresholds
}

// NewDetector 创建信号检测器
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Detect 检测最新K线上的全部信号，任一输入无定义时跳过对应信号
func (d *Detector) Detect(symbol string, bars []types.PriceBar, set types.IndicatorSet) []types.Signal {
	if len(bars) == 0 {
		return nil
	}

	var out []types.Signal
	add := func(s *types.Signal) {
		if s != nil {
			out = append(out, *s)
		}
	}

	add(cross(set[indicators.KeyMACD], set[indicators.KeyMACDSignal],
		types.SignalMACDGoldenCross, types.SignalMACDDeadCross, "MACD"))
	add(cross(set[indicators.KeyKDJK], set[indicators.KeyKDJD],
		types.SignalKDJGoldenCross, types.SignalKDJDeadCross, "KDJ"))

	if j := set[indicators.KeyKDJJ].Last(); defined(j) {
		switch {
		case j > d.thresholds.JOverbought:
			add(&types.Signal{Type: types.SignalKDJOverbought, Bias: types.BiasBearish, Desc: fmt.Sprintf("KDJ超买 J=%.2f", j), Value: j})
		case j < d.thresholds.JOversold:
			add(&types.Signal{Type: types.SignalKDJOversold, Bias: types.BiasBullish, Desc: fmt.Sprintf("KDJ超卖 J=%.2f", j), Value: j})
		}
	}

	if rsi := set[indicators.KeyRSI].Last(); defined(rsi) {
		switch {
		case rsi > d.thresholds.RSIOverbought:
			add(&types.Signal{Type: types.SignalRSIOverbought, Bias: types.BiasBearish, Desc: fmt.Sprintf("RSI超买 %.2f", rsi), Value: rsi})
		case rsi < d.thresholds.RSIOversold:
			add(&types.Signal{Type: types.SignalRSIOversold, Bias: types.BiasBullish, Desc: fmt.Sprintf("RSI超卖 %.2f", rsi), Value: rsi})
		}
	}

	closePrice := bars[len(bars)-1].Close
	if upper := set[indicators.KeyBollUpper].Last(); defined(upper) && closePrice > upper {
		add(&types.Signal{Type: types.SignalBollBreakUpper, Bias: types.BiasBullish, Desc: fmt.Sprintf("收盘价突破布林上轨 %.2f", upper), Value: upper})
	}
	if lower := set[indicators.KeyBollLower].Last(); defined(lower) && closePrice < lower {
		add(&types.Signal{Type: types.SignalBollBreakLower, Bias: types.BiasBearish, Desc: fmt.Sprintf("收盘价跌破布林下轨 %.2f", lower), Value: lower})
	}

	if len(out) > 0 {
		zap.L().Debug("🎯 检测到技术信号",
			zap.String("symbol", symbol),
			zap.Int("count", len(out)))
	}
	return out
}

// cross 快线上穿慢线为金叉，下穿为死叉
func cross(fast, slow types.Series, golden, dead, name string) *types.Signal {
	prevFast, prevSlow := fast.At(1), slow.At(1)
	curFast, curSlow := fast.At(0), slow.At(0)
	if !defined(prevFast) || !defined(prevSlow) || !defined(curFast) || !defined(curSlow) {
		return nil
	}

	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		return &types.Signal{Type: golden, Bias: types.BiasBullish, Desc: name + "金叉", Value: curFast - curSlow}
	case prevFast >= prevSlow && curFast < curSlow:
		return &types.Signal{Type: dead, Bias: types.BiasBearish, Desc: name + "死叉", Value: curFast - curSlow}
	}
	return nil
}

func defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
