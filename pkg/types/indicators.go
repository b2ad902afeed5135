package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Series 指标序列，与输入K线一一对应；NaN 表示该位置无定义（预热期）
type Series []float64

// NewNaNSeries 创建长度为 n 的全 NaN 序列
func NewNaNSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Last 返回最后一个值，空序列返回 NaN
func (s Series) Last() float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

// At 返回倒数第 back 个值（0 为最新），越界返回 NaN
func (s Series) At(back int) float64 {
	idx := len(s) - 1 - back
	if idx < 0 || idx >= len(s) {
		return math.NaN()
	}
	return s[idx]
}

// MarshalJSON NaN/Inf 编码为 null
func (s Series) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON null 解码为 NaN
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	out := make(Series, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// IndicatorSet 指标名称到序列的映射，如 "MA5"、"MACD.Signal"、"KDJ.K"
type IndicatorSet map[string]Series

// Names 按字典序返回所有指标名称
func (set IndicatorSet) Names() []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest 每个指标的最新值，未定义的指标不输出
func (set IndicatorSet) Latest() map[string]float64 {
	out := make(map[string]float64, len(set))
	for name, s := range set {
		if v := s.Last(); !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	return out
}

// MACDParams MACD参数
type MACDParams struct {
	Fast   int `mapstructure:"fast" json:"fast"`
	Slow   int `mapstructure:"slow" json:"slow"`
	Signal int `mapstructure:"signal" json:"signal"`
}

// KDJParams KDJ参数
type KDJParams struct {
	N  int `mapstructure:"n" json:"n"`
	M1 int `mapstructure:"m1" json:"m1"`
	M2 int `mapstructure:"m2" json:"m2"`
}

// RSIParams RSI参数
type RSIParams struct {
	Period int `mapstructure:"period" json:"period"`
}

// BollParams 布林带参数
type BollParams struct {
	Period        int     `mapstructure:"period" json:"period"`
	StdMultiplier float64 `mapstructure:"std_multiplier" json:"std_multiplier"`
}

// ATRParams ATR参数
type ATRParams struct {
	Period int `mapstructure:"period" json:"period"`
}

// IndicatorParams 全部指标参数
type IndicatorParams struct {
	MAWindows []int      `mapstructure:"ma_windows" json:"ma_windows"`
	EMASpans  []int      `mapstructure:"ema_spans" json:"ema_spans"`
	MACD      MACDParams `mapstructure:"macd" json:"macd"`
	KDJ       KDJParams  `mapstructure:"kdj" json:"kdj"`
	RSI       RSIParams  `mapstructure:"rsi" json:"rsi"`
	BOLL      BollParams `mapstructure:"boll" json:"boll"`
	ATR       ATRParams  `mapstructure:"atr" json:"atr"`
}

// DefaultIndicatorParams 默认参数
func DefaultIndicatorParams() IndicatorParams {
	return IndicatorParams{
		MAWindows: []int{5, 10, 20, 30, 60},
		EMASpans:  []int{12, 26},
		MACD:      MACDParams{Fast: 12, Slow: 26, Signal: 9},
		KDJ:       KDJParams{N: 9, M1: 3, M2: 3},
		RSI:       RSIParams{Period: 14},
		BOLL:      BollParams{Period: 20, StdMultiplier: 2},
		ATR:       ATRParams{Period: 14},
	}
}

// Validate 校验指标参数
func (p IndicatorParams) Validate() error {
	for _, w := range p.MAWindows {
		if w <= 0 {
			return &InputError{Index: -1, Field: "ma_windows", Reason: fmt.Sprintf("window %d must be positive", w)}
		}
	}
	for _, s := range p.EMASpans {
		if s <= 0 {
			return &InputError{Index: -1, Field: "ema_spans", Reason: fmt.Sprintf("span %d must be positive", s)}
		}
	}

	positive := [...]struct {
		field string
		value int
	}{
		{"macd.fast", p.MACD.Fast},
		{"macd.slow", p.MACD.Slow},
		{"macd.signal", p.MACD.Signal},
		{"kdj.n", p.KDJ.N},
		{"kdj.m1", p.KDJ.M1},
		{"kdj.m2", p.KDJ.M2},
		{"rsi.period", p.RSI.Period},
		{"boll.period", p.BOLL.Period},
		{"atr.period", p.ATR.Period},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return &InputError{Index: -1, Field: f.field, Reason: "must be positive"}
		}
	}

	// 样本标准差至少需要两个数据点
	if p.BOLL.Period < 2 {
		return &InputError{Index: -1, Field: "boll.period", Reason: "must be at least 2"}
	}
	if math.IsNaN(p.BOLL.StdMultiplier) || math.IsInf(p.BOLL.StdMultiplier, 0) || p.BOLL.StdMultiplier <= 0 {
		return &InputError{Index: -1, Field: "boll.std_multiplier", Reason: "must be a positive number"}
	}
	return nil
}

// Clone 深拷贝参数，切片不与原值共享
func (p IndicatorParams) Clone() IndicatorParams {
	p.MAWindows = append([]int(nil), p.MAWindows...)
	p.EMASpans = append([]int(nil), p.EMASpans...)
	return p
}

// Fingerprint 参数的稳定字符串表示，用于缓存键
func (p IndicatorParams) Fingerprint() string {
	return fmt.Sprintf("ma%v|ema%v|macd%d,%d,%d|kdj%d,%d,%d|rsi%d|boll%d,%g|atr%d",
		p.MAWindows, p.EMASpans,
		p.MACD.Fast, p.MACD.Slow, p.MACD.Signal,
		p.KDJ.N, p.KDJ.M1, p.KDJ.M2,
		p.RSI.Period,
		p.BOLL.Period, p.BOLL.StdMultiplier,
		p.ATR.Period)
}
