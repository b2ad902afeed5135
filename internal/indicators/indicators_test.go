package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"ashare-kline-board/pkg/types"

	"github.com/markcheno/go-talib"
)

var baseDate = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.10f, want %.10f (diff=%.3g)", label, got, want, math.Abs(got-want))
	}
}

func assertNaN(t *testing.T, label string, got float64) {
	t.Helper()
	if !math.IsNaN(got) {
		t.Errorf("%s: got %v, want NaN", label, got)
	}
}

// barsFromCloses 以收盘价构造K线，高低价各偏离 1
func barsFromCloses(closes []float64) []types.PriceBar {
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = types.PriceBar{
			Date:   baseDate.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func constantBars(n int, price, volume float64) []types.PriceBar {
	bars := make([]types.PriceBar, n)
	for i := range bars {
		bars[i] = types.PriceBar{
			Date:   baseDate.AddDate(0, 0, i),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: volume,
		}
	}
	return bars
}

// waveBars 确定性的震荡行情
func waveBars(n int) []types.PriceBar {
	bars := make([]types.PriceBar, n)
	price := 20.0
	for i := range bars {
		open := price
		price = 20 + 3*math.Sin(float64(i)/5) + 0.5*math.Cos(float64(i)*1.7)
		high := math.Max(open, price) + 0.2 + 0.1*math.Abs(math.Sin(float64(i)))
		low := math.Min(open, price) - 0.2 - 0.1*math.Abs(math.Cos(float64(i)))
		bars[i] = types.PriceBar{
			Date:   baseDate.AddDate(0, 0, i),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 10000 + float64(i%7)*1500,
		}
	}
	return bars
}

func TestSMA_FiveFlatCloses(t *testing.T) {
	got := SMA([]float64{10, 10, 10, 10, 10}, 5)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i := 0; i < 4; i++ {
		assertNaN(t, "MA5 warm-up", got[i])
	}
	if got[4] != 10 {
		t.Errorf("MA5[4] = %v, want 10", got[4])
	}
}

func TestSMA_HandCalculated(t *testing.T) {
	got := SMA([]float64{100, 102, 104, 103, 105}, 3)
	want := []float64{math.NaN(), math.NaN(), 102, 103, 104}
	for i := range want {
		if math.IsNaN(want[i]) {
			assertNaN(t, "SMA(3)", got[i])
			continue
		}
		assertClose(t, "SMA(3)", got[i], want[i], 1e-12)
	}
}

func TestSMA_MatchesTalib(t *testing.T) {
	closes := types.Closes(waveBars(120))
	for _, w := range []int{5, 10, 20, 60} {
		ours := SMA(closes, w)
		ref := talib.Sma(closes, w)
		for i := w - 1; i < len(closes); i++ {
			assertClose(t, MAKey(w), ours[i], ref[i], 1e-9)
		}
	}
}

func TestEMA_HandCalculated(t *testing.T) {
	// span=3 => alpha=0.5
	got := EMA([]float64{1, 2, 3}, 3)
	want := []float64{1, 1.5, 2.25}
	for i := range want {
		assertClose(t, "EMA(3)", got[i], want[i], 1e-12)
	}
}

func TestEMA_Deterministic(t *testing.T) {
	closes := types.Closes(waveBars(80))
	first := EMA(closes, 12)
	second := EMA(closes, 12)
	for i := range first {
		if math.Float64bits(first[i]) != math.Float64bits(second[i]) {
			t.Fatalf("EMA12[%d] differs between calls: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestMACD_HistogramIdentity(t *testing.T) {
	r := MACD(types.Closes(waveBars(150)), 12, 26, 9)
	for i := range r.MACD {
		assertClose(t, "histogram", r.Histogram[i], r.MACD[i]-r.Signal[i], 1e-12)
	}
}

func TestRSV_FlatWindowIsNeutral(t *testing.T) {
	bars := append(barsFromCloses([]float64{8, 12, 9}), constantBars(12, 5, 100)...)
	for i := range bars {
		bars[i].Date = baseDate.AddDate(0, 0, i)
	}
	rsv := RSV(bars, 9)
	for i := range rsv {
		if math.IsNaN(rsv[i]) {
			t.Fatalf("RSV[%d] is NaN", i)
		}
	}
	// 下标 11 起窗口完全平盘
	for i := 11; i < len(bars); i++ {
		if rsv[i] != 50 {
			t.Errorf("RSV[%d] = %v, want 50", i, rsv[i])
		}
	}
	// 预热期同样取中性值
	for i := 0; i < 8; i++ {
		if rsv[i] != 50 {
			t.Errorf("warm-up RSV[%d] = %v, want 50", i, rsv[i])
		}
	}
}

func TestKDJ_JIdentity(t *testing.T) {
	r := KDJ(waveBars(60), 9, 3, 3)
	for i := range r.K {
		assertClose(t, "J", r.J[i], 3*r.K[i]-2*r.D[i], 1e-12)
		if r.K[i] < 0 || r.K[i] > 100 || r.D[i] < 0 || r.D[i] > 100 {
			t.Errorf("K/D out of range at %d: K=%v D=%v", i, r.K[i], r.D[i])
		}
	}
}

func TestRSI_AllGainsIsHundred(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(10 + i)
	}
	got := RSI(closes, 14)
	for i := 0; i < 14; i++ {
		assertNaN(t, "RSI warm-up", got[i])
	}
	for i := 14; i < len(got); i++ {
		if got[i] != 100 {
			t.Errorf("RSI[%d] = %v, want 100", i, got[i])
		}
	}
}

func TestRSI_AllLossesIsZero(t *testing.T) {
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = float64(50 - i)
	}
	got := RSI(closes, 14)
	for i := 14; i < len(got); i++ {
		if got[i] != 0 {
			t.Errorf("RSI[%d] = %v, want 0", i, got[i])
		}
	}
}

func TestRSI_Bounded(t *testing.T) {
	got := RSI(types.Closes(waveBars(100)), 14)
	for i := 14; i < len(got); i++ {
		if math.IsNaN(got[i]) || got[i] < 0 || got[i] > 100 {
			t.Errorf("RSI[%d] = %v out of [0,100]", i, got[i])
		}
	}
}

func TestBollinger_WidthIdentity(t *testing.T) {
	const mult = 2.0
	b := Bollinger(types.Closes(waveBars(80)), 20, mult)
	for i := range b.Middle {
		if i < 19 {
			assertNaN(t, "BOLL warm-up", b.Upper[i])
			continue
		}
		assertClose(t, "width", b.Upper[i]-b.Lower[i], 2*mult*b.Std[i], 1e-9)
	}
}

func TestBollinger_SampleStd(t *testing.T) {
	// [2,4,4,4,5,5,7,9] 样本方差 = 32/7
	b := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 1)
	assertClose(t, "std", b.Std[7], math.Sqrt(32.0/7.0), 1e-12)
	assertClose(t, "middle", b.Middle[7], 5, 1e-12)
}

func TestTrueRange_MatchesTalib(t *testing.T) {
	bars := waveBars(50)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := types.Closes(bars)
	for i, b := range bars {
		highs[i], lows[i] = b.High, b.Low
	}

	ours := TrueRange(bars)
	ref := talib.TRange(highs, lows, closes)
	assertClose(t, "TR[0]", ours[0], highs[0]-lows[0], 1e-12)
	for i := 1; i < len(bars); i++ {
		assertClose(t, "TR", ours[i], ref[i], 1e-9)
	}
}

func TestATR_WarmUp(t *testing.T) {
	atr := ATR(waveBars(30), 14)
	for i := 0; i < 13; i++ {
		assertNaN(t, "ATR warm-up", atr[i])
	}
	for i := 13; i < len(atr); i++ {
		if math.IsNaN(atr[i]) || atr[i] <= 0 {
			t.Errorf("ATR[%d] = %v, want positive", i, atr[i])
		}
	}
}

func TestATR_SlopeAndPercentile(t *testing.T) {
	rising := types.NewNaNSeries(40)
	for i := 10; i < 40; i++ {
		rising[i] = float64(i)
	}
	if s := Slope(rising, 45); s <= 0 {
		t.Errorf("slope = %v, want positive", s)
	}
	if p := Percentile(rising, 45); p < 90 {
		t.Errorf("percentile = %v, want near 100", p)
	}
	if s := Slope(types.NewNaNSeries(20), 45); s != 0 {
		t.Errorf("slope of undefined series = %v, want 0", s)
	}
	if p := Percentile(types.NewNaNSeries(20), 45); p != 50 {
		t.Errorf("percentile of undefined series = %v, want 50", p)
	}
}

func TestOBV_Example(t *testing.T) {
	closes := []float64{10, 11, 11, 9}
	volumes := []float64{100, 50, 30, 20}
	bars := barsFromCloses(closes)
	for i := range bars {
		bars[i].Volume = volumes[i]
	}
	got := OBV(bars)
	want := []float64{0, 50, 50, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OBV[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOBV_MatchesTalibOffset(t *testing.T) {
	bars := waveBars(60)
	closes := types.Closes(bars)
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = b.Volume
	}
	ours := OBV(bars)
	ref := talib.Obv(closes, volumes)
	// 参考实现以首日成交量为起点
	for i := range ours {
		assertClose(t, "OBV", ours[i]+volumes[0], ref[i], 1e-6)
	}
}

func TestComputeAll_ConstantSeries(t *testing.T) {
	bars := constantBars(30, 100, 1000)
	set, err := ComputeAll(bars, types.DefaultIndicatorParams())
	if err != nil {
		t.Fatalf("ComputeAll: %v", err)
	}

	for i := 19; i < 30; i++ {
		if set["MA20"][i] != 100 {
			t.Errorf("MA20[%d] = %v, want 100", i, set["MA20"][i])
		}
		for _, key := range []string{KeyBollUpper, KeyBollMiddle, KeyBollLower} {
			if set[key][i] != 100 {
				t.Errorf("%s[%d] = %v, want 100", key, i, set[key][i])
			}
		}
	}
	for i := 0; i < 30; i++ {
		for _, key := range []string{"EMA12", "EMA26"} {
			if set[key][i] != 100 {
				t.Errorf("%s[%d] = %v, want 100", key, i, set[key][i])
			}
		}
		for _, key := range []string{KeyMACD, KeyMACDSignal, KeyMACDHistogram, KeyOBV} {
			if set[key][i] != 0 {
				t.Errorf("%s[%d] = %v, want 0", key, i, set[key][i])
			}
		}
		for _, key := range []string{KeyKDJK, KeyKDJD, KeyKDJJ} {
			if set[key][i] != 50 {
				t.Errorf("%s[%d] = %v, want 50", key, i, set[key][i])
			}
		}
		// 没有任何涨跌，RSI 无定义
		assertNaN(t, "RSI", set[KeyRSI][i])
	}
	for i := 13; i < 30; i++ {
		if set[KeyATR][i] != 0 {
			t.Errorf("ATR[%d] = %v, want 0", i, set[KeyATR][i])
		}
	}
}

func TestComputeAll_KeysAndAlignment(t *testing.T) {
	bars := waveBars(45)
	engine, err := NewEngine(types.DefaultIndicatorParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	set, err := engine.Compute(bars)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	keys := engine.Keys()
	if len(set) != len(keys) {
		t.Errorf("got %d indicators, want %d", len(set), len(keys))
	}
	for _, key := range keys {
		s, ok := set[key]
		if !ok {
			t.Errorf("missing indicator %s", key)
			continue
		}
		if len(s) != len(bars) {
			t.Errorf("%s length = %d, want %d", key, len(s), len(bars))
		}
	}

	// 数据不足 60 根时 MA60 全部无定义，其他指标照常输出
	for _, v := range set["MA60"] {
		assertNaN(t, "MA60", v)
	}
	if math.IsNaN(set["MA20"].Last()) {
		t.Error("MA20 should be defined")
	}
}

func TestComputeAll_Deterministic(t *testing.T) {
	bars := waveBars(90)
	params := types.DefaultIndicatorParams()
	a, err := ComputeAll(bars, params)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeAll(bars, params)
	if err != nil {
		t.Fatal(err)
	}
	for key, s := range a {
		for i := range s {
			if math.Float64bits(s[i]) != math.Float64bits(b[key][i]) {
				t.Fatalf("%s[%d] differs between calls", key, i)
			}
		}
	}
}

func TestComputeAll_EmptySeries(t *testing.T) {
	set, err := ComputeAll(nil, types.DefaultIndicatorParams())
	if err != nil {
		t.Fatalf("ComputeAll(nil): %v", err)
	}
	for key, s := range set {
		if len(s) != 0 {
			t.Errorf("%s length = %d, want 0", key, len(s))
		}
	}
}

func TestComputeAll_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]types.PriceBar)
		index  int
		field  string
	}{
		{"non-monotonic dates", func(b []types.PriceBar) { b[3].Date = b[1].Date }, 3, "date"},
		{"duplicate date", func(b []types.PriceBar) { b[2].Date = b[1].Date }, 2, "date"},
		{"negative volume", func(b []types.PriceBar) { b[4].Volume = -1 }, 4, "volume"},
		{"NaN close", func(b []types.PriceBar) { b[0].Close = math.NaN() }, 0, "close"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := waveBars(10)
			tt.mutate(bars)
			_, err := ComputeAll(bars, types.DefaultIndicatorParams())
			if !errors.Is(err, types.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var inputErr *types.InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("err = %T, want *types.InputError", err)
			}
			if inputErr.Index != tt.index || inputErr.Field != tt.field {
				t.Errorf("got index=%d field=%s, want index=%d field=%s",
					inputErr.Index, inputErr.Field, tt.index, tt.field)
			}
		})
	}
}

func TestMACD_FastAboveSlow(t *testing.T) {
	closes := []float64{10, 11, 12, 11, 13, 14, 13, 15}
	swapped := MACD(closes, 26, 12, 9)
	normal := MACD(closes, 12, 26, 9)
	for i := range closes {
		if math.Abs(swapped.MACD[i]+normal.MACD[i]) > 1e-9 {
			t.Fatalf("MACD[%d] = %v, want %v", i, swapped.MACD[i], -normal.MACD[i])
		}
	}

	params := types.DefaultIndicatorParams()
	params.MACD.Fast, params.MACD.Slow = 26, 12
	if _, err := NewEngine(params); err != nil {
		t.Errorf("NewEngine: %v", err)
	}
}

func TestNewEngine_InvalidParams(t *testing.T) {
	params := types.DefaultIndicatorParams()
	params.MACD.Signal = 0
	if _, err := NewEngine(params); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("zero signal: err = %v, want ErrInvalidInput", err)
	}

	params = types.DefaultIndicatorParams()
	params.MAWindows = []int{5, 0}
	if _, err := NewEngine(params); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("zero window: err = %v, want ErrInvalidInput", err)
	}
}

type panicCalculator struct{}

func (panicCalculator) Name() string   { return "BROKEN" }
func (panicCalculator) Keys() []string { return []string{"BROKEN.A", "BROKEN.B"} }
func (panicCalculator) Calculate([]types.PriceBar) types.IndicatorSet {
	panic("boom")
}

type shortCalculator struct{}

func (shortCalculator) Name() string   { return "SHORT" }
func (shortCalculator) Keys() []string { return []string{"SHORT"} }
func (shortCalculator) Calculate(bars []types.PriceBar) types.IndicatorSet {
	return types.IndicatorSet{"SHORT": make(types.Series, len(bars)/2)}
}

func TestEngine_IsolatesFailingCalculator(t *testing.T) {
	engine, err := NewEngine(types.DefaultIndicatorParams())
	if err != nil {
		t.Fatal(err)
	}
	engine.calculators = append(engine.calculators, panicCalculator{}, shortCalculator{})

	bars := waveBars(40)
	set, err := engine.Compute(bars)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for _, key := range []string{"BROKEN.A", "BROKEN.B", "SHORT"} {
		s := set[key]
		if len(s) != len(bars) {
			t.Fatalf("%s length = %d, want %d", key, len(s), len(bars))
		}
		for _, v := range s {
			assertNaN(t, key, v)
		}
	}
	if math.IsNaN(set["MA5"].Last()) {
		t.Error("MA5 should still be computed")
	}
}
