package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MarketTZ A股交易日所在时区（北京时间）
var MarketTZ = time.FixedZone("CST", 8*3600)

// 请求中可接受的日期格式
var barDateLayouts = [...]string{time.RFC3339Nano, "2006-01-02", "20060102"}

// 复权方式
const (
	AdjustNone = ""    // 不复权
	AdjustQFQ  = "qfq" // 前复权
	AdjustHFQ  = "hfq" // 后复权
)

// PriceBar 单个交易日的K线数据
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"` // 成交量（手）
}

// UnmarshalJSON 日期同时接受 RFC3339、YYYY-MM-DD 和 YYYYMMDD
func (b *PriceBar) UnmarshalJSON(data []byte) error {
	type plain PriceBar
	var raw struct {
		plain
		Date *string `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = PriceBar(raw.plain)
	if raw.Date == nil || *raw.Date == "" {
		return nil
	}
	date, err := ParseBarDate(*raw.Date)
	if err != nil {
		return err
	}
	b.Date = date
	return nil
}

// ParseBarDate 解析K线日期，纯日期按北京时间处理
func ParseBarDate(s string) (time.Time, error) {
	for _, layout := range barDateLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, MarketTZ)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, &InputError{Index: -1, Field: "date", Reason: fmt.Sprintf("%q is not a recognized date", s)}
}

// StockInfo 股票代码与名称
type StockInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// BarRequest K线查询参数
type BarRequest struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Adjust string    `json:"adjust"`
}

// ValidAdjust 判断复权参数是否合法
func ValidAdjust(adjust string) bool {
	switch adjust {
	case AdjustNone, AdjustQFQ, AdjustHFQ:
		return true
	}
	return false
}

// ValidateBars 校验K线序列：日期严格递增、价格为正数、成交量非负
func ValidateBars(bars []PriceBar) error {
	for i, bar := range bars {
		if bar.Date.IsZero() {
			return &InputError{Index: i, Field: "date", Reason: "missing date"}
		}
		if i > 0 && !bar.Date.After(bars[i-1].Date) {
			return &InputError{Index: i, Field: "date", Reason: "dates must be strictly increasing"}
		}
		prices := [...]struct {
			field string
			value float64
		}{
			{"open", bar.Open},
			{"high", bar.High},
			{"low", bar.Low},
			{"close", bar.Close},
		}
		for _, p := range prices {
			if math.IsNaN(p.value) || math.IsInf(p.value, 0) || p.value < 0 {
				return &InputError{Index: i, Field: p.field, Reason: "price must be a finite non-negative number"}
			}
		}
		if math.IsNaN(bar.Volume) || math.IsInf(bar.Volume, 0) || bar.Volume < 0 {
			return &InputError{Index: i, Field: "volume", Reason: "volume must be a finite non-negative number"}
		}
	}
	return nil
}

// NewBarsFromColumns 按列构建K线序列，列长度不一致时直接报错
func NewBarsFromColumns(dates []time.Time, open, high, low, close, volume []float64) ([]PriceBar, error) {
	n := len(dates)
	columns := [...]struct {
		field string
		size  int
	}{
		{"open", len(open)},
		{"high", len(high)},
		{"low", len(low)},
		{"close", len(close)},
		{"volume", len(volume)},
	}
	for _, c := range columns {
		if c.size != n {
			return nil, &InputError{Index: -1, Field: c.field, Reason: "column length does not match dates"}
		}
	}

	bars := make([]PriceBar, n)
	for i := 0; i < n; i++ {
		bars[i] = PriceBar{
			Date:   dates[i],
			Open:   open[i],
			High:   high[i],
			Low:    low[i],
			Close:  close[i],
			Volume: volume[i],
		}
	}
	if err := ValidateBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// Closes 提取收盘价序列
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
