package types

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 输入数据不合法
var ErrInvalidInput = errors.New("invalid input")

// InputError 描述具体违反的输入约束
type InputError struct {
	Index  int    // 出错的K线下标，-1 表示与具体K线无关
	Field  string // 字段或参数名
	Reason string
}

func (e *InputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: bar %d: %s: %s", e.Index, e.Field, e.Reason)
}

// Unwrap 使 errors.Is(err, ErrInvalidInput) 成立
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// KlineSummary 顶部指标栏数据
type KlineSummary struct {
	Close         float64 `json:"close"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
}

// Summarize 根据最新两根K线计算涨跌
func Summarize(bars []PriceBar) *KlineSummary {
	if len(bars) == 0 {
		return nil
	}
	latest := bars[len(bars)-1]
	prev := latest
	if len(bars) > 1 {
		prev = bars[len(bars)-2]
	}

	s := &KlineSummary{
		Close:  latest.Close,
		Change: latest.Close - prev.Close,
		Volume: latest.Volume,
	}
	if prev.Close != 0 {
		s.ChangePercent = s.Change / prev.Close * 100
	}
	return s
}
