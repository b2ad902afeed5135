package indicators

import (
	"fmt"
	"sync"

	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// Calculator 单个指标族的计算器
type Calculator interface {
	Name() string
	// Keys 返回 Calculate 输出的全部指标名
	Keys() []string
	Calculate(bars []types.PriceBar) types.IndicatorSet
}

// Engine 指标计算引擎，计算器之间互不依赖，并发执行
type Engine struct {
	params      types.IndicatorParams
	calculators []Calculator
}

// NewEngine 按参数创建引擎，参数非法时返回 InputError
func NewEngine(params types.IndicatorParams) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	calculators := []Calculator{
		NewMACalculator(params.MAWindows),
		NewEMACalculator(params.EMASpans),
		NewMACDCalculator(params.MACD),
		NewKDJCalculator(params.KDJ),
		NewRSICalculator(params.RSI),
		NewBollCalculator(params.BOLL),
		NewATRCalculator(params.ATR),
		NewOBVCalculator(),
	}

	return &Engine{params: params, calculators: calculators}, nil
}

// Params 引擎使用的参数
func (e *Engine) Params() types.IndicatorParams {
	return e.params
}

// Calculators 已注册的计算器
func (e *Engine) Calculators() []Calculator {
	return e.calculators
}

// Keys 引擎输出的全部指标名
func (e *Engine) Keys() []string {
	var keys []string
	for _, c := range e.calculators {
		keys = append(keys, c.Keys()...)
	}
	return keys
}

// Compute 计算全部指标，每个序列长度与 bars 相同
// 单个计算器出错只影响自己的指标（整列 NaN），不影响其他指标
func (e *Engine) Compute(bars []types.PriceBar) (types.IndicatorSet, error) {
	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}

	results := make([]types.IndicatorSet, len(e.calculators))
	var wg sync.WaitGroup
	for i, calc := range e.calculators {
		wg.Add(1)
		go func(i int, calc Calculator) {
			defer wg.Done()
			results[i] = runCalculator(calc, bars)
		}(i, calc)
	}
	wg.Wait()

	set := make(types.IndicatorSet)
	for _, r := range results {
		for name, s := range r {
			set[name] = s
		}
	}
	return set, nil
}

// ComputeAll 使用给定参数一次性计算全部指标
func ComputeAll(bars []types.PriceBar, params types.IndicatorParams) (types.IndicatorSet, error) {
	engine, err := NewEngine(params)
	if err != nil {
		return nil, err
	}
	return engine.Compute(bars)
}

// runCalculator 执行单个计算器，panic 或输出缺失时以 NaN 序列兜底
func runCalculator(calc Calculator, bars []types.PriceBar) (out types.IndicatorSet) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("指标计算异常",
				zap.String("indicator", calc.Name()),
				zap.String("error", fmt.Sprint(r)))
			out = nanSet(calc.Keys(), len(bars))
		}
	}()

	out = calc.Calculate(bars)
	if out == nil {
		out = make(types.IndicatorSet)
	}
	for _, key := range calc.Keys() {
		if s, ok := out[key]; !ok || len(s) != len(bars) {
			zap.L().Warn("指标输出长度不匹配",
				zap.String("indicator", calc.Name()),
				zap.String("key", key),
				zap.Int("bars", len(bars)))
			out[key] = types.NewNaNSeries(len(bars))
		}
	}
	return out
}

func nanSet(keys []string, n int) types.IndicatorSet {
	set := make(types.IndicatorSet, len(keys))
	for _, key := range keys {
		set[key] = types.NewNaNSeries(n)
	}
	return set
}
