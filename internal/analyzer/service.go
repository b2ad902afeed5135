package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ashare-kline-board/internal/indicators"
	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/internal/storage"
	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// BarSource 日线数据源
type BarSource interface {
	FetchDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]types.PriceBar, error)
}

// Cache K线与指标缓存
type Cache interface {
	GetBars(ctx context.Context, req types.BarRequest) ([]types.PriceBar, error)
	SetBars(ctx context.Context, req types.BarRequest, bars []types.PriceBar) error
	GetIndicators(ctx context.Context, req types.BarRequest, params types.IndicatorParams) (types.IndicatorSet, error)
	SetIndicators(ctx context.Context, req types.BarRequest, params types.IndicatorParams, set types.IndicatorSet) error
}

// Store 持久化存储，可为 nil
type Store interface {
	SaveBars(ctx context.Context, symbol, adjust string, bars []types.PriceBar) error
	SaveSnapshot(ctx context.Context, result *types.AnalysisResult, paramsHash string) error
	SaveSignal(ctx context.Context, alert types.SignalAlert) error
}

// Service 行情与指标服务：缓存 -> 数据源 -> 持久化
type Service struct {
	source  BarSource
	cache   Cache
	store   Store
	params  types.IndicatorParams
	metrics *metrics.Metrics
}

// NewService 创建服务，store 为 nil 时不落库
func NewService(source BarSource, cache Cache, store Store, params types.IndicatorParams, m *metrics.Metrics) *Service {
	return &Service{
		source:  source,
		cache:   cache,
		store:   store,
		params:  params,
		metrics: m,
	}
}

// Params 默认指标参数
func (s *Service) Params() types.IndicatorParams {
	return s.params.Clone()
}

// LoadBars 获取日线，优先读缓存
func (s *Service) LoadBars(ctx context.Context, req types.BarRequest) ([]types.PriceBar, error) {
	if !types.ValidAdjust(req.Adjust) {
		return nil, &types.InputError{Index: -1, Field: "adjust", Reason: fmt.Sprintf("unsupported value %q", req.Adjust)}
	}

	bars, err := s.cache.GetBars(ctx, req)
	if err == nil {
		return bars, nil
	}
	if !errors.Is(err, storage.ErrCacheMiss) {
		zap.L().Warn("读取K线缓存失败", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	bars, err = s.source.FetchDailyBars(ctx, req.Symbol, req.Start, req.End, req.Adjust)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetBars(ctx, req, bars); err != nil {
		zap.L().Warn("写入K线缓存失败", zap.String("symbol", req.Symbol), zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.SaveBars(ctx, req.Symbol, req.Adjust, bars); err != nil {
			zap.L().Error("保存K线数据失败", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}
	return bars, nil
}

// Indicators 获取日线并计算指标
func (s *Service) Indicators(ctx context.Context, req types.BarRequest, params types.IndicatorParams) ([]types.PriceBar, types.IndicatorSet, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	bars, err := s.LoadBars(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if set, err := s.cache.GetIndicators(ctx, req, params); err == nil && alignedWith(set, bars) {
		return bars, set, nil
	}

	set, err := s.Compute(bars, params)
	if err != nil {
		return nil, nil, err
	}
	if err := s.cache.SetIndicators(ctx, req, params, set); err != nil {
		zap.L().Warn("写入指标缓存失败", zap.String("symbol", req.Symbol), zap.Error(err))
	}
	return bars, set, nil
}

// Compute 对给定K线计算全部指标
func (s *Service) Compute(bars []types.PriceBar, params types.IndicatorParams) (types.IndicatorSet, error) {
	began := time.Now()
	set, err := indicators.ComputeAll(bars, params)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCompute(time.Since(began))
	return set, nil
}

// alignedWith 缓存的指标与K线长度一致才可复用
func alignedWith(set types.IndicatorSet, bars []types.PriceBar) bool {
	if len(set) == 0 {
		return false
	}
	for _, s := range set {
		if len(s) != len(bars) {
			return false
		}
	}
	return true
}
