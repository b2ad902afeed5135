package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ashare-kline-board/internal/fetcher"
	"ashare-kline-board/pkg/types"

	"github.com/gin-gonic/gin"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
	defaultSignalLimit = 50
	// 未指定起始日期时回看一年
	defaultLookbackDays = 365
)

func defaultToday() time.Time {
	return fetcher.Today()
}

// ComputeRequest 直接提交K线计算指标，params 只需给出要覆盖的字段
type ComputeRequest struct {
	Bars   []types.PriceBar `json:"bars" binding:"required"`
	Params json.RawMessage  `json:"params"`
}

// writeError 按错误类型映射状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, fetcher.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// barRequest 解析 symbol/start/end/adjust，缺省为最近一年前复权
func (s *Server) barRequest(c *gin.Context) (types.BarRequest, error) {
	symbol := c.Param("symbol")
	if _, err := fetcher.SecID(symbol); err != nil {
		return types.BarRequest{}, err
	}

	end := s.today()
	if v := c.Query("end"); v != "" {
		t, err := fetcher.ParseDate(v)
		if err != nil {
			return types.BarRequest{}, err
		}
		end = t
	}
	start := end.AddDate(0, 0, -defaultLookbackDays)
	if v := c.Query("start"); v != "" {
		t, err := fetcher.ParseDate(v)
		if err != nil {
			return types.BarRequest{}, err
		}
		start = t
	}
	if start.After(end) {
		return types.BarRequest{}, &types.InputError{Index: -1, Field: "start", Reason: "start must not be after end"}
	}

	adjust := s.opts.Adjust
	if v, ok := c.GetQuery("adjust"); ok {
		adjust = v
		if v == "none" {
			adjust = types.AdjustNone
		}
	}
	if !types.ValidAdjust(adjust) {
		return types.BarRequest{}, &types.InputError{Index: -1, Field: "adjust", Reason: fmt.Sprintf("unsupported value %q", adjust)}
	}

	return types.BarRequest{Symbol: symbol, Start: start, End: end, Adjust: adjust}, nil
}

func (s *Server) stockName(code string) string {
	if s.opts.Directory == nil {
		return ""
	}
	name, _ := s.opts.Directory.Name(code)
	return name
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"status": "ok",
		"time":   time.Now(),
	}
	if s.opts.Directory != nil {
		resp["stocks"] = s.opts.Directory.Len()
		resp["stocks_updated"] = s.opts.Directory.UpdateTime()
	}
	if s.opts.Cache != nil {
		resp["cache"] = s.opts.Cache.Stats(ctx)
	}

	status := http.StatusOK
	if s.opts.Store != nil {
		if err := s.opts.Store.Health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}
	c.JSON(status, resp)
}

func (s *Server) searchStocks(c *gin.Context) {
	if s.opts.Directory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stock directory unavailable"})
		return
	}

	limit := defaultSearchLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, &types.InputError{Index: -1, Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results := s.opts.Directory.Search(strings.TrimSpace(c.Query("q")), limit)
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   s.opts.Directory.Len(),
	})
}

func (s *Server) getKline(c *gin.Context) {
	req, err := s.barRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	bars, err := s.opts.Service.LoadBars(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  req.Symbol,
		"name":    s.stockName(req.Symbol),
		"adjust":  req.Adjust,
		"bars":    bars,
		"summary": types.Summarize(bars),
	})
}

func (s *Server) getIndicators(c *gin.Context) {
	req, err := s.barRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	bars, set, err := s.opts.Service.Indicators(c.Request.Context(), req, s.opts.Service.Params())
	if err != nil {
		writeError(c, err)
		return
	}

	if v := c.Query("names"); v != "" {
		selected := make(types.IndicatorSet)
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			series, ok := set[name]
			if !ok {
				writeError(c, &types.InputError{Index: -1, Field: "names", Reason: fmt.Sprintf("unknown indicator %q", name)})
				return
			}
			selected[name] = series
		}
		set = selected
	}

	dates := make([]string, len(bars))
	for i, b := range bars {
		dates[i] = b.Date.Format("2006-01-02")
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     req.Symbol,
		"name":       s.stockName(req.Symbol),
		"adjust":     req.Adjust,
		"dates":      dates,
		"bars":       bars,
		"indicators": set,
		"latest":     set.Latest(),
		"summary":    types.Summarize(bars),
	})
}

func (s *Server) computeIndicators(c *gin.Context) {
	var body ComputeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, &types.InputError{Index: -1, Field: "body", Reason: err.Error()})
		return
	}

	params := s.opts.Service.Params()
	if len(body.Params) > 0 {
		if err := json.Unmarshal(body.Params, &params); err != nil {
			writeError(c, &types.InputError{Index: -1, Field: "params", Reason: err.Error()})
			return
		}
	}
	set, err := s.opts.Service.Compute(body.Bars, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"indicators": set,
		"latest":     set.Latest(),
	})
}

func (s *Server) listAnalysis(c *gin.Context) {
	if s.opts.Analysis == nil {
		c.JSON(http.StatusOK, gin.H{"results": []*types.AnalysisResult{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": s.opts.Analysis.Results()})
}

// getAnalysis 优先返回最近一次定时分析结果，?refresh=true 时重新分析
func (s *Server) getAnalysis(c *gin.Context) {
	symbol := c.Param("symbol")
	if _, err := fetcher.SecID(symbol); err != nil {
		writeError(c, err)
		return
	}
	if s.opts.Analysis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis unavailable"})
		return
	}

	if c.Query("refresh") != "true" {
		if result, ok := s.opts.Analysis.Latest(symbol); ok {
			c.JSON(http.StatusOK, result)
			return
		}
	}
	result, err := s.opts.Analysis.AnalyzeSymbol(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getSignals(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database disabled"})
		return
	}
	symbol := c.Param("symbol")
	if _, err := fetcher.SecID(symbol); err != nil {
		writeError(c, err)
		return
	}

	limit := defaultSignalLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, &types.InputError{Index: -1, Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.opts.Store.GetSignals(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "signals": records})
}
