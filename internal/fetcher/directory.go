package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
	"go.uber.org/zap"
)

// 沪深京A股板块过滤条件
const ashareFilter = "m:0 t:6,m:0 t:80,m:1 t:2,m:1 t:23,m:0 t:81 s:2048"

const (
	directoryPageSize = 100
	directoryMaxPages = 200
)

// DirectoryFetcher 全市场A股代码列表获取器
type DirectoryFetcher struct {
	listURL string
	timeout time.Duration
	client  *fasthttp.Client
	metrics *metrics.Metrics
}

// NewDirectoryFetcher 创建股票列表获取器
func NewDirectoryFetcher(provider types.ProviderConfig, network types.NetworkConfig, m *metrics.Metrics) *DirectoryFetcher {
	timeout := network.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := &fasthttp.Client{
		Name:                "ashare-kline-board",
		MaxIdleConnDuration: time.Minute,
	}
	if network.Proxy != "" {
		if u, err := url.Parse(network.Proxy); err == nil && u.Host != "" {
			addr := u.Host
			if u.User != nil {
				addr = u.User.String() + "@" + u.Host
			}
			client.Dial = fasthttpproxy.FasthttpHTTPDialer(addr)
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.String("proxy", network.Proxy))
		}
	}

	return &DirectoryFetcher{
		listURL: provider.StockListURL,
		timeout: timeout,
		client:  client,
		metrics: m,
	}
}

// FetchStockList 分页拉取全部A股代码与名称
func (d *DirectoryFetcher) FetchStockList(ctx context.Context) ([]types.StockInfo, error) {
	began := time.Now()
	stocks, err := d.fetchAll(ctx)
	d.metrics.ObserveFetch("stock_list", err, time.Since(began))
	if err != nil {
		return nil, err
	}

	zap.L().Info("✅ 获取A股列表完成", zap.Int("count", len(stocks)))
	return stocks, nil
}

func (d *DirectoryFetcher) fetchAll(ctx context.Context) ([]types.StockInfo, error) {
	var stocks []types.StockInfo
	seen := make(map[string]bool)

	for page := 1; page <= directoryMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := d.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("获取股票列表第%d页失败: %w", page, err)
		}

		total := gjson.GetBytes(body, "data.total").Int()
		rows := gjson.GetBytes(body, "data.diff").Array()
		for _, row := range rows {
			code := row.Get("f12").String()
			name := row.Get("f14").String()
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			stocks = append(stocks, types.StockInfo{Code: code, Name: name})
		}

		if len(rows) < directoryPageSize || int64(len(stocks)) >= total {
			break
		}
	}

	if len(stocks) == 0 {
		return nil, fmt.Errorf("股票列表: %w", ErrNoData)
	}
	return stocks, nil
}

func (d *DirectoryFetcher) fetchPage(ctx context.Context, page int) ([]byte, error) {
	params := url.Values{}
	params.Set("pn", strconv.Itoa(page))
	params.Set("pz", strconv.Itoa(directoryPageSize))
	params.Set("po", "1")
	params.Set("np", "1")
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fid", "f12")
	params.Set("fs", ashareFilter)
	params.Set("fields", "f12,f14")

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.listURL + "?" + params.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("HTTP响应错误: %d", resp.StatusCode())
	}

	// resp 释放后 Body 不可再用，复制一份
	body := append([]byte(nil), resp.Body()...)
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("响应不是合法的JSON")
	}
	return body, nil
}
