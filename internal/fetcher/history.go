package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrNoData 数据源在请求区间内没有返回任何K线
var ErrNoData = errors.New("no data returned by provider")

// chinaTZ 交易日按北京时间解析
var chinaTZ = types.MarketTZ

const dateLayout = "20060102"

// HistoryFetcher A股日线历史数据获取器
type HistoryFetcher struct {
	klineURL   string
	retries    int
	backoff    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewHistoryFetcher 创建历史K线获取器
func NewHistoryFetcher(provider types.ProviderConfig, network types.NetworkConfig, m *metrics.Metrics) *HistoryFetcher {
	retries := provider.Retries
	if retries <= 0 {
		retries = 3
	}
	return &HistoryFetcher{
		klineURL:   provider.KlineURL,
		retries:    retries,
		backoff:    time.Second,
		httpClient: newHTTPClient(network),
		metrics:    m,
	}
}

// newHTTPClient 按网络配置创建HTTP客户端，支持代理
func newHTTPClient(network types.NetworkConfig) *http.Client {
	timeout := network.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if network.Proxy != "" {
		proxyURL, err := url.Parse(network.Proxy)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			zap.L().Info("✅ 已配置HTTP代理", zap.String("proxy", network.Proxy))
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.Error(err))
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

// SecID 股票代码转换为东方财富 secid，沪市 6/9 开头为 1.，其余为 0.
func SecID(symbol string) (string, error) {
	if len(symbol) != 6 {
		return "", &types.InputError{Index: -1, Field: "symbol", Reason: fmt.Sprintf("%q is not a 6-digit A-share code", symbol)}
	}
	for _, r := range symbol {
		if r < '0' || r > '9' {
			return "", &types.InputError{Index: -1, Field: "symbol", Reason: fmt.Sprintf("%q is not a 6-digit A-share code", symbol)}
		}
	}
	switch symbol[0] {
	case '6', '9':
		return "1." + symbol, nil
	default:
		return "0." + symbol, nil
	}
}

// adjustCode 复权方式对应的 fqt 参数
func adjustCode(adjust string) string {
	switch adjust {
	case types.AdjustQFQ:
		return "1"
	case types.AdjustHFQ:
		return "2"
	default:
		return "0"
	}
}

// FetchDailyBars 获取 [start, end] 区间的日线数据，按日期从旧到新排序
func (h *HistoryFetcher) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]types.PriceBar, error) {
	secid, err := SecID(symbol)
	if err != nil {
		return nil, err
	}
	if !types.ValidAdjust(adjust) {
		return nil, &types.InputError{Index: -1, Field: "adjust", Reason: fmt.Sprintf("unsupported value %q", adjust)}
	}
	if end.Before(start) {
		return nil, &types.InputError{Index: -1, Field: "end", Reason: "end date is before start date"}
	}

	params := url.Values{}
	params.Set("secid", secid)
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")
	params.Set("klt", "101") // 日线
	params.Set("fqt", adjustCode(adjust))
	params.Set("beg", FormatDate(start))
	params.Set("end", FormatDate(end))
	requestURL := h.klineURL + "?" + params.Encode()

	zap.L().Debug("📊 获取历史K线数据",
		zap.String("symbol", symbol),
		zap.String("start", FormatDate(start)),
		zap.String("end", FormatDate(end)),
		zap.String("adjust", adjust))

	began := time.Now()
	var body []byte
	var lastErr error
	for attempt := 1; attempt <= h.retries; attempt++ {
		if attempt > 1 {
			zap.L().Info("🔄 重试获取K线", zap.String("symbol", symbol), zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * h.backoff):
			}
		}

		body, lastErr = h.get(ctx, requestURL)
		if lastErr == nil {
			break
		}
		lastErr = fmt.Errorf("第%d次尝试: %w", attempt, lastErr)
		if ctx.Err() != nil {
			break
		}
	}
	h.metrics.ObserveFetch("kline", lastErr, time.Since(began))
	if lastErr != nil {
		return nil, fmt.Errorf("获取 %s 历史K线失败: %w", symbol, lastErr)
	}

	bars, err := parseKlines(symbol, body)
	if err != nil {
		return nil, err
	}

	zap.L().Info("✅ 历史K线数据获取完成",
		zap.String("symbol", symbol),
		zap.Int("received", len(bars)))
	return bars, nil
}

// get 发送 GET 请求并读取响应体
func (h *HistoryFetcher) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 ashare-kline-board/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP响应错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("响应不是合法的JSON")
	}
	return body, nil
}

// parseKlines 解析 data.klines，每行为 "日期,开盘,收盘,最高,最低,成交量,成交额,..."
func parseKlines(symbol string, body []byte) ([]types.PriceBar, error) {
	rows := gjson.GetBytes(body, "data.klines").Array()
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	parsed := make([]klineRow, 0, len(rows))
	for _, row := range rows {
		r, err := parseKlineRow(row.String())
		if err != nil {
			zap.L().Warn("解析K线数据失败", zap.String("symbol", symbol), zap.String("row", row.String()), zap.Error(err))
			continue
		}
		parsed = append(parsed, r)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].date.Before(parsed[j].date) })

	n := len(parsed)
	dates := make([]time.Time, n)
	open, high, low, closes, volume := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, r := range parsed {
		dates[i] = r.date
		open[i], closes[i], high[i], low[i], volume[i] = r.values[0], r.values[1], r.values[2], r.values[3], r.values[4]
	}
	bars, err := types.NewBarsFromColumns(dates, open, high, low, closes, volume)
	if err != nil {
		return nil, fmt.Errorf("%s: 数据源返回的K线不合法: %w", symbol, err)
	}
	return bars, nil
}

// klineRow 数据源一行：日期、开盘、收盘、最高、最低、成交量
type klineRow struct {
	date   time.Time
	values [5]float64
}

func parseKlineRow(row string) (klineRow, error) {
	fields := strings.Split(row, ",")
	if len(fields) < 6 {
		return klineRow{}, fmt.Errorf("K线字段不足: %d", len(fields))
	}

	date, err := time.ParseInLocation("2006-01-02", fields[0], chinaTZ)
	if err != nil {
		return klineRow{}, fmt.Errorf("解析日期失败: %w", err)
	}

	r := klineRow{date: date}
	names := [5]string{"开盘价", "收盘价", "最高价", "最低价", "成交量"}
	for i := range r.values {
		v, err := parsePrice(fields[i+1])
		if err != nil {
			return klineRow{}, fmt.Errorf("解析%s失败: %w", names[i], err)
		}
		r.values[i] = v
	}
	return r, nil
}

// parsePrice 以十进制解析数值字符串，保留4位小数，避免二进制浮点的解析误差
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, errors.New("empty value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Round(4).Float64()
	return f, nil
}

// ParseDate 解析 YYYYMMDD 格式日期
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, chinaTZ)
	if err != nil {
		return time.Time{}, &types.InputError{Index: -1, Field: "date", Reason: fmt.Sprintf("%q is not YYYYMMDD", s)}
	}
	return t, nil
}

// FormatDate 格式化为 YYYYMMDD
func FormatDate(t time.Time) string {
	return t.In(chinaTZ).Format(dateLayout)
}

// Today 北京时间当天零点
func Today() time.Time {
	now := time.Now().In(chinaTZ)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, chinaTZ)
}
