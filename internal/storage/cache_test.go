package storage

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var cst = time.FixedZone("CST", 8*3600)

func testRequest() types.BarRequest {
	return types.BarRequest{
		Symbol: "600519",
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, cst),
		End:    time.Date(2024, 6, 30, 0, 0, 0, 0, cst),
		Adjust: types.AdjustQFQ,
	}
}

func TestKeys(t *testing.T) {
	req := testRequest()
	if got := BarsKey(req); got != "kline:bars:600519:20240101:20240630:qfq" {
		t.Errorf("BarsKey = %s", got)
	}
	req.Adjust = types.AdjustNone
	if got := BarsKey(req); !strings.HasSuffix(got, ":none") {
		t.Errorf("BarsKey without adjust = %s", got)
	}

	a := types.DefaultIndicatorParams()
	b := types.DefaultIndicatorParams()
	b.KDJ.N = 14
	if IndicatorKey(req, a) == IndicatorKey(req, b) {
		t.Error("different params must not share an indicator key")
	}
	if !strings.HasPrefix(IndicatorKey(req, a), "kline:ind:600519:") {
		t.Errorf("IndicatorKey = %s", IndicatorKey(req, a))
	}
}

func TestCache_MemoryBars(t *testing.T) {
	m := metrics.New()
	c := NewCache(types.RedisConfig{TTL: time.Hour}, m)
	ctx := context.Background()
	req := testRequest()

	if _, err := c.GetBars(ctx, req); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("empty cache: err = %v, want ErrCacheMiss", err)
	}

	bars := []types.PriceBar{
		{Date: req.Start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: req.Start.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200},
	}
	if err := c.SetBars(ctx, req, bars); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetBars(ctx, req)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(got) != 2 || got[1].Close != 2 || !got[0].Date.Equal(req.Start) {
		t.Errorf("bars = %+v", got)
	}

	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("bars", "hit")); v != 1 {
		t.Errorf("hits = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("bars", "miss")); v != 1 {
		t.Errorf("misses = %v, want 1", v)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(types.RedisConfig{TTL: time.Minute}, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	req := testRequest()
	if err := c.SetBars(ctx, req, []types.PriceBar{{Date: req.Start, Close: 1}}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(59 * time.Second)
	if _, err := c.GetBars(ctx, req); err != nil {
		t.Errorf("before expiry: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := c.GetBars(ctx, req); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("after expiry: err = %v, want ErrCacheMiss", err)
	}
}

func TestCache_MemoryCapEvictsOldest(t *testing.T) {
	c := NewCache(types.RedisConfig{TTL: time.Hour}, nil)
	c.maxEntries = 3
	now := time.Now()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	symbols := []string{"000001", "000002", "600000", "600519", "300750"}
	for _, symbol := range symbols {
		req := testRequest()
		req.Symbol = symbol
		if err := c.SetBars(ctx, req, []types.PriceBar{{Date: req.Start, Close: 1}}); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Second)
	}

	if n := len(c.memory); n != 3 {
		t.Fatalf("memory entries = %d, want 3", n)
	}
	for i, symbol := range symbols {
		req := testRequest()
		req.Symbol = symbol
		_, err := c.GetBars(ctx, req)
		if evicted := i < 2; evicted != errors.Is(err, ErrCacheMiss) {
			t.Errorf("%s: err = %v, evicted = %v", symbol, err, evicted)
		}
	}
}

func TestCache_IndicatorsKeepNaN(t *testing.T) {
	c := NewCache(types.RedisConfig{}, nil)
	ctx := context.Background()
	req := testRequest()
	params := types.DefaultIndicatorParams()

	set := types.IndicatorSet{"MA5": types.Series{math.NaN(), math.NaN(), 3}}
	if err := c.SetIndicators(ctx, req, params, set); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetIndicators(ctx, req, params)
	if err != nil {
		t.Fatalf("GetIndicators: %v", err)
	}
	ma := got["MA5"]
	if len(ma) != 3 || !math.IsNaN(ma[0]) || ma[2] != 3 {
		t.Errorf("MA5 = %v", ma)
	}

	other := types.DefaultIndicatorParams()
	other.RSI.Period = 6
	if _, err := c.GetIndicators(ctx, req, other); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("other params: err = %v, want ErrCacheMiss", err)
	}
}

func TestCache_Stats(t *testing.T) {
	c := NewCache(types.RedisConfig{}, nil)
	stats := c.Stats(context.Background())
	if stats["redis_enabled"] != false {
		t.Errorf("stats = %v", stats)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
