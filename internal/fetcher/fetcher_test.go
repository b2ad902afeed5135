package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"
)

const klineBody = `{"rc":0,"data":{"code":"000001","market":0,"name":"平安银行","klines":[
"2024-01-03,9.19,9.20,9.22,9.15,1012130,929843000.00,0.76,-0.11,-0.01,0.52",
"2024-01-02,9.39,9.21,9.42,9.21,1158366,1075742252.00,2.24,-1.92,-0.18,0.60",
"2024-01-04,9.19,9.11,9.19,9.08,1216296,1110736000.00,1.20,-0.98,-0.09,0.63"
]}}`

func newTestHistoryFetcher(serverURL string) *HistoryFetcher {
	h := NewHistoryFetcher(
		types.ProviderConfig{KlineURL: serverURL, Retries: 3},
		types.NetworkConfig{Timeout: 5 * time.Second},
		metrics.New(),
	)
	h.backoff = time.Millisecond
	return h
}

func TestSecID(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"600519", "1.600519"},
		{"900901", "1.900901"},
		{"000001", "0.000001"},
		{"300750", "0.300750"},
		{"830799", "0.830799"},
	}
	for _, tt := range tests {
		got, err := SecID(tt.symbol)
		if err != nil || got != tt.want {
			t.Errorf("SecID(%s) = %s, %v; want %s", tt.symbol, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "60051", "60051a", "6005190"} {
		if _, err := SecID(bad); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("SecID(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestFetchDailyBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("secid") != "0.000001" || q.Get("fqt") != "1" || q.Get("klt") != "101" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("beg") != "20240101" || q.Get("end") != "20240105" {
			t.Errorf("unexpected range: %s-%s", q.Get("beg"), q.Get("end"))
		}
		fmt.Fprint(w, klineBody)
	}))
	defer server.Close()

	start, _ := ParseDate("20240101")
	end, _ := ParseDate("20240105")
	bars, err := newTestHistoryFetcher(server.URL).FetchDailyBars(context.Background(), "000001", start, end, types.AdjustQFQ)
	if err != nil {
		t.Fatalf("FetchDailyBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	if FormatDate(bars[0].Date) != "20240102" || FormatDate(bars[2].Date) != "20240104" {
		t.Errorf("bars not sorted oldest first: %v .. %v", bars[0].Date, bars[2].Date)
	}
	first := bars[0]
	if first.Open != 9.39 || first.Close != 9.21 || first.High != 9.42 || first.Low != 9.21 || first.Volume != 1158366 {
		t.Errorf("first bar = %+v", first)
	}
}

func TestFetchDailyBars_NoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rc":0,"data":null}`)
	}))
	defer server.Close()

	now := time.Now()
	_, err := newTestHistoryFetcher(server.URL).FetchDailyBars(context.Background(), "600519", now.AddDate(0, 0, -7), now, types.AdjustNone)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestFetchDailyBars_Retries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, klineBody)
	}))
	defer server.Close()

	now := time.Now()
	bars, err := newTestHistoryFetcher(server.URL).FetchDailyBars(context.Background(), "000001", now.AddDate(0, 0, -7), now, types.AdjustNone)
	if err != nil {
		t.Fatalf("FetchDailyBars: %v", err)
	}
	if len(bars) != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("bars=%d calls=%d", len(bars), calls)
	}
}

func TestFetchDailyBars_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	now := time.Now()
	_, err := newTestHistoryFetcher(server.URL).FetchDailyBars(context.Background(), "000001", now.AddDate(0, 0, -7), now, types.AdjustNone)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchDailyBars_InvalidArguments(t *testing.T) {
	h := newTestHistoryFetcher("http://127.0.0.1:1")
	now := time.Now()
	if _, err := h.FetchDailyBars(context.Background(), "000001", now, now, "xfq"); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("bad adjust: err = %v", err)
	}
	if _, err := h.FetchDailyBars(context.Background(), "000001", now, now.AddDate(0, 0, -1), ""); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("end before start: err = %v", err)
	}
}

func TestParseKlines_SkipsMalformedRows(t *testing.T) {
	body := []byte(`{"data":{"klines":["2024-01-02,9.39,9.21,9.42,9.21,1158366","bad-row","2024-01-03,-,9.20,9.22,9.15,100"]}}`)
	bars, err := parseKlines("000001", body)
	if err != nil {
		t.Fatalf("parseKlines: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("got %d bars, want 1", len(bars))
	}
}

func TestParseKlines_SortsAndMapsColumns(t *testing.T) {
	body := []byte(`{"data":{"klines":["2024-01-03,9.40,9.50,9.60,9.30,2000","2024-01-02,9.39,9.21,9.42,9.20,1000"]}}`)
	bars, err := parseKlines("000001", body)
	if err != nil {
		t.Fatalf("parseKlines: %v", err)
	}
	if len(bars) != 2 || !bars[0].Date.Before(bars[1].Date) {
		t.Fatalf("bars not sorted: %+v", bars)
	}
	want := types.PriceBar{Date: bars[1].Date, Open: 9.40, High: 9.60, Low: 9.30, Close: 9.50, Volume: 2000}
	if bars[1] != want {
		t.Errorf("bar = %+v, want %+v", bars[1], want)
	}
}

func TestParseKlines_RejectsDuplicateDates(t *testing.T) {
	body := []byte(`{"data":{"klines":["2024-01-02,9.39,9.21,9.42,9.20,1000","2024-01-02,9.40,9.50,9.60,9.30,2000"]}}`)
	if _, err := parseKlines("000001", body); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestFetchStockList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pn") != "1" {
			t.Errorf("unexpected page %s", r.URL.Query().Get("pn"))
		}
		fmt.Fprint(w, `{"rc":0,"data":{"total":3,"diff":[
			{"f12":"000001","f14":"平安银行"},
			{"f12":"600519","f14":"贵州茅台"},
			{"f12":"300750","f14":"宁德时代"}]}}`)
	}))
	defer server.Close()

	d := NewDirectoryFetcher(types.ProviderConfig{StockListURL: server.URL}, types.NetworkConfig{Timeout: 5 * time.Second}, nil)
	stocks, err := d.FetchStockList(context.Background())
	if err != nil {
		t.Fatalf("FetchStockList: %v", err)
	}
	if len(stocks) != 3 || stocks[1].Code != "600519" || stocks[1].Name != "贵州茅台" {
		t.Errorf("stocks = %+v", stocks)
	}
}

func TestFetchStockList_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"rc":0,"data":{"total":0,"diff":[]}}`)
	}))
	defer server.Close()

	d := NewDirectoryFetcher(types.ProviderConfig{StockListURL: server.URL}, types.NetworkConfig{}, nil)
	if _, err := d.FetchStockList(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}
