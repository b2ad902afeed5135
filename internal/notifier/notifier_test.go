package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func sampleAlerts() []types.SignalAlert {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []types.SignalAlert{
		{
			Symbol: "600519", Name: "贵州茅台", Date: day, Close: 1700.5,
			Signals: []types.Signal{{Type: types.SignalMACDGoldenCross, Bias: types.BiasBullish, Desc: "MACD金叉"}},
		},
		{
			Symbol: "000001", Name: "平安银行", Date: day, Close: 9.21,
			Signals: []types.Signal{
				{Type: types.SignalRSIOverbought, Bias: types.BiasBearish, Desc: "RSI超买 75.00"},
				{Type: types.SignalKDJDeadCross, Bias: types.BiasBearish, Desc: "KDJ死叉"},
			},
		},
	}
}

func TestBuildQuoteURL(t *testing.T) {
	tests := map[string]string{
		"600519": "https://quote.eastmoney.com/sh600519.html",
		"000001": "https://quote.eastmoney.com/sz000001.html",
		"300750": "https://quote.eastmoney.com/sz300750.html",
		"830799": "https://quote.eastmoney.com/bj830799.html",
	}
	for code, want := range tests {
		if got := buildQuoteURL(code); got != want {
			t.Errorf("buildQuoteURL(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestSplitByBias(t *testing.T) {
	bullish, bearish := splitByBias(sampleAlerts())
	if len(bullish) != 1 || bullish[0].Symbol != "600519" {
		t.Errorf("bullish = %+v", bullish)
	}
	if len(bearish) != 1 || bearish[0].Symbol != "000001" {
		t.Errorf("bearish = %+v", bearish)
	}
}

func TestConsoleNotifier(t *testing.T) {
	var out strings.Builder
	cn := &ConsoleNotifier{out: func(format string, args ...interface{}) {
		fmt.Fprintf(&out, format, args...)
	}}
	if err := cn.SendSignals(context.Background(), sampleAlerts()); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{"600519 贵州茅台", "MACD金叉", "RSI超买 75.00、KDJ死叉", "偏多 1 只，偏空 1 只"} {
		if !strings.Contains(text, want) {
			t.Errorf("console output missing %q:\n%s", want, text)
		}
	}
}

func TestDingTalkNotifier_SignedRequest(t *testing.T) {
	const secret = "SECtest"
	fixed := time.UnixMilli(1700000000123)

	var received DingTalkMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("access_token") != "abc" || q.Get("timestamp") != "1700000000123" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte("1700000000123\n" + secret))
		if q.Get("sign") != base64.StdEncoding.EncodeToString(mac.Sum(nil)) {
			t.Errorf("bad signature %s", q.Get("sign"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Error(err)
		}
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer server.Close()

	m := metrics.New()
	dtn := NewDingTalkNotifier(server.URL+"/robot/send?access_token=abc", secret, m)
	dtn.now = func() time.Time { return fixed }

	if err := dtn.SendSignals(context.Background(), sampleAlerts()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if received.MsgType != "markdown" || !strings.Contains(received.Markdown.Text, "sh600519") {
		t.Errorf("message = %+v", received)
	}
	if got := testutil.ToFloat64(m.AlertsSent.WithLabelValues("dingtalk", "ok")); got != 1 {
		t.Errorf("alerts ok = %v, want 1", got)
	}
}

func TestDingTalkNotifier_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":310000,"errmsg":"sign not match"}`)
	}))
	defer server.Close()

	dtn := NewDingTalkNotifier(server.URL, "", nil)
	dtn.fallback.out = func(string, ...interface{}) {}
	err := dtn.SendSignals(context.Background(), sampleAlerts())
	if err == nil || !strings.Contains(err.Error(), "310000") {
		t.Errorf("err = %v, want dingtalk error", err)
	}
}

func TestNew_FallsBackToConsole(t *testing.T) {
	if n := New(types.AlertConfig{}, nil); n.Name() != "console" {
		t.Errorf("notifier = %s, want console", n.Name())
	}
	if n := New(types.AlertConfig{DingTalkWebhook: "http://example.invalid"}, nil); n.Name() != "dingtalk" {
		t.Errorf("notifier = %s, want dingtalk", n.Name())
	}
}
