package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// 每个分组最多展示的股票数
const maxShow = 8

// Interface 通知接口
type Interface interface {
	Name() string
	SendSignals(ctx context.Context, alerts []types.SignalAlert) error
}

// buildQuoteURL 东方财富行情页链接
func buildQuoteURL(code string) string {
	market := "sz"
	if code != "" {
		switch code[0] {
		case '6', '9':
			market = "sh"
		case '4', '8':
			market = "bj"
		}
	}
	return fmt.Sprintf("https://quote.eastmoney.com/%s%s.html", market, code)
}

// displayName 代码与名称
func displayName(alert types.SignalAlert) string {
	if alert.Name == "" {
		return alert.Symbol
	}
	return alert.Symbol + " " + alert.Name
}

// alertBias 多空信号数量之差决定整体方向
func alertBias(alert types.SignalAlert) string {
	score := 0
	for _, s := range alert.Signals {
		switch s.Bias {
		case types.BiasBullish:
			score++
		case types.BiasBearish:
			score--
		}
	}
	if score >= 0 {
		return types.BiasBullish
	}
	return types.BiasBearish
}

// splitByBias 按整体方向分组，组内按信号数量从多到少、代码升序
func splitByBias(alerts []types.SignalAlert) (bullish, bearish []types.SignalAlert) {
	for _, a := range alerts {
		if alertBias(a) == types.BiasBullish {
			bullish = append(bullish, a)
		} else {
			bearish = append(bearish, a)
		}
	}
	less := func(list []types.SignalAlert) func(i, j int) bool {
		return func(i, j int) bool {
			if len(list[i].Signals) != len(list[j].Signals) {
				return len(list[i].Signals) > len(list[j].Signals)
			}
			return list[i].Symbol < list[j].Symbol
		}
	}
	sort.Slice(bullish, less(bullish))
	sort.Slice(bearish, less(bearish))
	return bullish, bearish
}

func signalDescs(alert types.SignalAlert) string {
	descs := make([]string, len(alert.Signals))
	for i, s := range alert.Signals {
		descs[i] = s.Desc
	}
	return strings.Join(descs, "、")
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct {
	out func(format string, args ...interface{})
}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: func(format string, args ...interface{}) {
		fmt.Printf(format, args...)
	}}
}

func (cn *ConsoleNotifier) Name() string { return "console" }

// SendSignals 打印信号汇总框
func (cn *ConsoleNotifier) SendSignals(_ context.Context, alerts []types.SignalAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	cn.out("%s", cn.render(alerts))
	return nil
}

func (cn *ConsoleNotifier) render(alerts []types.SignalAlert) string {
	const width = 72
	var b strings.Builder
	line := func(content string) {
		// 使用rune数计算显示宽度，避免中文导致负数填充
		padding := width - utf8.RuneCountInString(content) - 2
		if padding < 0 {
			padding = 0
		}
		b.WriteString("║ " + content + strings.Repeat(" ", padding) + "║\n")
	}

	bullish, bearish := splitByBias(alerts)
	b.WriteString("\n╔" + strings.Repeat("═", width) + "╗\n")
	line(fmt.Sprintf("🚨 技术信号提醒 %s", time.Now().Format("2006-01-02 15:04:05")))
	line(fmt.Sprintf("偏多 %d 只，偏空 %d 只", len(bullish), len(bearish)))
	for _, group := range []struct {
		title  string
		alerts []types.SignalAlert
	}{{"📈 偏多", bullish}, {"📉 偏空", bearish}} {
		if len(group.alerts) == 0 {
			continue
		}
		line("")
		line(group.title)
		for _, a := range group.alerts {
			line(fmt.Sprintf("%s 收盘 %.2f：%s", displayName(a), a.Close, signalDescs(a)))
		}
	}
	b.WriteString("╚" + strings.Repeat("═", width) + "╝\n")
	return b.String()
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	httpClient *http.Client
	fallback   *ConsoleNotifier
	metrics    *metrics.Metrics
	now        func() time.Time
}

// DingTalkMessage 钉钉消息结构
type DingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Markdown *DingTalkMarkdown `json:"markdown,omitempty"`
	At       *DingTalkAt       `json:"at,omitempty"`
}

type DingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type DingTalkAt struct {
	AtAll bool `json:"isAtAll"`
}

// DingTalkResponse 钉钉API响应
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// New 按配置创建通知器，未配置钉钉时使用控制台输出
func New(cfg types.AlertConfig, m *metrics.Metrics) Interface {
	if cfg.DingTalkWebhook == "" {
		zap.L().Info("🔧 未配置钉钉Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}
	if cfg.DingTalkSecret != "" {
		zap.L().Info("✅ 已配置钉钉通知服务（含加签验证）")
	} else {
		zap.L().Warn("⚠️ 钉钉通知已配置，但未设置secret（建议配置加签验证）")
	}
	return NewDingTalkNotifier(cfg.DingTalkWebhook, cfg.DingTalkSecret, m)
}

// NewDingTalkNotifier 创建钉钉通知器
func NewDingTalkNotifier(webhookURL, secret string, m *metrics.Metrics) *DingTalkNotifier {
	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		fallback:   NewConsoleNotifier(),
		metrics:    m,
		now:        time.Now,
	}
}

func (dtn *DingTalkNotifier) Name() string { return "dingtalk" }

// SendSignals 发送信号汇总，失败时降级为控制台输出并返回错误
func (dtn *DingTalkNotifier) SendSignals(ctx context.Context, alerts []types.SignalAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	title := fmt.Sprintf("📊 A股技术信号 - %d只股票", len(alerts))
	if len(alerts) == 1 {
		title = fmt.Sprintf("📊 A股技术信号 - %s", displayName(alerts[0]))
	}

	err := dtn.sendDingTalkMessage(ctx, title, dtn.buildMarkdownContent(alerts))
	dtn.metrics.ObserveAlert(dtn.Name(), err)
	if err != nil {
		zap.L().Error("❌ 钉钉发送失败，降级为控制台输出", zap.Error(err))
		_ = dtn.fallback.SendSignals(ctx, alerts)
		return err
	}

	zap.L().Info("✅ 钉钉通知已发送", zap.Int("stocks", len(alerts)))
	return nil
}

// generateSignature 生成钉钉加签：HMAC-SHA256(timestamp + "\n" + secret)
func (dtn *DingTalkNotifier) generateSignature(timestamp int64) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dtn.secret)
	h := hmac.New(sha256.New, []byte(dtn.secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// buildSignedURL 构建带签名的URL
func (dtn *DingTalkNotifier) buildSignedURL() string {
	if dtn.secret == "" {
		return dtn.webhookURL
	}

	timestamp := dtn.now().UnixNano() / 1e6 // 毫秒时间戳
	separator := "&"
	if !strings.Contains(dtn.webhookURL, "?") {
		separator = "?"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s",
		dtn.webhookURL, separator, timestamp, url.QueryEscape(dtn.generateSignature(timestamp)))
}

// buildMarkdownContent 构建信号汇总的Markdown内容
func (dtn *DingTalkNotifier) buildMarkdownContent(alerts []types.SignalAlert) string {
	bullish, bearish := splitByBias(alerts)

	var b strings.Builder
	fmt.Fprintf(&b, "## 🚨 A股技术信号提醒\n\n")
	fmt.Fprintf(&b, "📈 偏多: <font color=\"red\">%d只</font>  \n", len(bullish))
	fmt.Fprintf(&b, "📉 偏空: <font color=\"green\">%d只</font>  \n", len(bearish))
	fmt.Fprintf(&b, "🕐 交易日: %s  \n\n", alerts[0].Date.Format("2006-01-02"))

	// A股习惯红涨绿跌
	writeGroup := func(title, color string, group []types.SignalAlert) {
		if len(group) == 0 {
			return
		}
		fmt.Fprintf(&b, "**%s**:\n", title)
		for i, a := range group {
			if i == maxShow {
				fmt.Fprintf(&b, "- ... 还有%d只\n", len(group)-maxShow)
				break
			}
			fmt.Fprintf(&b, "- **[%s](%s)** 收盘 %.2f：<font color=\"%s\">%s</font>\n",
				displayName(a), buildQuoteURL(a.Symbol), a.Close, color, signalDescs(a))
		}
		b.WriteString("\n")
	}
	writeGroup("📈 偏多", "red", bullish)
	writeGroup("📉 偏空", "green", bearish)

	b.WriteString("> ⚠️ 技术信号仅供参考，不构成投资建议")
	return b.String()
}

// sendDingTalkMessage 发送钉钉消息
func (dtn *DingTalkNotifier) sendDingTalkMessage(ctx context.Context, title, content string) error {
	message := &DingTalkMessage{
		MsgType: "markdown",
		Markdown: &DingTalkMarkdown{
			Title: title,
			Text:  content,
		},
		At: &DingTalkAt{AtAll: false},
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dtn.buildSignedURL(), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dtn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	var dingResp DingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&dingResp); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if dingResp.ErrCode != 0 {
		return fmt.Errorf("钉钉API错误 [%d]: %s", dingResp.ErrCode, dingResp.ErrMsg)
	}
	return nil
}
