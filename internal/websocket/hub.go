package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// 消息类型
const (
	MessageAnalysis   = "analysis"
	MessageSubscribed = "subscribed"
	MessageError      = "error"
)

// Subscription 客户端订阅消息，symbols 为空表示接收全部
type Subscription struct {
	Op      string   `json:"op"` // subscribe / unsubscribe
	Symbols []string `json:"symbols"`
}

// Message 服务端推送消息
type Message struct {
	Type    string                `json:"type"`
	Symbols []string              `json:"symbols,omitempty"`
	Data    *types.AnalysisResult `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Client 单个浏览器连接
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]bool
	mu      sync.RWMutex
}

// Hub 管理所有连接并广播分析结果
type Hub struct {
	clients   map[*Client]bool
	broadcast chan *types.AnalysisResult
	closed    bool
	mu        sync.RWMutex
	upgrader  websocket.Upgrader
	metrics   *metrics.Metrics
}

// NewHub 创建广播中心，allowOrigins 含 "*" 时不校验来源
func NewHub(allowOrigins []string, m *metrics.Metrics) *Hub {
	origins := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan *types.AnalysisResult, 256),
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// Run 事件循环，ctx 结束时断开所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.metrics.SetWSClients(0)
			zap.L().Info("📴 WebSocket广播已停止")
			return

		case result := <-h.broadcast:
			data, err := json.Marshal(Message{Type: MessageAnalysis, Data: result})
			if err != nil {
				zap.L().Warn("序列化分析结果失败", zap.String("symbol", result.Symbol), zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(result.Symbol) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// 客户端消费过慢，直接断开
					delete(h.clients, client)
					close(client.send)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(count)
		}
	}
}

// Publish 投递分析结果，缓冲区满时丢弃
func (h *Hub) Publish(result *types.AnalysisResult) {
	if result == nil {
		return
	}
	select {
	case h.broadcast <- result:
	default:
		zap.L().Warn("广播通道满，丢弃分析结果", zap.String("symbol", result.Symbol))
	}
}

// add 注册连接，Hub 已停止时返回 false
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetWSClients(count)
	zap.L().Debug("WebSocket客户端连接", zap.Int("clients", count))
	return true
}

// remove 注销连接
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetWSClients(count)
	zap.L().Debug("WebSocket客户端断开", zap.Int("clients", count))
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP 升级为 WebSocket 连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		symbols: make(map[string]bool),
	}
	if !h.add(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writeLoop()
	go client.readLoop()
}

// wants 是否订阅了该股票
func (c *Client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// readLoop 读取订阅消息
func (c *Client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.L().Warn("WebSocket读取消息失败", zap.Error(err))
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.reply(Message{Type: MessageError, Error: "invalid message"})
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription 更新订阅并回执当前订阅列表
func (c *Client) handleSubscription(sub Subscription) {
	c.mu.Lock()
	switch sub.Op {
	case "subscribe":
		for _, s := range sub.Symbols {
			c.symbols[s] = true
		}
	case "unsubscribe":
		for _, s := range sub.Symbols {
			delete(c.symbols, s)
		}
	default:
		c.mu.Unlock()
		c.reply(Message{Type: MessageError, Error: "unknown op " + sub.Op})
		return
	}
	current := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		current = append(current, s)
	}
	c.mu.Unlock()

	c.reply(Message{Type: MessageSubscribed, Symbols: current})
}

// reply 直接回复当前客户端，写缓冲满时丢弃
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writeLoop 写消息与心跳
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zap.L().Debug("发送心跳失败", zap.Error(err))
				return
			}
		}
	}
}
