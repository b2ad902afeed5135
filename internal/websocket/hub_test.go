package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ashare-kline-board/pkg/types"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(origins, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub, server := startHub(t, []string{"*"})
	conn := dial(t, server, nil)

	if err := conn.WriteJSON(Subscription{Op: "subscribe", Symbols: []string{"600519"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readMessage(t, conn)
	if ack.Type != MessageSubscribed || len(ack.Symbols) != 1 || ack.Symbols[0] != "600519" {
		t.Fatalf("ack = %+v", ack)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", hub.ClientCount())
	}

	// 未订阅的股票不推送
	hub.Publish(&types.AnalysisResult{Symbol: "000001"})
	hub.Publish(&types.AnalysisResult{Symbol: "600519", Latest: map[string]float64{"MA5": 10}})

	msg := readMessage(t, conn)
	if msg.Type != MessageAnalysis || msg.Data == nil || msg.Data.Symbol != "600519" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Data.Latest["MA5"] != 10 {
		t.Errorf("MA5 = %v", msg.Data.Latest["MA5"])
	}
}

func TestHub_UnknownOp(t *testing.T) {
	_, server := startHub(t, []string{"*"})
	conn := dial(t, server, nil)

	if err := conn.WriteJSON(Subscription{Op: "noop"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageError {
		t.Errorf("msg = %+v, want error", msg)
	}
}

func TestHub_RejectsOrigin(t *testing.T) {
	_, server := startHub(t, []string{"http://localhost:8501"})
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("dial with foreign origin should fail")
	}

	header = http.Header{"Origin": []string{"http://localhost:8501"}}
	conn := dial(t, server, header)
	_ = conn
}

func TestHub_PublishNil(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Publish(nil)
	if len(hub.broadcast) != 0 {
		t.Error("nil result should not be queued")
	}
}
