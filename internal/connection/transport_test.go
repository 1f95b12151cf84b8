package connection

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// eventRecorder collects transport events for assertions.
type eventRecorder struct {
	mu       sync.Mutex
	messages [][]byte
	errors   []error
	closes   []CloseReason
}

func (r *eventRecorder) HandleMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, append([]byte(nil), data...))
}

func (r *eventRecorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *eventRecorder) HandleClose(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, CloseReason{Code: code, Reason: reason})
}

func (r *eventRecorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *eventRecorder) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

func testDialer() *wsDialer {
	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PingTimeout = time.Second
	return &wsDialer{cfg: cfg, logger: slog.Default()}
}

func TestWSTransport_SendAndReceive(t *testing.T) {
	inbound := []string{
		`{"type":"progress","payload":{"percent":10}}`,
		`{"type":"progress","payload":{"percent":20}}`,
	}

	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range inbound {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	rec := &eventRecorder{}
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	waitFor(t, "inbound messages", func() bool { return rec.messageCount() == len(inbound) })

	rec.mu.Lock()
	for i, want := range inbound {
		if string(rec.messages[i]) != want {
			t.Errorf("message %d = %q, want %q", i, rec.messages[i], want)
		}
	}
	rec.mu.Unlock()

	if err := tr.Send([]byte(`{"type":"subscribe"}`)); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	waitFor(t, "server received", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(received) == `{"type":"subscribe"}`
	})
}

func TestWSTransport_ServerCloseSurfacesEvent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
			time.Now().Add(time.Second),
		)
	})
	defer server.Close()

	rec := &eventRecorder{}
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	waitFor(t, "close event", func() bool { return rec.closeCount() == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closes[0].Code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", rec.closes[0].Code, websocket.CloseGoingAway)
	}
	if rec.closes[0].Reason != "maintenance" {
		t.Errorf("close reason = %q, want %q", rec.closes[0].Reason, "maintenance")
	}
}

func TestWSTransport_CloseIsIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	rec := &eventRecorder{}
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// No close event for an intentional close.
	time.Sleep(50 * time.Millisecond)
	if rec.closeCount() != 0 {
		t.Errorf("close events after Close = %d, want 0", rec.closeCount())
	}

	if err := tr.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}
}

func TestWSTransport_DialFailure(t *testing.T) {
	_, err := testDialer().Dial(context.Background(), "ws://127.0.0.1:1/stream", &eventRecorder{})
	if err == nil {
		t.Fatal("expected dial error for unreachable endpoint")
	}
}

func TestWSTransport_PingKeepsConnectionAlive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	rec := &eventRecorder{}
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	time.Sleep(150 * time.Millisecond)
	if rec.closeCount() != 0 {
		t.Errorf("connection closed unexpectedly: %v", rec.closes)
	}
}
