package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the socket-like primitive the Manager drives. Inbound
// traffic and lifecycle changes arrive through the TransportEvents
// passed to Dial.
type Transport interface {
	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Close shuts the connection down. Safe to call more than once.
	Close() error
}

// TransportEvents receives transport lifecycle events. A close event is
// terminal for the transport that emitted it.
type TransportEvents interface {
	HandleMessage(data []byte)
	HandleError(err error)
	HandleClose(code int, reason string)
}

// Dialer establishes transports. The production implementation dials a
// WebSocket; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, target string, ev TransportEvents) (Transport, error)
}

// wsDialer dials real WebSocket connections.
type wsDialer struct {
	cfg    Config
	logger *slog.Logger
}

func (d *wsDialer) Dial(ctx context.Context, target string, ev TransportEvents) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		conn:         conn,
		ev:           ev,
		logger:       d.logger,
		writeTimeout: d.cfg.WriteTimeout,
		pingInterval: d.cfg.PingInterval,
		pingTimeout:  d.cfg.PingTimeout,
		lastPingAt:   time.Now(),
		done:         make(chan struct{}),
	}

	// Server pings and pong replies both count as liveness.
	conn.SetPingHandler(func(data string) error {
		t.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop()
	go t.keepaliveLoop()

	d.logger.Debug("websocket connected", "target", target)

	return t, nil
}

// wsTransport wraps a gorilla WebSocket connection.
type wsTransport struct {
	conn   *websocket.Conn
	ev     TransportEvents
	logger *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time
	closed     bool

	done chan struct{}
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

// readLoop reads messages until the connection dies, then reports the
// close to the event sink.
func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called.
			select {
			case <-t.done:
				return
			default:
			}

			if ce, ok := err.(*websocket.CloseError); ok {
				t.ev.HandleClose(ce.Code, ce.Text)
				return
			}
			t.ev.HandleError(err)
			t.ev.HandleClose(websocket.CloseAbnormalClosure, err.Error())
			return
		}

		t.ev.HandleMessage(data)
	}
}

// keepaliveLoop sends pings and kills the connection when the server
// goes silent past the ping timeout.
func (t *wsTransport) keepaliveLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if time.Since(lastPing) > t.pingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.pingTimeout,
				)
				t.ev.HandleError(ErrStaleConnection)
				// Killing the socket makes the read loop surface the close.
				t.conn.Close()
				return
			}
		}
	}
}
