package progress

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dhowlett/pulsewire/internal/connection"
)

// memTransport feeds frames in and records frames out.
type memTransport struct {
	ev connection.TransportEvents

	mu   sync.Mutex
	sent [][]byte
}

func (t *memTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *memTransport) Close() error { return nil }

func (t *memTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

type memDialer struct {
	mu   sync.Mutex
	last *memTransport
}

func (d *memDialer) Dial(_ context.Context, _ string, ev connection.TransportEvents) (connection.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = &memTransport{ev: ev}
	return d.last, nil
}

func (d *memDialer) transport() *memTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func waitForStream(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func streamConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.Endpoint = "ws://localhost/stream"
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	return cfg
}

func TestStream_DispatchesTypedEvents(t *testing.T) {
	dialer := &memDialer{}
	h := &recordingHandler{}

	s := NewStream(streamConfig(), h, WithDialer(dialer))
	s.Connect()
	defer s.Disconnect()

	waitForStream(t, "connected", func() bool {
		return s.Manager().State() == connection.StateConnected
	})

	id := uuid.New()
	tr := dialer.transport()
	tr.ev.HandleMessage([]byte(
		`{"type":"progress","payload":{"task_id":"` + id.String() + `","stage":"build","percent":10,"ts":1}}`))
	tr.ev.HandleMessage([]byte(
		`{"type":"tool_status","payload":{"task_id":"` + id.String() + `","tool":"compiler","state":"running","ts":2}}`))

	waitForStream(t, "events", func() bool {
		return h.updateCount() == 1 && h.toolCount() == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.updates[0].Stage != "build" {
		t.Errorf("Stage = %q, want build", h.updates[0].Stage)
	}
	if h.tools[0].Tool != "compiler" {
		t.Errorf("Tool = %q, want compiler", h.tools[0].Tool)
	}
}

func TestStream_SubscribeSendsRequest(t *testing.T) {
	dialer := &memDialer{}
	s := NewStream(streamConfig(), &recordingHandler{}, WithDialer(dialer))

	s.Connect()
	defer s.Disconnect()
	waitForStream(t, "connected", func() bool {
		return s.Manager().State() == connection.StateConnected
	})

	id := uuid.New()
	if !s.Subscribe(id) {
		t.Fatal("Subscribe should succeed while connected")
	}

	tr := dialer.transport()
	waitForStream(t, "request sent", func() bool { return len(tr.sentMessages()) == 1 })

	var req subscribeRequest
	if err := json.Unmarshal(tr.sentMessages()[0], &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Type != "subscribe" {
		t.Errorf("Type = %q, want subscribe", req.Type)
	}
	if req.TaskID != id {
		t.Errorf("TaskID = %v, want %v", req.TaskID, id)
	}
}

func TestStream_SubscribeFailsWhenDisconnected(t *testing.T) {
	s := NewStream(streamConfig(), &recordingHandler{}, WithDialer(&memDialer{}))

	if s.Subscribe(uuid.New()) {
		t.Error("Subscribe without a connection should return false")
	}
}
