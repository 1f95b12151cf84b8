package progress

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dhowlett/pulsewire/internal/connection"
)

// Stream binds a connection.Manager to typed event handling. The
// manager owns reconnection and fallback; the stream decodes envelopes
// and manages per-task subscriptions.
type Stream struct {
	handler EventHandler
	logger  *slog.Logger
	mgr     *connection.Manager
}

// StreamOption configures a Stream.
type StreamOption func(*Stream) []connection.Option

// WithStreamLogger sets the logger for the stream and its manager.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) []connection.Option {
		s.logger = logger
		return []connection.Option{connection.WithLogger(logger)}
	}
}

// WithDialer substitutes the manager's transport dialer.
func WithDialer(d connection.Dialer) StreamOption {
	return func(*Stream) []connection.Option {
		return []connection.Option{connection.WithDialer(d)}
	}
}

// NewStream creates a Stream over a fresh connection.Manager.
func NewStream(cfg connection.Config, handler EventHandler, opts ...StreamOption) *Stream {
	s := &Stream{
		handler: handler,
		logger:  slog.Default(),
	}

	mgrOpts := []connection.Option{}
	for _, opt := range opts {
		mgrOpts = append(mgrOpts, opt(s)...)
	}

	mgrOpts = append(mgrOpts, connection.WithHandlers(connection.Handlers{
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnMessage:    s.onMessage,
		OnError:      s.onError,
		OnFallbackActivated: func() {
			s.logger.Warn("live stream exhausted, degraded mode active")
		},
	}))

	s.mgr = connection.New(cfg, mgrOpts...)
	return s
}

// Manager exposes the underlying connection manager for state and
// stats reads.
func (s *Stream) Manager() *connection.Manager {
	return s.mgr
}

// Connect opens the live stream.
func (s *Stream) Connect() {
	s.mgr.Connect()
}

// Disconnect tears the live stream down.
func (s *Stream) Disconnect() {
	s.mgr.Disconnect()
}

// Subscribe asks the server to stream events for a task. Returns false
// when the request could not be delivered or queued.
func (s *Stream) Subscribe(taskID uuid.UUID) bool {
	return s.mgr.SendJSON(subscribeRequest{Type: "subscribe", TaskID: taskID})
}

// Unsubscribe stops the server streaming events for a task.
func (s *Stream) Unsubscribe(taskID uuid.UUID) bool {
	return s.mgr.SendJSON(subscribeRequest{Type: "unsubscribe", TaskID: taskID})
}

func (s *Stream) onConnect() {
	s.logger.Info("live stream connected")
}

func (s *Stream) onDisconnect(reason connection.CloseReason) {
	s.logger.Warn("live stream closed", "code", reason.Code, "reason", reason.Reason)
}

func (s *Stream) onError(err error) {
	s.logger.Warn("stream error", "error", err)
}

func (s *Stream) onMessage(env connection.Envelope) {
	if err := dispatch(env, s.handler); err != nil {
		s.logger.Warn("failed to decode event", "type", env.Type, "error", err)
	}
}
