package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Manager owns one logical connection: it dials, recovers from failures
// with capped exponential backoff, and optionally degrades to fallback
// polling once reconnection is exhausted.
//
// All transitions run under a single mutex, so transport events, timer
// fires, and caller operations never interleave. Callbacks fire after
// the transition completes and outside the lock.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	dialer   Dialer
	handlers Handlers

	mu        sync.Mutex
	state     State
	transport Transport
	backoff   *Backoff

	// epoch identifies the current connection attempt. Events and timer
	// fires carrying a stale epoch are dropped, so nothing left over
	// from a previous transport can drive a transition.
	epoch uint64

	attempts    int // reconnect attempts in the current episode
	intentional bool
	queue       [][]byte

	reconnectTimer *time.Timer
	fallbackTimer  *time.Timer

	stats Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHandlers sets the callback set.
func WithHandlers(h Handlers) Option {
	return func(m *Manager) {
		m.handlers = h
	}
}

// WithDialer substitutes the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// New creates a Manager. The connection is not opened until Connect.
func New(cfg Config, opts ...Option) *Manager {
	cfg.withDefaults()

	m := &Manager{
		cfg:     cfg,
		logger:  slog.Default(),
		state:   StateDisconnected,
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffMultiplier),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dialer == nil {
		m.dialer = &wsDialer{cfg: cfg, logger: m.logger}
	}

	return m
}

// Connect opens the connection. No-op while Connecting or Connected.
// A pending reconnect or fallback timer is cancelled and the dial
// happens immediately: a manual retry is not made to wait out the
// scheduled backoff.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected || m.state == StateConnecting {
		return
	}

	m.cancelTimersLocked()
	m.intentional = false
	m.dialLocked()
}

// Disconnect tears the connection down and cancels all pending timers.
// Idempotent and safe from any state; nothing reconnects afterwards
// until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intentional = true
	m.epoch++
	m.cancelTimersLocked()

	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}

	m.queue = nil
	m.state = StateDisconnected
}

// Send transmits payload when Connected. While Connecting with
// QueueWhileConnecting enabled the payload is queued and flushed in
// order on connect. Returns false when the message can be neither
// delivered nor queued.
func (m *Manager) Send(payload []byte) bool {
	m.mu.Lock()

	switch {
	case m.state == StateConnected && m.transport != nil:
		t := m.transport
		onError := m.handlers.OnError
		m.mu.Unlock()

		if err := t.Send(payload); err != nil {
			if onError != nil {
				onError(err)
			}
			return false
		}
		return true

	case m.state == StateConnecting && m.cfg.QueueWhileConnecting:
		m.queue = append(m.queue, payload)
		m.mu.Unlock()
		return true

	default:
		m.mu.Unlock()
		return false
	}
}

// SendJSON marshals v and sends it via Send.
func (m *Manager) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		if fn := m.handlers.OnError; fn != nil {
			fn(fmt.Errorf("encode message: %w", err))
		}
		return false
	}
	return m.Send(data)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsFallbackActive reports whether the manager is in fallback polling.
func (m *Manager) IsFallbackActive() bool {
	return m.State() == StateFallbackPolling
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// dialLocked starts a connection attempt. Caller holds mu.
func (m *Manager) dialLocked() {
	m.state = StateConnecting
	m.stats.ConnectionAttempts++
	m.epoch++
	epoch := m.epoch

	target := buildTarget(m.cfg.Endpoint, m.cfg.AuthToken)

	go func() {
		t, err := m.dialer.Dial(context.Background(), target, &epochEvents{m: m, epoch: epoch})
		if err != nil {
			m.dialFailed(epoch, err)
			return
		}
		m.dialSucceeded(epoch, t)
	}()
}

// dialSucceeded completes the transition to Connected and flushes the
// queue before any later Send can run. The transport may emit a close
// event before Dial returns; that close bumps the epoch, so a stale
// completion is discarded here instead of overriding the recovery
// already in flight.
func (m *Manager) dialSucceeded(epoch uint64, t Transport) {
	m.mu.Lock()
	if epoch != m.epoch || m.intentional || m.state != StateConnecting {
		m.mu.Unlock()
		t.Close()
		return
	}

	m.transport = t
	m.state = StateConnected
	m.attempts = 0
	m.backoff.Reset()
	m.stats.SuccessfulConnections++
	m.stats.LastConnectedAt = time.Now()

	pending := m.queue
	m.queue = nil

	var sendErrs []error
	for _, data := range pending {
		if err := t.Send(data); err != nil {
			sendErrs = append(sendErrs, fmt.Errorf("flush queued message: %w", err))
		}
	}

	onConnect := m.handlers.OnConnect
	onError := m.handlers.OnError
	m.mu.Unlock()

	m.logger.Info("connected", "endpoint", m.cfg.Endpoint, "flushed", len(pending))

	if onError != nil {
		for _, err := range sendErrs {
			onError(err)
		}
	}
	if onConnect != nil {
		onConnect()
	}
}

// dialFailed reports the error and feeds the failure into the same
// recovery decision an unexpected close takes.
func (m *Manager) dialFailed(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || m.intentional {
		m.mu.Unlock()
		return
	}
	m.epoch++

	calls := m.scheduleRecoveryLocked()
	onError := m.handlers.OnError
	m.mu.Unlock()

	m.logger.Warn("connection failed", "endpoint", m.cfg.Endpoint, "error", err)

	if onError != nil {
		onError(err)
	}
	for _, fn := range calls {
		fn()
	}
}

// handleClose reacts to an unintentional transport close. The close is
// terminal for its epoch: bumping the epoch discards everything else
// the dead transport might still emit, including a dial completion
// racing in behind an immediate close and any duplicate close event.
func (m *Manager) handleClose(epoch uint64, code int, reason string) {
	m.mu.Lock()
	if epoch != m.epoch || m.intentional {
		m.mu.Unlock()
		return
	}
	m.epoch++

	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.stats.LastDisconnectedAt = time.Now()

	calls := m.scheduleRecoveryLocked()
	onDisconnect := m.handlers.OnDisconnect
	m.mu.Unlock()

	m.logger.Warn("connection closed", "code", code, "reason", reason)

	if onDisconnect != nil {
		onDisconnect(CloseReason{Code: code, Reason: reason})
	}
	for _, fn := range calls {
		fn()
	}
}

// scheduleRecoveryLocked decides between reconnecting, fallback, and
// giving up. Caller holds mu; returned callbacks fire after unlock.
func (m *Manager) scheduleRecoveryLocked() []func() {
	var calls []func()

	limited := m.cfg.MaxReconnectAttempts > 0

	switch {
	case m.cfg.FallbackEnabled && limited && m.attempts >= m.cfg.MaxReconnectAttempts:
		m.state = StateFallbackPolling
		m.attempts = 0
		m.backoff.Reset()

		epoch := m.epoch
		m.fallbackTimer = time.AfterFunc(m.cfg.FallbackRetryInterval, func() {
			m.fallbackProbe(epoch)
		})

		m.logger.Warn("reconnection exhausted, entering fallback",
			"retry_interval", m.cfg.FallbackRetryInterval,
		)

		if fn := m.handlers.OnFallbackActivated; fn != nil {
			calls = append(calls, fn)
		}
		if fn := m.handlers.OnMaxReconnectAttempts; fn != nil {
			calls = append(calls, fn)
		}

	case m.cfg.ReconnectEnabled && (!limited || m.attempts < m.cfg.MaxReconnectAttempts):
		m.state = StateReconnecting
		m.attempts++
		m.stats.TotalReconnectAttempts++

		delay := m.backoff.Next()
		epoch := m.epoch
		m.reconnectTimer = time.AfterFunc(delay, func() {
			m.reconnectNow(epoch)
		})

		m.logger.Info("scheduling reconnect", "attempt", m.attempts, "delay", delay)

	default:
		m.state = StateDisconnected
		m.logger.Warn("reconnection abandoned", "attempts", m.attempts)

		if fn := m.handlers.OnMaxReconnectAttempts; fn != nil {
			calls = append(calls, fn)
		}
	}

	return calls
}

// reconnectNow fires when the reconnect timer elapses.
func (m *Manager) reconnectNow(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.intentional || m.state != StateReconnecting {
		return
	}

	m.reconnectTimer = nil
	m.dialLocked()
}

// fallbackProbe fires when the fallback retry timer elapses. The probe
// starts a fresh episode, so a successful reconnection is not penalized
// by prior failure history.
func (m *Manager) fallbackProbe(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.intentional || m.state != StateFallbackPolling {
		return
	}

	m.fallbackTimer = nil
	m.attempts = 0
	m.backoff.Reset()
	m.dialLocked()
}

func (m *Manager) cancelTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.fallbackTimer != nil {
		m.fallbackTimer.Stop()
		m.fallbackTimer = nil
	}
}

// handleMessage decodes an inbound frame. Decode failures surface via
// OnError and leave the connection state alone.
func (m *Manager) handleMessage(epoch uint64, data []byte) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	onMessage := m.handlers.OnMessage
	onError := m.handlers.OnError
	m.mu.Unlock()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if onError != nil {
			onError(fmt.Errorf("decode message: %w", err))
		}
		return
	}

	if onMessage != nil {
		onMessage(env)
	}
}

// handleError surfaces a transport error. The error itself never forces
// a transition; the close event, if any, does.
func (m *Manager) handleError(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	onError := m.handlers.OnError
	m.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// epochEvents routes transport events into the Manager, tagged with the
// epoch of the dial that created the transport.
type epochEvents struct {
	m     *Manager
	epoch uint64
}

func (e *epochEvents) HandleMessage(data []byte) {
	e.m.handleMessage(e.epoch, data)
}

func (e *epochEvents) HandleError(err error) {
	e.m.handleError(e.epoch, err)
}

func (e *epochEvents) HandleClose(code int, reason string) {
	e.m.handleClose(e.epoch, code, reason)
}

// buildTarget appends the auth token as a query parameter. The
// delimiter depends on whether the endpoint already carries a query
// string.
func buildTarget(endpoint, token string) string {
	if token == "" {
		return endpoint
	}

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "token=" + url.QueryEscape(token)
}
