package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
)

// Config configures a Manager. Endpoint is required; everything else has
// a default. Build from DefaultConfig and override as needed.
type Config struct {
	Endpoint  string // WebSocket URL (e.g., wss://host/stream)
	AuthToken string // Appended as a token query parameter when set

	ReconnectEnabled     bool          // Reconnect after unintentional closes
	InitialBackoff       time.Duration // First reconnect delay
	MaxBackoff           time.Duration // Cap on the reconnect delay
	BackoffMultiplier    float64       // Growth factor per failed attempt
	MaxReconnectAttempts int           // 0 = unbounded

	FallbackEnabled       bool          // Enter fallback once attempts are exhausted
	FallbackRetryInterval time.Duration // Delay between fallback probes

	QueueWhileConnecting bool // Buffer sends while a dial is in flight

	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max silence before the transport is stale
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectEnabled:      true,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		FallbackRetryInterval: 30 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          5 * time.Second,
		PingInterval:          30 * time.Second,
		PingTimeout:           60 * time.Second,
	}
}

// withDefaults fills zero-valued tuning fields. ReconnectEnabled is left
// alone: a hand-built Config with the zero value keeps reconnection off.
func (c *Config) withDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 1 * time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.FallbackRetryInterval == 0 {
		c.FallbackRetryInterval = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 60 * time.Second
	}
}

// Stats are cumulative counters for one Manager instance. Counters never
// decrease; timestamps are zero until the corresponding event occurs.
// LastDisconnectedAt tracks the loss of established connections only;
// a dial that never opens does not update it.
type Stats struct {
	ConnectionAttempts     int64
	SuccessfulConnections  int64
	TotalReconnectAttempts int64
	LastConnectedAt        time.Time
	LastDisconnectedAt     time.Time
}

// Envelope is a decoded inbound message. Payload interpretation belongs
// to the consumer.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CloseReason describes why the transport closed.
type CloseReason struct {
	Code   int
	Reason string
}

// Handlers holds optional callbacks. Nil slots are skipped. Callbacks
// fire after the corresponding state change and outside the manager's
// lock, so they may call back into the Manager.
type Handlers struct {
	// OnConnect fires on entering StateConnected.
	OnConnect func()
	// OnDisconnect fires when the transport closes unintentionally.
	OnDisconnect func(reason CloseReason)
	// OnMessage fires per decoded inbound message.
	OnMessage func(env Envelope)
	// OnError fires on transport errors and decode failures.
	OnError func(err error)
	// OnMaxReconnectAttempts fires when reconnection is abandoned,
	// with or without fallback.
	OnMaxReconnectAttempts func()
	// OnFallbackActivated fires on entering StateFallbackPolling.
	OnFallbackActivated func()
}
