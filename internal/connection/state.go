package connection

// State is the current phase of the connection lifecycle.
type State int32

const (
	// StateDisconnected means no transport exists and nothing is scheduled.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the transport is open and messages flow.
	StateConnected
	// StateReconnecting means a reconnect attempt is scheduled.
	StateReconnecting
	// StateFallbackPolling means reconnection was exhausted and the
	// manager probes for a live connection at a fixed interval.
	StateFallbackPolling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFallbackPolling:
		return "fallback_polling"
	default:
		return "unknown"
	}
}
