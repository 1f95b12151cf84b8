package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInitialDelay    = 1 * time.Second
	DefaultMaxDelay        = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultFallbackRetry   = 30 * time.Second
	DefaultPollInterval    = 10 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultPollConcurrency = 4
)

func (c *WatchConfig) applyDefaults() {
	if c.Stream.Reconnect.InitialDelay == 0 {
		c.Stream.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Stream.Reconnect.MaxDelay == 0 {
		c.Stream.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Stream.Reconnect.Multiplier == 0 {
		c.Stream.Reconnect.Multiplier = DefaultMultiplier
	}

	if c.Fallback.RetryInterval == 0 {
		c.Fallback.RetryInterval = DefaultFallbackRetry
	}
	if c.Fallback.PollInterval == 0 {
		c.Fallback.PollInterval = DefaultPollInterval
	}
	if c.Fallback.PollTimeout == 0 {
		c.Fallback.PollTimeout = DefaultPollTimeout
	}
	if c.Fallback.Concurrency == 0 {
		c.Fallback.Concurrency = DefaultPollConcurrency
	}
}
