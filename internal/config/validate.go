package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *WatchConfig) Validate() error {
	if c.Stream.Endpoint == "" {
		return errors.New("stream.endpoint is required")
	}

	if c.Stream.Reconnect.MaxAttempts < 0 {
		return errors.New("stream.reconnect.max_attempts must be >= 0")
	}
	if c.Stream.Reconnect.Multiplier < 1 {
		return fmt.Errorf("stream.reconnect.multiplier must be >= 1, got %g", c.Stream.Reconnect.Multiplier)
	}
	if c.Stream.Reconnect.MaxDelay < c.Stream.Reconnect.InitialDelay {
		return fmt.Errorf("stream.reconnect.max_delay (%v) cannot be less than initial_delay (%v)",
			c.Stream.Reconnect.MaxDelay, c.Stream.Reconnect.InitialDelay)
	}

	if c.Fallback.Enabled {
		if c.Fallback.PollURL == "" {
			return errors.New("fallback.poll_url is required when fallback is enabled")
		}
		if c.Stream.Reconnect.MaxAttempts == 0 {
			return errors.New("fallback.enabled requires stream.reconnect.max_attempts > 0")
		}
		if c.Fallback.Concurrency < 1 {
			return errors.New("fallback.concurrency must be >= 1")
		}
	}

	return nil
}
