// Package config loads and validates pulsewatch configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WatchConfig is the root configuration for a pulsewatch instance.
type WatchConfig struct {
	Stream   StreamConfig   `yaml:"stream"`
	Fallback FallbackConfig `yaml:"fallback"`
}

// StreamConfig holds the live connection settings.
type StreamConfig struct {
	Endpoint             string          `yaml:"endpoint"`
	AuthToken            string          `yaml:"auth_token"`
	QueueWhileConnecting bool            `yaml:"queue_while_connecting"`
	Reconnect            ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes automatic reconnection.
type ReconnectConfig struct {
	Disabled     bool          `yaml:"disabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 = unbounded
}

// FallbackConfig tunes the degraded REST-polling mode.
type FallbackConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	PollURL       string        `yaml:"poll_url"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	Concurrency   int           `yaml:"concurrency"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*WatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg WatchConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*WatchConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*WatchConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
