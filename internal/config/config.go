// Package config defines the factory configuration for Midnight.
//
// The configuration is constructed once at process start and passed by
// pointer into every component that needs it. No component mutates it at
// runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide factory configuration.
type Config struct {
	// SnapshotIntervalMs is how often the state store captures queue and
	// in-flight task state for crash recovery.
	SnapshotIntervalMs int `yaml:"snapshot_interval_ms"`

	// QualityThreshold is the minimum sentinel score (inclusive) for a
	// candidate to be accepted.
	QualityThreshold int `yaml:"quality_threshold"`

	// MaxRetries bounds retries per task. The attempt that would push the
	// count past this bound escalates instead.
	MaxRetries int `yaml:"max_retries"`

	ActorModel     string `yaml:"actor_model"`
	SentinelModel  string `yaml:"sentinel_model"`
	SentinelEffort string `yaml:"sentinel_effort"`

	// ProviderURL is the model-invocation endpoint.
	ProviderURL string `yaml:"provider_url"`

	// AgentTimeoutSec bounds a single actor or sentinel call.
	AgentTimeoutSec int `yaml:"agent_timeout_sec"`

	// LeaseTTLSec must exceed the worst-case actor+sentinel round trip or
	// tasks will be contended away from legitimate workers.
	LeaseTTLSec int `yaml:"lease_ttl_sec"`

	// RetryBackoffBaseMs and RetryBackoffCapMs shape the exponential
	// backoff between a failed attempt and its retry.
	RetryBackoffBaseMs int `yaml:"retry_backoff_base_ms"`
	RetryBackoffCapMs  int `yaml:"retry_backoff_cap_ms"`
}

// Default returns the factory configuration defaults.
func Default() *Config {
	return &Config{
		SnapshotIntervalMs: 300000,
		QualityThreshold:   85,
		MaxRetries:         3,
		ActorModel:         "claude-sonnet-4",
		SentinelModel:      "claude-opus-4",
		SentinelEffort:     "max",
		ProviderURL:        "http://127.0.0.1:4000/v1/invoke",
		AgentTimeoutSec:    120,
		LeaseTTLSec:        600,
		RetryBackoffBaseMs: 2000,
		RetryBackoffCapMs:  60000,
	}
}

// Load reads the config file at path, merging file values over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.SnapshotIntervalMs <= 0 {
		return fmt.Errorf("snapshot_interval_ms must be positive, got %d", c.SnapshotIntervalMs)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return fmt.Errorf("quality_threshold must be in [0,100], got %d", c.QualityThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.ActorModel == "" || c.SentinelModel == "" {
		return fmt.Errorf("actor_model and sentinel_model are required")
	}
	if c.AgentTimeoutSec <= 0 {
		return fmt.Errorf("agent_timeout_sec must be positive, got %d", c.AgentTimeoutSec)
	}
	if c.LeaseTTLSec <= 2*c.AgentTimeoutSec {
		return fmt.Errorf("lease_ttl_sec (%d) must exceed one actor+sentinel round trip (2x agent_timeout_sec)", c.LeaseTTLSec)
	}
	return nil
}

// SnapshotInterval returns the snapshot cadence as a duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMs) * time.Millisecond
}

// AgentTimeout returns the per-call agent timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSec) * time.Second
}

// Backoff returns the delay before retrying after the given attempt number
// (1-based): exponential doubling from the base, bounded by the cap.
func (c *Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(c.RetryBackoffBaseMs) * time.Millisecond
	cap := time.Duration(c.RetryBackoffCapMs) * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
