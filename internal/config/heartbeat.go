// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	minCheckInterval       = 10 * time.Second
	defaultFreshnessWindow = 10 * time.Minute
)

// HeartbeatConfig holds the provider health monitoring configuration.
type HeartbeatConfig struct {
	// Enabled toggles the background probing loops.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Interval is the default time between probes of one provider.
	// Default: "5m". Minimum: "10s". Maximum: the freshness window.
	Interval string `yaml:"interval" json:"interval"`

	// Timeout is the maximum time to wait for a single probe.
	// Default: "5s". Minimum: "1s".
	Timeout string `yaml:"timeout" json:"timeout"`

	// SlowThreshold marks a successful probe as degraded when exceeded.
	// Default: "2s".
	SlowThreshold string `yaml:"slow-threshold" json:"slow-threshold"`

	// FreshnessWindow is the age after which a status is treated as unknown.
	// Default: "10m".
	FreshnessWindow string `yaml:"freshness-window" json:"freshness-window"`

	// RetryAttempts is the number of retries for probes that fail with a transient error.
	// Default: 1. Minimum: 0. Maximum: 5.
	RetryAttempts int `yaml:"retry-attempts" json:"retry-attempts"`

	// RetryDelay is the delay between retry attempts.
	// Default: "1s". Minimum: "100ms".
	RetryDelay string `yaml:"retry-delay" json:"retry-delay"`

	// MaxConcurrentChecks limits simultaneous probes during CheckAll.
	// Default: 10. Minimum: 1. Maximum: 50.
	MaxConcurrentChecks int `yaml:"max-concurrent-checks" json:"max-concurrent-checks"`
}

// SanitizeHeartbeat validates and normalizes heartbeat configuration.
func (cfg *Config) SanitizeHeartbeat() {
	if cfg == nil {
		return
	}

	hb := &cfg.Heartbeat

	if fresh, err := time.ParseDuration(hb.FreshnessWindow); err != nil || fresh <= 0 {
		hb.FreshnessWindow = "10m"
	}
	if interval, err := time.ParseDuration(hb.Interval); err != nil || interval < minCheckInterval {
		hb.Interval = "5m"
	}
	hb.Interval = hb.ClampCheckInterval(hb.Interval)
	if timeout, err := time.ParseDuration(hb.Timeout); err != nil || timeout < time.Second {
		hb.Timeout = "5s"
	}
	if slow, err := time.ParseDuration(hb.SlowThreshold); err != nil || slow <= 0 {
		hb.SlowThreshold = "2s"
	}

	if hb.MaxConcurrentChecks < 1 {
		hb.MaxConcurrentChecks = 10
	} else if hb.MaxConcurrentChecks > 50 {
		hb.MaxConcurrentChecks = 50
	}

	if hb.RetryAttempts < 0 {
		hb.RetryAttempts = 0
	} else if hb.RetryAttempts > 5 {
		hb.RetryAttempts = 5
	}

	if delay, err := time.ParseDuration(hb.RetryDelay); err != nil || delay < 100*time.Millisecond {
		hb.RetryDelay = "1s"
	}
}

// ClampCheckInterval bounds a probe interval to [10s, freshness window]. A
// longer interval would let statuses go stale between probes. Invalid or too
// short values return "" so the default interval applies.
func (hb HeartbeatConfig) ClampCheckInterval(value string) string {
	if value == "" {
		return ""
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < minCheckInterval {
		return ""
	}
	fresh := ParseDurationOr(hb.FreshnessWindow, defaultFreshnessWindow)
	if d > fresh {
		log.Warnf("config: check interval %s exceeds freshness window %s, clamping", d, fresh)
		return fresh.String()
	}
	return value
}
