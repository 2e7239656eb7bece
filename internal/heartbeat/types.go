// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heartbeat provides background monitoring of provider health.
// Each provider is probed on its own timer; results are written to a
// StatusStore that the router reads without waiting on in-flight probes.
package heartbeat

import (
	"time"

	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
)

// ProviderStatus represents the health status of a provider.
type ProviderStatus string

const (
	// StatusUnknown means the provider has not been probed or its status is stale
	StatusUnknown ProviderStatus = "unknown"

	// StatusHealthy indicates the provider is fully operational
	StatusHealthy ProviderStatus = "healthy"

	// StatusDegraded indicates the provider answered slowly or only partially
	StatusDegraded ProviderStatus = "degraded"

	// StatusUnhealthy indicates the probe failed
	StatusUnhealthy ProviderStatus = "unhealthy"
)

// HealthStatus is the last recorded probe outcome for a provider.
type HealthStatus struct {
	// Provider is the id of the provider being monitored
	Provider string `json:"provider"`

	// Status is the current health status
	Status ProviderStatus `json:"status"`

	// LastChecked is when this status was recorded
	LastChecked time.Time `json:"last_checked"`

	// ResponseTime is the duration of the probe
	ResponseTime time.Duration `json:"response_time"`

	// ErrorKind classifies the failure when the status is not healthy
	ErrorKind provider.Kind `json:"error_kind,omitempty"`

	// ErrorMessage is an operator-facing diagnostic
	ErrorMessage string `json:"error_message,omitempty"`

	// Models lists the models observed during the probe
	Models []string `json:"models,omitempty"`
}

func (s *HealthStatus) clone() *HealthStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.Models = append([]string(nil), s.Models...)
	return &out
}

// Options configures the monitor.
type Options struct {
	// Enabled controls whether background loops run
	Enabled bool

	// Interval is the default time between probes of one provider
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// SlowThreshold marks successful probes slower than this as degraded
	SlowThreshold time.Duration

	// FreshnessWindow is the age after which a status is reported as unknown
	FreshnessWindow time.Duration

	// RetryAttempts is the number of retries for transient probe failures
	RetryAttempts int

	// RetryDelay is the delay between retry attempts
	RetryDelay time.Duration

	// MaxConcurrentChecks limits simultaneous probes in CheckAll
	MaxConcurrentChecks int
}

// DefaultOptions returns the default monitor options.
func DefaultOptions() Options {
	return Options{
		Enabled:             true,
		Interval:            5 * time.Minute,
		Timeout:             5 * time.Second,
		SlowThreshold:       2 * time.Second,
		FreshnessWindow:     10 * time.Minute,
		RetryAttempts:       1,
		RetryDelay:          time.Second,
		MaxConcurrentChecks: 10,
	}
}

// OptionsFromConfig converts the heartbeat section of the configuration.
func OptionsFromConfig(cfg config.HeartbeatConfig) Options {
	def := DefaultOptions()
	return Options{
		Enabled:             cfg.Enabled,
		Interval:            config.ParseDurationOr(cfg.Interval, def.Interval),
		Timeout:             config.ParseDurationOr(cfg.Timeout, def.Timeout),
		SlowThreshold:       config.ParseDurationOr(cfg.SlowThreshold, def.SlowThreshold),
		FreshnessWindow:     config.ParseDurationOr(cfg.FreshnessWindow, def.FreshnessWindow),
		RetryAttempts:       cfg.RetryAttempts,
		RetryDelay:          config.ParseDurationOr(cfg.RetryDelay, def.RetryDelay),
		MaxConcurrentChecks: cfg.MaxConcurrentChecks,
	}
}

// HeartbeatEvent represents events emitted by the monitor.
type HeartbeatEvent struct {
	// Type is the event type
	Type HeartbeatEventType `json:"type"`

	// Provider is the provider that triggered the event
	Provider string `json:"provider"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Status is the current health status
	Status *HealthStatus `json:"status,omitempty"`

	// PreviousStatus is the previous health status (for status change events)
	PreviousStatus *HealthStatus `json:"previous_status,omitempty"`

	// Data contains event-specific data
	Data map[string]interface{} `json:"data,omitempty"`
}

// HeartbeatEventType represents the type of heartbeat event.
type HeartbeatEventType string

const (
	// EventProviderHealthy indicates a provider became healthy
	EventProviderHealthy HeartbeatEventType = "provider_healthy"

	// EventProviderDegraded indicates a provider became degraded
	EventProviderDegraded HeartbeatEventType = "provider_degraded"

	// EventProviderUnhealthy indicates a provider became unhealthy
	EventProviderUnhealthy HeartbeatEventType = "provider_unhealthy"

	// EventHealthCheckFailed indicates a single probe attempt failed
	EventHealthCheckFailed HeartbeatEventType = "health_check_failed"

	// EventHeartbeatStarted indicates the heartbeat monitor started
	EventHeartbeatStarted HeartbeatEventType = "heartbeat_started"

	// EventHeartbeatStopped indicates the heartbeat monitor stopped
	EventHeartbeatStopped HeartbeatEventType = "heartbeat_stopped"
)

// HeartbeatEventHandler defines the interface for handling heartbeat events.
type HeartbeatEventHandler interface {
	// HandleEvent processes a heartbeat event
	HandleEvent(event *HeartbeatEvent) error
}

// EventHandlerFunc adapts a function to HeartbeatEventHandler.
type EventHandlerFunc func(event *HeartbeatEvent) error

// HandleEvent implements HeartbeatEventHandler.
func (f EventHandlerFunc) HandleEvent(event *HeartbeatEvent) error { return f(event) }

// HeartbeatStats contains statistics about the heartbeat monitor.
type HeartbeatStats struct {
	// StartTime is when the monitor was started
	StartTime time.Time `json:"start_time"`

	// TotalChecks is the total number of probe attempts performed
	TotalChecks int64 `json:"total_checks"`

	// SuccessfulChecks is the number of successful probes
	SuccessfulChecks int64 `json:"successful_checks"`

	// FailedChecks is the number of failed probes
	FailedChecks int64 `json:"failed_checks"`

	// ProvidersMonitored is the number of providers with an active probe loop
	ProvidersMonitored int `json:"providers_monitored"`
}
