// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes routing, ledger and health counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
)

const namespace = "orchestrator"

// Outcome label values.
const (
	OutcomeSuccess = "success"
)

// Collectors groups every orchestrator metric. It implements router.Observer
// and heartbeat.HeartbeatEventHandler.
type Collectors struct {
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	fallbacks prometheus.Counter
	exhausted prometheus.Counter
	health    *prometheus.GaugeVec
	cost      *prometheus.CounterVec
	dropped   prometheus.Counter
}

// New creates the collectors on a private registry together with the Go and
// process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_attempts_total",
			Help:      "Provider attempts made by the router, by outcome (success or failure kind).",
		}, []string{"provider", "outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Failed attempts after which the router moved on.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exhausted_total",
			Help:      "Routing decisions that ended without a completion.",
		}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "Provider health: 1 healthy, 0.5 degraded, 0 unhealthy, -1 unknown.",
		}, []string{"provider"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_cost_total",
			Help:      "Accumulated USD cost of successful completions.",
		}, []string{"provider"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_dropped_total",
			Help:      "Usage records dropped because the write queue was full or the sink failed.",
		}),
	}
	c.registry.MustRegister(
		c.attempts, c.fallbacks, c.exhausted, c.health, c.cost, c.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one router attempt.
func (c *Collectors) ObserveAttempt(providerID string, kind provider.Kind, success bool, cost float64) {
	outcome := OutcomeSuccess
	if !success {
		outcome = string(kind)
	}
	c.attempts.WithLabelValues(providerID, outcome).Inc()
	if cost > 0 {
		c.cost.WithLabelValues(providerID).Add(cost)
	}
}

// ObserveFallback records a move to the next attempt after a failure.
func (c *Collectors) ObserveFallback() { c.fallbacks.Inc() }

// ObserveExhausted records a routing decision without a completion.
func (c *Collectors) ObserveExhausted() { c.exhausted.Inc() }

// UsageDropped counts one dropped usage record. Wire to ledger.Writer.OnDrop.
func (c *Collectors) UsageDropped() { c.dropped.Inc() }

// HandleEvent updates the health gauge from monitor events.
func (c *Collectors) HandleEvent(event *heartbeat.HeartbeatEvent) error {
	if event == nil || event.Status == nil || event.Provider == "" {
		return nil
	}
	switch event.Type {
	case heartbeat.EventProviderHealthy, heartbeat.EventProviderDegraded, heartbeat.EventProviderUnhealthy:
	default:
		return nil
	}
	c.health.WithLabelValues(event.Provider).Set(healthValue(event.Status.Status))
	return nil
}

// ForgetProvider removes the per-provider series of a deleted provider.
func (c *Collectors) ForgetProvider(id string) {
	c.health.DeleteLabelValues(id)
	c.cost.DeleteLabelValues(id)
	c.attempts.DeletePartialMatch(prometheus.Labels{"provider": id})
}

func healthValue(s heartbeat.ProviderStatus) float64 {
	switch s {
	case heartbeat.StatusHealthy:
		return 1
	case heartbeat.StatusDegraded:
		return 0.5
	case heartbeat.StatusUnhealthy:
		return 0
	default:
		return -1
	}
}
