// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

// ProviderSource supplies the providers to monitor and their integrations.
type ProviderSource interface {
	ListEnabled() []registry.ProviderConfig
	Get(id string) (registry.ProviderConfig, error)
}

// ProviderResolver returns the integration used to probe a provider.
type ProviderResolver interface {
	Get(cfg registry.ProviderConfig) (provider.Provider, error)
}

// Monitor probes every enabled provider on its own timer and records the
// outcome in a StatusStore.
type Monitor struct {
	opts      Options
	providers ProviderSource
	resolver  ProviderResolver
	store     *StatusStore

	mu            sync.RWMutex
	loops         map[string]*probeLoop
	eventHandlers []HeartbeatEventHandler
	stats         HeartbeatStats
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       bool
}

type probeLoop struct {
	interval time.Duration
	trigger  chan struct{}
	cancel   context.CancelFunc
}

// NewMonitor creates a monitor writing into store.
func NewMonitor(opts Options, providers ProviderSource, resolver ProviderResolver, store *StatusStore) *Monitor {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = def.SlowThreshold
	}
	if opts.MaxConcurrentChecks <= 0 {
		opts.MaxConcurrentChecks = def.MaxConcurrentChecks
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if store == nil {
		store = NewStatusStore(opts.FreshnessWindow)
	}
	return &Monitor{
		opts:      opts,
		providers: providers,
		resolver:  resolver,
		store:     store,
		loops:     make(map[string]*probeLoop),
	}
}

// Store returns the status store written by this monitor.
func (m *Monitor) Store() *StatusStore { return m.store }

// Start launches one probe loop per enabled provider.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.opts.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("heartbeat monitoring is disabled")
	}
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("heartbeat monitor is already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.stats.StartTime = time.Now()
	m.mu.Unlock()

	m.Reconcile()

	m.emitEvent(&HeartbeatEvent{
		Type:      EventHeartbeatStarted,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"interval":        m.opts.Interval.String(),
			"providers_count": m.GetStats().ProvidersMonitored,
		},
	})
	return nil
}

// Stop cancels every probe loop and waits for them to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.running = false
	m.loops = make(map[string]*probeLoop)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("Heartbeat monitor stop timed out waiting for probe loops")
	}

	stats := m.GetStats()
	m.emitEvent(&HeartbeatEvent{
		Type:      EventHeartbeatStopped,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"total_checks":      stats.TotalChecks,
			"successful_checks": stats.SuccessfulChecks,
			"failed_checks":     stats.FailedChecks,
			"uptime":            time.Since(stats.StartTime).String(),
		},
	})
	return nil
}

// Reconcile starts loops for newly enabled providers, stops loops for removed or
// disabled ones and restarts loops whose interval changed. Wire to registry.OnChange.
func (m *Monitor) Reconcile() {
	desired := make(map[string]time.Duration)
	for _, p := range m.providers.ListEnabled() {
		interval := p.CheckInterval
		if interval <= 0 {
			interval = m.opts.Interval
		}
		desired[p.ID] = interval
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	for id, l := range m.loops {
		if interval, ok := desired[id]; !ok || interval != l.interval {
			l.cancel()
			delete(m.loops, id)
		}
	}
	for id, interval := range desired {
		if _, ok := m.loops[id]; ok {
			continue
		}
		loopCtx, cancel := context.WithCancel(m.ctx)
		l := &probeLoop{interval: interval, trigger: make(chan struct{}, 1), cancel: cancel}
		m.loops[id] = l
		m.wg.Add(1)
		go m.runLoop(loopCtx, id, l)
	}
	m.stats.ProvidersMonitored = len(m.loops)
}

// ProviderChanged reconciles loops and re-probes id so configuration edits take effect.
func (m *Monitor) ProviderChanged(id string) {
	m.Reconcile()
	m.Trigger(id)
}

// Trigger requests an immediate probe of id without waiting for it.
// It reports false when no loop runs for id.
func (m *Monitor) Trigger(id string) bool {
	m.mu.RLock()
	l, ok := m.loops[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case l.trigger <- struct{}{}:
	default:
	}
	return true
}

func (m *Monitor) runLoop(ctx context.Context, id string, l *probeLoop) {
	defer m.wg.Done()

	m.probeSafely(ctx, id)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeSafely(ctx, id)
		case <-l.trigger:
			m.probeSafely(ctx, id)
		}
	}
}

func (m *Monitor) probeSafely(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic in health check for %s: %v", id, r)
		}
	}()
	if _, err := m.CheckProvider(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		log.Debugf("Provider health check failed: %v", err)
	}
}

// CheckAll probes every enabled provider once, bounded by MaxConcurrentChecks.
func (m *Monitor) CheckAll(ctx context.Context) {
	enabled := m.providers.ListEnabled()
	semaphore := make(chan struct{}, m.opts.MaxConcurrentChecks)
	var wg sync.WaitGroup
	for _, p := range enabled {
		wg.Add(1)
		go func(id string) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in health check for %s: %v", id, r)
				}
				wg.Done()
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			if _, err := m.CheckProvider(ctx, id); err != nil {
				log.Debugf("Provider health check failed: %v", err)
			}
		}(p.ID)
	}
	wg.Wait()
}

// CheckProvider probes one provider synchronously and records the result.
// The returned error is non-nil only when the provider cannot be probed at all
// or the context was cancelled; probe failures are recorded as state.
func (m *Monitor) CheckProvider(ctx context.Context, id string) (*HealthStatus, error) {
	cfg, err := m.providers.Get(id)
	if err != nil {
		return nil, err
	}

	status := m.probeWithRetry(ctx, cfg)
	if ctx.Err() != nil && status.ErrorKind != "" {
		// Shutdown in progress; do not overwrite the last good status.
		return nil, ctx.Err()
	}
	m.record(status)
	return status.clone(), nil
}

// probeWithRetry retries transient failures up to RetryAttempts times.
func (m *Monitor) probeWithRetry(ctx context.Context, cfg registry.ProviderConfig) *HealthStatus {
	var status *HealthStatus
	for attempt := 0; attempt <= m.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return status
			case <-time.After(m.opts.RetryDelay):
			}
		}

		status = m.probe(ctx, cfg)

		m.mu.Lock()
		m.stats.TotalChecks++
		if status.ErrorKind == "" {
			m.stats.SuccessfulChecks++
		} else {
			m.stats.FailedChecks++
		}
		m.mu.Unlock()

		if status.ErrorKind == "" || !status.ErrorKind.Transient() {
			return status
		}
		m.emitEvent(&HeartbeatEvent{
			Type:      EventHealthCheckFailed,
			Provider:  cfg.ID,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"error":   status.ErrorMessage,
				"attempt": attempt + 1,
			},
		})
	}
	return status
}

// probe runs one probe under the configured timeout and evaluates the state.
func (m *Monitor) probe(ctx context.Context, cfg registry.ProviderConfig) *HealthStatus {
	prov, err := m.resolver.Get(cfg)
	if err != nil {
		return evaluate(cfg.ID, nil, &provider.Failure{Kind: provider.KindConfig, Provider: cfg.ID, Message: err.Error(), Err: err}, m.opts.SlowThreshold, time.Now())
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := time.Now()
	res, err := prov.Probe(probeCtx)
	if res != nil && res.ResponseTime == 0 {
		res.ResponseTime = time.Since(start)
	}
	status := evaluate(cfg.ID, res, err, m.opts.SlowThreshold, time.Now())
	if err != nil && status.ResponseTime == 0 {
		status.ResponseTime = time.Since(start)
	}
	return status
}

// evaluate maps a probe outcome onto the health state machine.
func evaluate(id string, res *provider.ProbeResult, err error, slow time.Duration, now time.Time) *HealthStatus {
	status := &HealthStatus{Provider: id, LastChecked: now}
	if err != nil {
		f := provider.AsFailure(err)
		status.Status = StatusUnhealthy
		status.ErrorKind = f.Kind
		status.ErrorMessage = f.Error()
		return status
	}
	if res == nil {
		status.Status = StatusUnhealthy
		status.ErrorKind = provider.KindInvalidResponse
		status.ErrorMessage = "probe returned no result"
		return status
	}
	status.ResponseTime = res.ResponseTime
	status.Models = append([]string(nil), res.Models...)
	switch {
	case res.Partial:
		status.Status = StatusDegraded
		status.ErrorMessage = res.Detail
	case slow > 0 && res.ResponseTime > slow:
		status.Status = StatusDegraded
		status.ErrorMessage = fmt.Sprintf("probe took %s, above slow threshold %s", res.ResponseTime.Round(time.Millisecond), slow)
	default:
		status.Status = StatusHealthy
	}
	return status
}

// record stores the status and emits a change event when the state moved.
func (m *Monitor) record(status *HealthStatus) {
	prev := m.store.set(status)
	if prev != nil && prev.Status == status.Status {
		return
	}
	var eventType HeartbeatEventType
	switch status.Status {
	case StatusHealthy:
		eventType = EventProviderHealthy
	case StatusDegraded:
		eventType = EventProviderDegraded
	default:
		eventType = EventProviderUnhealthy
	}
	fields := log.Fields{"provider": status.Provider, "status": status.Status}
	if status.ErrorMessage != "" {
		fields["detail"] = status.ErrorMessage
	}
	if status.Status == StatusHealthy {
		log.WithFields(fields).Info("provider health changed")
	} else {
		log.WithFields(fields).Warn("provider health changed")
	}
	m.emitEvent(&HeartbeatEvent{
		Type:           eventType,
		Provider:       status.Provider,
		Timestamp:      time.Now(),
		Status:         status.clone(),
		PreviousStatus: prev,
	})
}

// GetStatus returns the effective status of a provider (stale entries are unknown).
func (m *Monitor) GetStatus(id string) *HealthStatus {
	return m.store.Effective(id)
}

// AddEventHandler registers an event handler for heartbeat events.
func (m *Monitor) AddEventHandler(handler HeartbeatEventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventHandlers = append(m.eventHandlers, handler)
}

// emitEvent sends an event to all registered handlers asynchronously.
func (m *Monitor) emitEvent(event *HeartbeatEvent) {
	m.mu.RLock()
	handlers := make([]HeartbeatEventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go func(h HeartbeatEventHandler) {
			if err := h.HandleEvent(event); err != nil {
				log.Errorf("Heartbeat event handler failed: %v", err)
			}
		}(handler)
	}
}

// GetStats returns current heartbeat monitor statistics.
func (m *Monitor) GetStats() HeartbeatStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// IsRunning returns true if the heartbeat monitor is currently running.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
