// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/secret"
)

// mockProvider returns queued probe outcomes; the last one repeats.
type mockProvider struct {
	id string

	mu       sync.Mutex
	calls    int
	outcomes []mockOutcome
	block    chan struct{}
}

type mockOutcome struct {
	res *provider.ProbeResult
	err error
}

func (m *mockProvider) ID() string                  { return m.id }
func (m *mockProvider) Type() registry.ProviderType { return registry.TypeOpenAI }

func (m *mockProvider) Probe(ctx context.Context) (*provider.ProbeResult, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(m.outcomes) == 0 {
		return &provider.ProbeResult{Models: []string{"m1"}, ResponseTime: time.Millisecond}, nil
	}
	if idx >= len(m.outcomes) {
		idx = len(m.outcomes) - 1
	}
	return m.outcomes[idx].res, m.outcomes[idx].err
}

func (m *mockProvider) Complete(context.Context, *provider.Request) (*provider.Completion, error) {
	return &provider.Completion{}, nil
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type staticResolver map[string]provider.Provider

func (s staticResolver) Get(cfg registry.ProviderConfig) (provider.Provider, error) {
	return s[cfg.ID], nil
}

func testProvider(id string) registry.ProviderConfig {
	return registry.ProviderConfig{
		ID: id, Type: registry.TypeOpenAI, Enabled: true, Priority: 1,
		Models: []string{"m1"}, MaxRequestsPerMinute: 10, MaxCostPerDay: 1,
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.Timeout = time.Second
	return opts
}

func TestEvaluate(t *testing.T) {
	now := time.Now()
	slow := 2 * time.Second
	tests := []struct {
		name string
		res  *provider.ProbeResult
		err  error
		want ProviderStatus
		kind provider.Kind
	}{
		{"fast success", &provider.ProbeResult{Models: []string{"m"}, ResponseTime: 100 * time.Millisecond}, nil, StatusHealthy, ""},
		{"slow success", &provider.ProbeResult{Models: []string{"m"}, ResponseTime: 3 * time.Second}, nil, StatusDegraded, ""},
		{"partial", &provider.ProbeResult{Partial: true, Detail: "provider reported an empty model list"}, nil, StatusDegraded, ""},
		{"auth", nil, &provider.Failure{Kind: provider.KindAuth, Message: "bad key"}, StatusUnhealthy, provider.KindAuth},
		{"quota", nil, &provider.Failure{Kind: provider.KindQuotaExhausted, Message: "no credit"}, StatusUnhealthy, provider.KindQuotaExhausted},
		{"timeout", nil, context.DeadlineExceeded, StatusUnhealthy, provider.KindTimeout},
		{"nil result", nil, nil, StatusUnhealthy, provider.KindInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := evaluate("p1", tt.res, tt.err, slow, now)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, tt.kind, s.ErrorKind)
			assert.Equal(t, now, s.LastChecked)
			if tt.want != StatusHealthy {
				assert.NotEmpty(t, s.ErrorMessage)
			}
		})
	}
}

func TestMissingCredentialVersusTimeoutMessages(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	reg := registry.New()
	noCred := testProvider("nocred")
	require.NoError(t, reg.Upsert(noCred))
	timingOut := testProvider("slow")
	timingOut.BaseURL = slow.URL
	timingOut.CredentialRef = "ref"
	require.NoError(t, reg.Upsert(timingOut))

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	opts.RetryAttempts = 0
	pool := provider.NewPool(provider.NewFactory(secret.StaticResolver{"ref": "sk-1234567890"}))
	m := NewMonitor(opts, reg, pool, nil)

	cfgStatus, err := m.CheckProvider(context.Background(), "nocred")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, cfgStatus.Status)
	assert.Equal(t, provider.KindConfig, cfgStatus.ErrorKind)
	assert.Contains(t, cfgStatus.ErrorMessage, "configuration error")

	toStatus, err := m.CheckProvider(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, toStatus.Status)
	assert.Equal(t, provider.KindTimeout, toStatus.ErrorKind)
	assert.Contains(t, toStatus.ErrorMessage, "timeout")

	assert.NotEqual(t, cfgStatus.ErrorMessage, toStatus.ErrorMessage)
}

func TestRetryOnlyTransientFailures(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(testProvider("flaky")))
	require.NoError(t, reg.Upsert(testProvider("badkey")))

	flaky := &mockProvider{id: "flaky", outcomes: []mockOutcome{
		{err: &provider.Failure{Kind: provider.KindNetwork, Message: "reset"}},
		{res: &provider.ProbeResult{Models: []string{"m1"}, ResponseTime: time.Millisecond}},
	}}
	badkey := &mockProvider{id: "badkey", outcomes: []mockOutcome{
		{err: &provider.Failure{Kind: provider.KindAuth, Message: "bad key"}},
	}}
	m := NewMonitor(testOptions(), reg, staticResolver{"flaky": flaky, "badkey": badkey}, nil)

	s, err := m.CheckProvider(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, s.Status)
	assert.Equal(t, 2, flaky.Calls())

	s, err = m.CheckProvider(context.Background(), "badkey")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, s.Status)
	assert.Equal(t, 1, badkey.Calls())

	stats := m.GetStats()
	assert.Equal(t, int64(3), stats.TotalChecks)
	assert.Equal(t, int64(2), stats.FailedChecks)
}

func TestCheckUnknownProvider(t *testing.T) {
	m := NewMonitor(testOptions(), registry.New(), staticResolver{}, nil)
	_, err := m.CheckProvider(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStoreStaleness(t *testing.T) {
	st := NewStatusStore(10 * time.Minute)
	now := time.Now()
	st.now = func() time.Time { return now }

	assert.Equal(t, StatusUnknown, st.Effective("p1").Status)

	st.set(&HealthStatus{Provider: "p1", Status: StatusHealthy, LastChecked: now.Add(-9 * time.Minute)})
	assert.Equal(t, StatusHealthy, st.Effective("p1").Status)

	st.set(&HealthStatus{Provider: "p1", Status: StatusHealthy, LastChecked: now.Add(-11 * time.Minute)})
	assert.Equal(t, StatusUnknown, st.Effective("p1").Status)

	raw, ok := st.Get("p1")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, raw.Status, "raw status is kept, only the effective view changes")
}

func TestStoreReturnsCopies(t *testing.T) {
	st := NewStatusStore(time.Minute)
	st.set(&HealthStatus{Provider: "p1", Status: StatusHealthy, LastChecked: time.Now(), Models: []string{"a"}})
	s := st.Effective("p1")
	s.Models[0] = "mutated"
	s.Status = StatusUnhealthy
	again := st.Effective("p1")
	assert.Equal(t, "a", again.Models[0])
	assert.Equal(t, StatusHealthy, again.Status)
}

func TestReadNotBlockedByInFlightProbe(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(testProvider("p1")))
	mp := &mockProvider{id: "p1"}
	m := NewMonitor(testOptions(), reg, staticResolver{"p1": mp}, nil)

	_, err := m.CheckProvider(context.Background(), "p1")
	require.NoError(t, err)

	mp.mu.Lock()
	mp.block = make(chan struct{})
	mp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_, _ = m.CheckProvider(context.Background(), "p1")
		close(done)
	}()

	require.Eventually(t, func() bool { return mp.Calls() == 2 }, time.Second, 5*time.Millisecond)
	start := time.Now()
	assert.Equal(t, StatusHealthy, m.GetStatus("p1").Status)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(mp.block)
	<-done
}

func TestStartTriggerStop(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(testProvider("p1")))
	mp := &mockProvider{id: "p1"}
	events := NewEventLog(10)

	opts := testOptions()
	opts.Interval = time.Hour
	m := NewMonitor(opts, reg, staticResolver{"p1": mp}, nil)
	m.AddEventHandler(events)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "second start must fail")
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool { return mp.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Trigger("p1"))
	assert.False(t, m.Trigger("ghost"))
	require.Eventually(t, func() bool { return mp.Calls() == 2 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(events.GetEventsByType(EventProviderHealthy)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	calls := mp.Calls()
	assert.False(t, m.Trigger("p1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, mp.Calls(), "no probes after stop")
}

func TestReconcileFollowsRegistry(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(testProvider("p1")))
	resolver := staticResolver{"p1": &mockProvider{id: "p1"}, "p2": &mockProvider{id: "p2"}}

	opts := testOptions()
	opts.Interval = time.Hour
	m := NewMonitor(opts, reg, resolver, nil)
	reg.OnChange(m.ProviderChanged)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	assert.Equal(t, 1, m.GetStats().ProvidersMonitored)

	require.NoError(t, reg.Upsert(testProvider("p2")))
	assert.Equal(t, 2, m.GetStats().ProvidersMonitored)

	disabled := testProvider("p1")
	disabled.Enabled = false
	require.NoError(t, reg.Upsert(disabled))
	assert.Equal(t, 1, m.GetStats().ProvidersMonitored)
	assert.False(t, m.Trigger("p1"))
}

func TestDisabledMonitorDoesNotStart(t *testing.T) {
	opts := testOptions()
	opts.Enabled = false
	m := NewMonitor(opts, registry.New(), staticResolver{}, nil)
	assert.Error(t, m.Start(context.Background()))
	assert.NoError(t, m.Stop())
}

func TestCheckAll(t *testing.T) {
	reg := registry.New()
	resolver := staticResolver{}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, reg.Upsert(testProvider(id)))
		resolver[id] = &mockProvider{id: id}
	}
	opts := testOptions()
	opts.MaxConcurrentChecks = 1
	m := NewMonitor(opts, reg, resolver, nil)

	m.CheckAll(context.Background())
	snap := m.Store().Snapshot()
	assert.Len(t, snap, 3)
	for id, s := range snap {
		assert.Equal(t, StatusHealthy, s.Status, id)
	}
}
