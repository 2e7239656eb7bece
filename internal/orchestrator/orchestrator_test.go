// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/contextmgr"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
	"github.com/traylinx/switchAIOrchestrator/internal/logging"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/router"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
	"github.com/traylinx/switchAIOrchestrator/internal/tokens"
)

type fakeProvider struct {
	id   string
	fail bool
	// answered runs after a successful completion.
	answered func()

	mu   sync.Mutex
	last *provider.Request
}

func (p *fakeProvider) ID() string                  { return p.id }
func (p *fakeProvider) Type() registry.ProviderType { return registry.TypeOpenAI }
func (p *fakeProvider) Probe(context.Context) (*provider.ProbeResult, error) {
	return &provider.ProbeResult{}, nil
}

func (p *fakeProvider) Complete(_ context.Context, req *provider.Request) (*provider.Completion, error) {
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()
	if p.fail {
		return nil, &provider.Failure{Kind: provider.KindServer, Message: "upstream down"}
	}
	if p.answered != nil {
		p.answered()
	}
	return &provider.Completion{Text: "Goroutines are lightweight threads. They are cheap.", Model: req.Model, PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300}, nil
}

func (p *fakeProvider) lastRequest() *provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type providers map[string]*fakeProvider

func (ps providers) Get(cfg registry.ProviderConfig) (provider.Provider, error) { return ps[cfg.ID], nil }

type healthy struct{}

func (healthy) Effective(id string) *heartbeat.HealthStatus {
	if id == "unprobed" {
		return &heartbeat.HealthStatus{Provider: id, Status: heartbeat.StatusUnknown}
	}
	return &heartbeat.HealthStatus{Provider: id, Status: heartbeat.StatusHealthy, LastChecked: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type fixture struct {
	orch     *Orchestrator
	db       *store.DB
	ledger   *ledger.Ledger
	chunks   *contextstore.MemoryStore
	registry *registry.Registry
	upstream providers
}

func newFixture(t *testing.T, failing bool) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "orchestrator.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := registry.New()
	require.NoError(t, reg.Upsert(registry.ProviderConfig{
		ID:                   "p1",
		Name:                 "Primary",
		Type:                 registry.TypeOpenAI,
		Enabled:              true,
		Priority:             1,
		Models:               []string{"gpt-4o-mini"},
		MaxRequestsPerMinute: 60,
		MaxCostPerDay:        10,
		Pricing:              map[string]registry.ModelPrice{"gpt-4o-mini": {Input: 1, Output: 2}},
	}))
	upstream := providers{"p1": {id: "p1", fail: failing}}

	l := ledger.New(reg, time.UTC)
	r := router.New(reg, healthy{}, l, upstream, l)

	embedder := contextstore.NewHashEmbedder(64)
	chunks := contextstore.NewMemoryStore(embedder.Dimension())
	mgr := contextmgr.NewManager(db, db, tokens.Simple{}, contextmgr.Settings{HistoryLimit: 20, SemanticLimit: 5, MinScore: 0.1, PreserveRecentTurns: 4}, contextmgr.WithSemanticRecall(chunks, embedder))

	orch := New(db, mgr, r, reg, healthy{}, l, WithChunkIndexing(chunks, embedder))
	return &fixture{orch: orch, db: db, ledger: l, chunks: chunks, registry: reg, upstream: upstream}
}

func TestGenerateResponse(t *testing.T) {
	f := newFixture(t, false)
	ctx := logging.WithRequestID(context.Background(), "req-42")

	conv, err := f.orch.CreateConversation(ctx, "u1", "concurrency", "")
	require.NoError(t, err)

	resp, err := f.orch.GenerateResponse(ctx, conv.ID, "How do goroutines work?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Goroutines are lightweight threads. They are cheap.", resp.Reply)
	assert.Equal(t, "p1", resp.ProviderUsed)
	assert.Equal(t, "gpt-4o-mini", resp.ModelUsed)
	assert.Equal(t, 300, resp.Tokens)
	assert.InDelta(t, 0.0004, resp.Cost, 1e-12)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, 0, resp.ContextInfo.Turns)
	assert.Equal(t, 0, resp.ContextInfo.Chunks)
	assert.Equal(t, 0, resp.ContextInfo.CompressionLevel)
	assert.Equal(t, 1, resp.ContextInfo.Attempts)
	assert.Empty(t, resp.ContextInfo.FallbacksUsed)

	turns, err := f.db.RecentTurns(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "p1", turns[1].ProviderID)
	assert.Equal(t, 2, f.chunks.Len("u1"))

	totals := f.ledger.Totals("p1")
	assert.Equal(t, 1, totals.RequestsToday)
	assert.Equal(t, 1, f.orch.UserUsage("u1").Requests)

	resp, err = f.orch.GenerateResponse(ctx, conv.ID, "And channels?", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ContextInfo.Turns)

	sent := f.upstream["p1"].lastRequest()
	require.Len(t, sent.Messages, 4)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "How do goroutines work?", sent.Messages[1].Content)
	assert.Equal(t, provider.Message{Role: "user", Content: "And channels?"}, sent.Messages[3])
}

func TestGenerateResponseStoresTurnsAfterCancel(t *testing.T) {
	f := newFixture(t, false)
	conv, err := f.orch.CreateConversation(context.Background(), "u1", "concurrency", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.upstream["p1"].answered = cancel

	_, err = f.orch.GenerateResponse(ctx, conv.ID, "How do goroutines work?", Options{})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	turns, err := f.db.RecentTurns(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
	assert.Equal(t, 2, f.chunks.Len("u1"))
}

func TestGenerateResponseValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	conv, err := f.orch.CreateConversation(ctx, "u1", "", "")
	require.NoError(t, err)

	hot := 3.0
	tests := []struct {
		name    string
		conv    string
		message string
		opts    Options
	}{
		{"missing conversation id", "", "hi", Options{}},
		{"blank message", conv.ID, "   ", Options{}},
		{"unknown conversation", "no-such-conversation", "hi", Options{}},
		{"negative max tokens", conv.ID, "hi", Options{MaxTokens: -1}},
		{"temperature out of range", conv.ID, "hi", Options{Temperature: &hot}},
		{"unsupported provider type", conv.ID, "hi", Options{PreferredProviderType: "mainframe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.GenerateResponse(ctx, tt.conv, tt.message, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
	assert.Nil(t, f.upstream["p1"].lastRequest())
}

func TestGenerateResponseExhausted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	conv, err := f.orch.CreateConversation(ctx, "u1", "", "")
	require.NoError(t, err)

	_, err = f.orch.GenerateResponse(ctx, conv.ID, "hello?", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, router.ErrAllProvidersExhausted))
	var exhausted *router.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"Primary (SERVER_ERROR)"}, exhausted.FallbacksUsed)

	turns, err := f.db.RecentTurns(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Equal(t, 0, f.chunks.Len("u1"))
}

func TestCreateConversationRequiresUser(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.orch.CreateConversation(context.Background(), " ", "", "")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.registry.Upsert(registry.ProviderConfig{
		ID: "unprobed", Type: registry.TypeOllama, Enabled: false, Priority: 2, Models: []string{"llama3"},
		MaxRequestsPerMinute: 10, MaxCostPerDay: 1,
	}))
	f.ledger.RecordUsage(ledger.UsageRecord{ProviderID: "p1", Success: true, Cost: 0.5, TotalTokens: 10})

	all, err := f.orch.GetStatus("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := f.orch.GetStatus("p1")
	require.NoError(t, err)
	require.Len(t, one, 1)
	st := one[0]
	assert.True(t, st.Enabled)
	assert.Equal(t, heartbeat.StatusHealthy, st.HealthStatus)
	require.NotNil(t, st.LastChecked)
	assert.Equal(t, 1, st.RequestsToday)
	assert.Equal(t, 0.5, st.CostToday)
	assert.Equal(t, 60, st.MaxRequestsPerMinute)

	one, err = f.orch.GetStatus("unprobed")
	require.NoError(t, err)
	assert.False(t, one[0].Enabled)
	assert.Equal(t, heartbeat.StatusUnknown, one[0].HealthStatus)
	assert.Nil(t, one[0].LastChecked)

	_, err = f.orch.GetStatus("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSummary(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.orch.Summary(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	conv, err := f.orch.CreateConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	summary, err := f.orch.Summary(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "", summary)

	_, err = f.orch.GenerateResponse(ctx, conv.ID, "How do goroutines work?", Options{})
	require.NoError(t, err)
	summary, err = f.orch.Summary(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Topics covered: How do goroutines work. Last checkpoint: Goroutines are lightweight threads.", summary)
}
