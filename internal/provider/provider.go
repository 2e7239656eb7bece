// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider implements the upstream language-model integrations. Each
// vendor kind implements Probe for health checks and Complete for chat turns;
// the router and health monitor depend only on the Provider interface.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/secret"
)

// Message is one chat message sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Completion is a successful provider reply.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ProbeResult is the outcome of a successful health probe.
type ProbeResult struct {
	Models       []string
	ResponseTime time.Duration
	// Partial is set when the provider answered but is not fully usable.
	Partial bool
	Detail  string
}

// Provider is one upstream vendor integration.
type Provider interface {
	ID() string
	Type() registry.ProviderType
	// Probe performs a minimal authenticated call. Failures are returned as *Failure.
	Probe(ctx context.Context) (*ProbeResult, error)
	// Complete sends a chat turn. Failures are returned as *Failure.
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Factory builds a Provider from its registered configuration.
type Factory func(cfg registry.ProviderConfig) (Provider, error)

// NewFactory returns the default Factory that resolves credentials through creds.
func NewFactory(creds secret.Resolver) Factory {
	return func(cfg registry.ProviderConfig) (Provider, error) {
		return New(cfg, creds)
	}
}

// New creates the integration for cfg.Type.
func New(cfg registry.ProviderConfig, creds secret.Resolver) (Provider, error) {
	if creds == nil {
		creds = secret.EnvResolver{}
	}
	client, err := newHTTPClient(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.ID, err)
	}
	b := base{cfg: cfg, creds: creds, client: client}
	switch cfg.Type {
	case registry.TypeOpenAI:
		b.defaultURL = "https://api.openai.com/v1"
		return &openAIProvider{base: b}, nil
	case registry.TypeOpenRouter:
		b.defaultURL = "https://openrouter.ai/api/v1"
		return &openAIProvider{base: b}, nil
	case registry.TypeOpenAICompatibility:
		b.credentialOptional = true
		return &openAIProvider{base: b}, nil
	case registry.TypeAnthropic:
		b.defaultURL = "https://api.anthropic.com/v1"
		return &anthropicProvider{base: b}, nil
	case registry.TypeGemini:
		b.defaultURL = "https://generativelanguage.googleapis.com/v1beta"
		return &geminiProvider{base: b}, nil
	case registry.TypeOllama:
		b.defaultURL = "http://localhost:11434"
		b.credentialOptional = true
		return &ollamaProvider{base: b}, nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", cfg.ID, cfg.Type)
	}
}

// base carries what every vendor integration needs.
type base struct {
	cfg                registry.ProviderConfig
	creds              secret.Resolver
	client             *http.Client
	defaultURL         string
	credentialOptional bool
}

func (b *base) ID() string                  { return b.cfg.ID }
func (b *base) Type() registry.ProviderType { return b.cfg.Type }

// endpoint returns the base URL or a configuration failure.
func (b *base) endpoint() (string, error) {
	u := strings.TrimRight(strings.TrimSpace(b.cfg.BaseURL), "/")
	if u == "" {
		u = b.defaultURL
	}
	if u == "" {
		return "", configFailure(b.cfg.ID, "no base-url configured")
	}
	return u, nil
}

// credential resolves the API key or returns a configuration failure.
func (b *base) credential() (string, error) {
	if strings.TrimSpace(b.cfg.CredentialRef) == "" {
		if b.credentialOptional {
			return "", nil
		}
		return "", configFailure(b.cfg.ID, "no credential configured")
	}
	key, err := b.creds.Resolve(b.cfg.CredentialRef)
	if err != nil {
		if b.credentialOptional {
			return "", nil
		}
		return "", &Failure{Kind: KindConfig, Provider: b.cfg.ID, Message: "credential could not be resolved", Err: err}
	}
	return key, nil
}

// partialModels compares observed models with the configured ones.
func (b *base) partialModels(observed []string) (bool, string) {
	if len(observed) == 0 {
		return true, "provider reported an empty model list"
	}
	if len(b.cfg.Models) == 0 {
		return false, ""
	}
	have := make(map[string]struct{}, len(observed))
	for _, m := range observed {
		have[m] = struct{}{}
	}
	var missing []string
	for _, m := range b.cfg.Models {
		if _, ok := have[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) == len(b.cfg.Models) {
		return true, "none of the configured models are offered: " + strings.Join(missing, ", ")
	}
	return false, ""
}

// model returns the requested model or the provider default.
func (b *base) model(req *Request) string {
	if req != nil && strings.TrimSpace(req.Model) != "" {
		return req.Model
	}
	return b.cfg.DefaultModel()
}

// Pool caches one Provider per id so connections are reused across requests.
type Pool struct {
	mu      sync.Mutex
	factory Factory
	items   map[string]Provider
}

// NewPool creates a pool backed by factory.
func NewPool(factory Factory) *Pool {
	return &Pool{factory: factory, items: make(map[string]Provider)}
}

// Get returns the cached integration for cfg, building it on first use.
func (p *Pool) Get(cfg registry.ProviderConfig) (Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prov, ok := p.items[cfg.ID]; ok {
		return prov, nil
	}
	prov, err := p.factory(cfg)
	if err != nil {
		return nil, err
	}
	p.items[cfg.ID] = prov
	return prov, nil
}

// Invalidate drops the cached integration for id. Wire to registry.OnChange.
func (p *Pool) Invalidate(id string) {
	p.mu.Lock()
	delete(p.items, id)
	p.mu.Unlock()
}
