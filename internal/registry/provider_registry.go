// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry holds the configured upstream providers. It is the single
// writer of provider configuration; every other component reads copies.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
)

// ProviderType is the closed set of known vendor kinds.
type ProviderType string

const (
	TypeOpenAI              ProviderType = "openai"
	TypeAnthropic           ProviderType = "anthropic"
	TypeGemini              ProviderType = "gemini"
	TypeOllama              ProviderType = "ollama"
	TypeOpenRouter          ProviderType = "openrouter"
	TypeOpenAICompatibility ProviderType = "openai-compatibility"
)

// SupportedTypes lists every provider kind accepted by Upsert.
var SupportedTypes = []ProviderType{
	TypeOpenAI, TypeAnthropic, TypeGemini, TypeOllama, TypeOpenRouter, TypeOpenAICompatibility,
}

// IsSupported reports whether t is a known provider kind.
func (t ProviderType) IsSupported() bool {
	for _, s := range SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Origin records which writer owns a provider entry.
type Origin string

const (
	// OriginFile entries come from the configuration file and follow its reloads.
	OriginFile Origin = "file"
	// OriginManagement entries come from the management API and survive reloads.
	OriginManagement Origin = "management"
)

// ErrNotFound is returned for an unknown provider id.
var ErrNotFound = errors.New("provider not found")

// ValidationError describes a rejected provider configuration.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid provider %q: %s %s", e.ID, e.Field, e.Reason)
}

// ModelPrice is the USD price per one million tokens.
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ProviderConfig is the registered configuration of one upstream provider.
type ProviderConfig struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	Type                 ProviderType          `json:"type"`
	Enabled              bool                  `json:"enabled"`
	Priority             int                   `json:"priority"`
	Models               []string              `json:"models"`
	MaxRequestsPerMinute int                   `json:"max_requests_per_minute"`
	MaxCostPerDay        float64               `json:"max_cost_per_day"`
	Timeout              time.Duration         `json:"timeout"`
	RetryAttempts        int                   `json:"retry_attempts"`
	BaseURL              string                `json:"base_url,omitempty"`
	ProxyURL             string                `json:"-"`
	CheckInterval        time.Duration         `json:"check_interval,omitempty"`
	Headers              map[string]string     `json:"-"`
	Pricing              map[string]ModelPrice `json:"pricing,omitempty"`
	Origin               Origin                `json:"origin"`

	// CredentialRef is an opaque reference resolved by the credential store.
	CredentialRef string `json:"-"`

	order uint64
}

// Order returns the registration sequence number, used to break priority ties.
func (p ProviderConfig) Order() uint64 { return p.order }

// SupportsModel reports whether model is served. An empty model matches any provider.
func (p ProviderConfig) SupportsModel(model string) bool {
	model = strings.TrimSpace(model)
	if model == "" {
		return len(p.Models) > 0
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// DefaultModel returns the first listed model, or "".
func (p ProviderConfig) DefaultModel() string {
	if len(p.Models) == 0 {
		return ""
	}
	return p.Models[0]
}

// Price returns the pricing for model, falling back to the "*" entry.
func (p ProviderConfig) Price(model string) ModelPrice {
	if price, ok := p.Pricing[model]; ok {
		return price
	}
	return p.Pricing["*"]
}

func (p ProviderConfig) clone() ProviderConfig {
	out := p
	out.Models = append([]string(nil), p.Models...)
	if p.Headers != nil {
		out.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	if p.Pricing != nil {
		out.Pricing = make(map[string]ModelPrice, len(p.Pricing))
		for k, v := range p.Pricing {
			out.Pricing[k] = v
		}
	}
	return out
}

// Validate checks the invariants required before registration.
func (p ProviderConfig) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{ID: p.ID, Field: "id", Reason: "must not be empty"}
	}
	if !p.Type.IsSupported() {
		return &ValidationError{ID: p.ID, Field: "type", Reason: fmt.Sprintf("%q is not a supported provider kind", p.Type)}
	}
	if len(p.Models) == 0 {
		return &ValidationError{ID: p.ID, Field: "models", Reason: "must list at least one model"}
	}
	if p.Priority <= 0 {
		return &ValidationError{ID: p.ID, Field: "priority", Reason: "must be a positive integer"}
	}
	if p.MaxRequestsPerMinute <= 0 {
		return &ValidationError{ID: p.ID, Field: "max-requests-per-minute", Reason: "must be greater than zero"}
	}
	if p.MaxCostPerDay <= 0 {
		return &ValidationError{ID: p.ID, Field: "max-cost-per-day", Reason: "must be greater than zero"}
	}
	if p.Timeout < 0 {
		return &ValidationError{ID: p.ID, Field: "timeout", Reason: "must not be negative"}
	}
	if p.RetryAttempts < 0 {
		return &ValidationError{ID: p.ID, Field: "retry-attempts", Reason: "must not be negative"}
	}
	return nil
}

// ChangeListener is notified after a provider is added, updated or removed.
type ChangeListener func(id string)

// Registry stores provider configurations keyed by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	seq       uint64
	listeners []ChangeListener
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{providers: make(map[string]ProviderConfig)}
}

// OnChange registers a listener called after every mutation.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Upsert validates and stores cfg. An existing provider keeps its registration order.
func (r *Registry) Upsert(cfg ProviderConfig) error {
	cfg.ID = strings.TrimSpace(cfg.ID)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Origin == "" {
		cfg.Origin = OriginFile
	}

	r.mu.Lock()
	if existing, ok := r.providers[cfg.ID]; ok {
		cfg.order = existing.order
	} else {
		r.seq++
		cfg.order = r.seq
	}
	r.providers[cfg.ID] = cfg.clone()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	log.Debugf("registry: upserted provider %s (type=%s priority=%d enabled=%t)", cfg.ID, cfg.Type, cfg.Priority, cfg.Enabled)
	notify(listeners, cfg.ID)
	return nil
}

// Remove deletes a provider. Removing an unknown id returns ErrNotFound.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.providers[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.providers, id)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	log.Debugf("registry: removed provider %s", id)
	notify(listeners, id)
	return nil
}

// Get returns a copy of the provider configuration.
func (r *Registry) Get(id string) (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.clone(), nil
}

// List returns every provider in registration order.
func (r *Registry) List() []ProviderConfig {
	r.mu.RLock()
	out := make([]ProviderConfig, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// ListEnabled returns enabled providers in registration order.
func (r *Registry) ListEnabled() []ProviderConfig {
	all := r.List()
	out := all[:0]
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Sync makes the file-origin providers match desired: unknown ids are added,
// changed ones updated and missing ones removed. Providers owned by the
// management API are neither overwritten nor removed. Invalid entries are
// skipped and reported.
func (r *Registry) Sync(desired []ProviderConfig) (added, updated, removed []string, err error) {
	want := make(map[string]struct{}, len(desired))
	var errs []error
	for _, cfg := range desired {
		cfg.Origin = OriginFile
		want[cfg.ID] = struct{}{}
		existing, getErr := r.Get(cfg.ID)
		if getErr == nil && existing.Origin == OriginManagement {
			log.Warnf("registry: provider %s is managed via the API, ignoring its file entry", cfg.ID)
			continue
		}
		if getErr == nil && equalConfig(existing, cfg) {
			continue
		}
		if upErr := r.Upsert(cfg); upErr != nil {
			errs = append(errs, upErr)
			continue
		}
		if getErr == nil {
			updated = append(updated, cfg.ID)
		} else {
			added = append(added, cfg.ID)
		}
	}
	for _, p := range r.List() {
		if _, ok := want[p.ID]; ok || p.Origin != OriginFile {
			continue
		}
		if rmErr := r.Remove(p.ID); rmErr == nil {
			removed = append(removed, p.ID)
		}
	}
	return added, updated, removed, errors.Join(errs...)
}

func equalConfig(a, b ProviderConfig) bool {
	a.order, b.order = 0, 0
	if b.Name == "" {
		b.Name = b.ID
	}
	if b.RetryAttempts == 0 {
		b.RetryAttempts = 1
	}
	if b.Timeout == 0 {
		b.Timeout = 30 * time.Second
	}
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func notify(listeners []ChangeListener, id string) {
	for _, fn := range listeners {
		fn(id)
	}
}

// FromConfig converts configuration file entries into provider configurations.
func FromConfig(cfg *config.Config) []ProviderConfig {
	if cfg == nil {
		return nil
	}
	defaultInterval := config.ParseDurationOr(cfg.Heartbeat.Interval, 5*time.Minute)
	out := make([]ProviderConfig, 0, len(cfg.Providers))
	for _, entry := range cfg.Providers {
		out = append(out, FromEntry(entry, defaultInterval))
	}
	return out
}

// FromEntry converts one configuration entry. defaultInterval applies when the
// entry has no check-interval.
func FromEntry(entry config.ProviderEntry, defaultInterval time.Duration) ProviderConfig {
	p := ProviderConfig{
		ID:                   entry.ID,
		Name:                 entry.Name,
		Type:                 ProviderType(entry.Type),
		Enabled:              entry.IsEnabled(),
		Priority:             entry.Priority,
		Models:               append([]string(nil), entry.Models...),
		MaxRequestsPerMinute: entry.MaxRequestsPerMinute,
		MaxCostPerDay:        entry.MaxCostPerDay,
		Timeout:              config.ParseDurationOr(entry.Timeout, 30*time.Second),
		RetryAttempts:        entry.RetryAttempts,
		BaseURL:              entry.BaseURL,
		ProxyURL:             entry.ProxyURL,
		CheckInterval:        config.ParseDurationOr(entry.CheckInterval, defaultInterval),
		Headers:              entry.Headers,
		CredentialRef:        entry.Credential,
		Origin:               OriginFile,
	}
	if len(entry.Pricing) > 0 {
		p.Pricing = make(map[string]ModelPrice, len(entry.Pricing))
		for model, price := range entry.Pricing {
			p.Pricing[model] = ModelPrice{Input: price.Input, Output: price.Output}
		}
	}
	return p
}
