// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router selects the upstream provider for a request and falls back
// to the next eligible provider when an attempt fails.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/steering"
)

const (
	// DefaultMaxTotalAttempts bounds the attempts of one routing decision.
	DefaultMaxTotalAttempts = 5
	maxTotalAttemptsCeiling = 20
)

// ErrAllProvidersExhausted is wrapped by every *ExhaustedError.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ExhaustedError reports a routing decision that produced no completion.
type ExhaustedError struct {
	Attempts      int
	FallbacksUsed []string
	Reason        string
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s)", ErrAllProvidersExhausted.Error(), e.Attempts)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.FallbacksUsed) > 0 {
		msg += " [" + strings.Join(e.FallbacksUsed, ", ") + "]"
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return ErrAllProvidersExhausted }

// Request is one logical completion request.
type Request struct {
	Model         string
	Messages      []provider.Message
	MaxTokens     int
	Temperature   *float64
	PreferredType registry.ProviderType

	Subject        steering.Subject
	ConversationID string
	RequestID      string
}

// Attempt is one (provider, outcome) pair of a routing decision.
type Attempt struct {
	ProviderID string        `json:"provider_id"`
	Name       string        `json:"name"`
	Model      string        `json:"model"`
	Success    bool          `json:"success"`
	Kind       provider.Kind `json:"kind,omitempty"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Result is a successful routing decision.
type Result struct {
	Provider      registry.ProviderConfig
	Completion    *provider.Completion
	Cost          float64
	Attempts      int
	FallbacksUsed []string
	Trail         []Attempt
}

// ProviderSource lists configured providers.
type ProviderSource interface {
	ListEnabled() []registry.ProviderConfig
}

// HealthSource returns the effective health of a provider.
type HealthSource interface {
	Effective(id string) *heartbeat.HealthStatus
}

// LimitChecker reports whether a provider is over its rate or cost ceiling.
type LimitChecker interface {
	IsOverLimit(id string) bool
}

// UsageRecorder receives one record per attempt.
type UsageRecorder interface {
	RecordUsage(rec ledger.UsageRecord)
}

// ProviderResolver returns the integration for a configured provider.
type ProviderResolver interface {
	Get(cfg registry.ProviderConfig) (provider.Provider, error)
}

// Policy filters and reorders candidates.
type Policy interface {
	Apply(subject steering.Subject, providers []registry.ProviderConfig, now time.Time) []registry.ProviderConfig
}

// Observer is notified of routing outcomes.
type Observer interface {
	ObserveAttempt(providerID string, kind provider.Kind, success bool, cost float64)
	ObserveFallback()
	ObserveExhausted()
}

// Router implements provider selection with fallback.
type Router struct {
	providers ProviderSource
	health    HealthSource
	limits    LimitChecker
	resolver  ProviderResolver
	recorder  UsageRecorder
	policy    Policy
	observer  Observer

	maxTotalAttempts int
	now              func() time.Time

	mu     sync.Mutex
	sorted []registry.ProviderConfig
	valid  bool
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy installs routing policies.
func WithPolicy(p Policy) Option { return func(r *Router) { r.policy = p } }

// WithObserver installs a routing observer.
func WithObserver(o Observer) Option { return func(r *Router) { r.observer = o } }

// WithMaxTotalAttempts sets the global attempt ceiling.
func WithMaxTotalAttempts(n int) Option { return func(r *Router) { r.maxTotalAttempts = n } }

// WithClock overrides the time source used for policies and records.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// New creates a router.
func New(providers ProviderSource, health HealthSource, limits LimitChecker, resolver ProviderResolver, recorder UsageRecorder, opts ...Option) *Router {
	r := &Router{
		providers:        providers,
		health:           health,
		limits:           limits,
		resolver:         resolver,
		recorder:         recorder,
		maxTotalAttempts: DefaultMaxTotalAttempts,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxTotalAttempts <= 0 {
		r.maxTotalAttempts = DefaultMaxTotalAttempts
	}
	if r.maxTotalAttempts > maxTotalAttemptsCeiling {
		r.maxTotalAttempts = maxTotalAttemptsCeiling
	}
	return r
}

// Invalidate drops the cached provider ordering. Wire to registry.OnChange.
func (r *Router) Invalidate(string) {
	r.mu.Lock()
	r.valid = false
	r.sorted = nil
	r.mu.Unlock()
}

// ordered returns enabled providers sorted by priority, ties broken by
// registration order.
func (r *Router) ordered() []registry.ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid {
		list := r.providers.ListEnabled()
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority < list[j].Priority
			}
			return list[i].Order() < list[j].Order()
		})
		r.sorted = list
		r.valid = true
	}
	return append([]registry.ProviderConfig(nil), r.sorted...)
}

// Eligible returns the providers a request may be dispatched to, in attempt
// order. Degraded providers are returned only when no healthy one is.
func (r *Router) Eligible(req *Request) []registry.ProviderConfig {
	candidates := r.ordered()
	if r.policy != nil {
		candidates = r.policy.Apply(req.Subject, candidates, r.now())
	}

	var healthy, degraded []registry.ProviderConfig
	for _, cfg := range candidates {
		if !cfg.Enabled || !cfg.SupportsModel(req.Model) {
			continue
		}
		if r.limits != nil && r.limits.IsOverLimit(cfg.ID) {
			continue
		}
		switch r.health.Effective(cfg.ID).Status {
		case heartbeat.StatusHealthy:
			healthy = append(healthy, cfg)
		case heartbeat.StatusDegraded:
			degraded = append(degraded, cfg)
		}
	}
	eligible := healthy
	if len(eligible) == 0 {
		eligible = degraded
	}
	if req.PreferredType != "" {
		eligible = steering.PreferType(eligible, req.PreferredType)
	}
	return eligible
}

// Route dispatches req to eligible providers in order until one succeeds.
// Attempts are sequential. Every attempt is recorded.
func (r *Router) Route(ctx context.Context, req *Request) (*Result, error) {
	eligible := r.Eligible(req)
	if len(eligible) == 0 {
		r.exhausted()
		return nil, &ExhaustedError{Reason: "no eligible provider"}
	}

	var (
		total     int
		fallbacks []string
		trail     []Attempt
	)
	logger := log.WithField("request_id", req.RequestID)

providers:
	for _, cfg := range eligible {
		budget := cfg.RetryAttempts
		if budget < 1 {
			budget = 1
		}
		for try := 0; try < budget; try++ {
			if total >= r.maxTotalAttempts {
				break providers
			}
			if ctx.Err() != nil {
				break providers
			}
			if try > 0 && r.limits != nil && r.limits.IsOverLimit(cfg.ID) {
				break
			}

			attempt, comp, failure := r.attempt(ctx, cfg, req)
			total++
			trail = append(trail, attempt)
			if failure == nil {
				cost := provider.Cost(cfg.Price(attempt.Model), comp.PromptTokens, comp.CompletionTokens)
				r.record(req, cfg, attempt, comp, cost)
				if r.observer != nil {
					r.observer.ObserveAttempt(cfg.ID, "", true, cost)
				}
				if len(fallbacks) > 0 {
					logger.Infof("router: %s served request after fallback %v", cfg.ID, fallbacks)
				}
				return &Result{
					Provider:      cfg,
					Completion:    comp,
					Cost:          cost,
					Attempts:      total,
					FallbacksUsed: fallbacks,
					Trail:         trail,
				}, nil
			}

			r.record(req, cfg, attempt, nil, 0)
			fallbacks = append(fallbacks, fmt.Sprintf("%s (%s)", cfg.Name, failure.Kind))
			if r.observer != nil {
				r.observer.ObserveAttempt(cfg.ID, failure.Kind, false, 0)
				r.observer.ObserveFallback()
			}
			logger.WithFields(log.Fields{"provider": cfg.ID, "kind": failure.Kind}).Warnf("router: attempt failed: %s", failure.Message)

			if !failure.Kind.Transient() {
				break
			}
		}
	}

	r.exhausted()
	reason := ""
	switch {
	case ctx.Err() != nil:
		reason = "request deadline exceeded"
	case total >= r.maxTotalAttempts:
		reason = "attempt limit reached"
	}
	return nil, &ExhaustedError{Attempts: total, FallbacksUsed: fallbacks, Reason: reason}
}

func (r *Router) exhausted() {
	if r.observer != nil {
		r.observer.ObserveExhausted()
	}
}

// attempt performs a single call bounded by the provider timeout.
func (r *Router) attempt(ctx context.Context, cfg registry.ProviderConfig, req *Request) (Attempt, *provider.Completion, *provider.Failure) {
	model := req.Model
	if model == "" {
		model = cfg.DefaultModel()
	}
	a := Attempt{ProviderID: cfg.ID, Name: cfg.Name, Model: model}

	prov, err := r.resolver.Get(cfg)
	if err != nil {
		f := provider.AsFailure(err)
		if f.Kind != provider.KindConfig {
			f = &provider.Failure{Kind: provider.KindConfig, Provider: cfg.ID, Message: err.Error(), Err: err}
		}
		a.Kind, a.Message = f.Kind, f.Error()
		return a, nil, f
	}

	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	comp, err := prov.Complete(callCtx, &provider.Request{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	a.Duration = time.Since(start)
	if err == nil && comp == nil {
		err = &provider.Failure{Kind: provider.KindInvalidResponse, Provider: cfg.ID, Message: "empty completion"}
	}
	if err != nil {
		f := provider.AsFailure(err)
		if f.Provider == "" {
			f.Provider = cfg.ID
		}
		a.Kind, a.Message = f.Kind, f.Error()
		return a, nil, f
	}
	if comp.Model != "" {
		a.Model = comp.Model
	}
	a.Success = true
	return a, comp, nil
}

func (r *Router) record(req *Request, cfg registry.ProviderConfig, a Attempt, comp *provider.Completion, cost float64) {
	if r.recorder == nil {
		return
	}
	rec := ledger.UsageRecord{
		ID:             uuid.NewString(),
		ProviderID:     cfg.ID,
		Model:          a.Model,
		Cost:           cost,
		ResponseTime:   a.Duration,
		Success:        a.Success,
		ErrorKind:      string(a.Kind),
		ErrorMessage:   a.Message,
		Timestamp:      r.now(),
		UserID:         req.Subject.UserID,
		ConversationID: req.ConversationID,
		ConceptID:      req.Subject.ConceptID,
		RequestID:      req.RequestID,
	}
	if comp != nil {
		rec.PromptTokens = comp.PromptTokens
		rec.CompletionTokens = comp.CompletionTokens
		rec.TotalTokens = comp.TotalTokens
	}
	r.recorder.RecordUsage(rec)
}
