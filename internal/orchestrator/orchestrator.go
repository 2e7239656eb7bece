// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator ties context assembly, provider routing and usage
// accounting together behind the two operations offered to callers:
// GenerateResponse and GetStatus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/contextmgr"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
	"github.com/traylinx/switchAIOrchestrator/internal/logging"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/router"
	"github.com/traylinx/switchAIOrchestrator/internal/steering"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
)

var (
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown provider or conversation.
	ErrNotFound = errors.New("not found")
)

const maxTemperature = 2.0

// Conversations reads and appends conversation history.
type Conversations interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	AppendTurns(ctx context.Context, turns ...*store.Turn) error
}

// ContextBuilder assembles per-request context.
type ContextBuilder interface {
	BuildContext(ctx context.Context, userID string, opts contextmgr.Options) (*contextmgr.AssembledContext, error)
	GenerateSummary(ctx context.Context, conversationID string) string
}

// Router dispatches a request to a provider.
type Router interface {
	Route(ctx context.Context, req *router.Request) (*router.Result, error)
}

// Providers lists registered providers.
type Providers interface {
	Get(id string) (registry.ProviderConfig, error)
	List() []registry.ProviderConfig
}

// Health returns the effective health of a provider.
type Health interface {
	Effective(id string) *heartbeat.HealthStatus
}

// Usage returns ledger counters.
type Usage interface {
	Totals(id string) ledger.ProviderTotals
	UserToday(userID string) ledger.UserTotals
}

// Options customize one GenerateResponse call.
type Options struct {
	ConceptID             string
	PreferredProviderType registry.ProviderType
	Model                 string
	MaxTokens             int
	Temperature           *float64
}

// ContextInfo describes the context sent with the request and how it was routed.
type ContextInfo struct {
	Turns            int      `json:"turns"`
	Chunks           int      `json:"chunks"`
	Recap            bool     `json:"recap"`
	TotalTokens      int      `json:"total_tokens"`
	CompressionLevel int      `json:"compression_level"`
	Attempts         int      `json:"attempts"`
	FallbacksUsed    []string `json:"fallbacks_used"`
}

// Response is the result of GenerateResponse.
type Response struct {
	Reply            string      `json:"reply"`
	ProviderUsed     string      `json:"provider_used"`
	ModelUsed        string      `json:"model_used"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	Tokens           int         `json:"tokens"`
	Cost             float64     `json:"cost"`
	RequestID        string      `json:"request_id"`
	ContextInfo      ContextInfo `json:"context_info"`
}

// ProviderStatus is the read-only status view of one provider.
type ProviderStatus struct {
	ID                   string                   `json:"id"`
	Name                 string                   `json:"name"`
	Type                 registry.ProviderType    `json:"type"`
	Enabled              bool                     `json:"enabled"`
	Priority             int                      `json:"priority"`
	HealthStatus         heartbeat.ProviderStatus `json:"health_status"`
	LastChecked          *time.Time               `json:"last_checked,omitempty"`
	ErrorKind            provider.Kind            `json:"error_kind,omitempty"`
	ErrorMessage         string                   `json:"error_message,omitempty"`
	RequestsLastMinute   int                      `json:"requests_last_minute"`
	RequestsToday        int                      `json:"requests_today"`
	CostToday            float64                  `json:"cost_today"`
	MaxRequestsPerMinute int                      `json:"max_requests_per_minute"`
	MaxCostPerDay        float64                  `json:"max_cost_per_day"`
	OverLimit            bool                     `json:"over_limit"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	conversations Conversations
	contexts      ContextBuilder
	router        Router
	providers     Providers
	health        Health
	usage         Usage

	chunks   contextstore.Store
	embedder contextstore.Embedder

	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChunkIndexing stores every appended turn as a context chunk.
func WithChunkIndexing(chunks contextstore.Store, embedder contextstore.Embedder) Option {
	return func(o *Orchestrator) {
		o.chunks = chunks
		o.embedder = embedder
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(conversations Conversations, contexts ContextBuilder, r Router, providers Providers, health Health, usage Usage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conversations: conversations,
		contexts:      contexts,
		router:        r,
		providers:     providers,
		health:        health,
		usage:         usage,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateConversation starts a conversation owned by userID.
func (o *Orchestrator) CreateConversation(ctx context.Context, userID, conceptID, title string) (store.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.Conversation{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	conv := store.Conversation{UserID: userID, ConceptID: strings.TrimSpace(conceptID), Title: title}
	if err := o.conversations.CreateConversation(ctx, &conv); err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func validate(conversationID, message string, opts Options) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if opts.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must not be negative", ErrValidation)
	}
	if opts.Temperature != nil && (*opts.Temperature < 0 || *opts.Temperature > maxTemperature) {
		return fmt.Errorf("%w: temperature must be between 0 and %.0f", ErrValidation, maxTemperature)
	}
	if opts.PreferredProviderType != "" && !opts.PreferredProviderType.IsSupported() {
		return fmt.Errorf("%w: unsupported provider type %q", ErrValidation, opts.PreferredProviderType)
	}
	return nil
}

// GenerateResponse answers message within conversationID. Provider failures
// are recovered by the router; only exhaustion is returned, as a
// *router.ExhaustedError.
func (o *Orchestrator) GenerateResponse(ctx context.Context, conversationID, message string, opts Options) (*Response, error) {
	if err := validate(conversationID, message, opts); err != nil {
		return nil, err
	}
	conv, err := o.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown conversation %s", ErrValidation, conversationID)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	received := o.now()
	conceptID := opts.ConceptID
	if conceptID == "" {
		conceptID = conv.ConceptID
	}

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := log.WithFields(log.Fields{"request_id": requestID, "conversation": conversationID})

	assembled, err := o.contexts.BuildContext(ctx, conv.UserID, contextmgr.Options{
		ConversationID: conversationID,
		Message:        message,
		ConceptID:      conceptID,
	})
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	result, err := o.router.Route(ctx, &router.Request{
		Model:         opts.Model,
		Messages:      messages(assembled, message),
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		PreferredType: opts.PreferredProviderType,
		Subject: steering.Subject{
			UserID:          conv.UserID,
			ConceptID:       conceptID,
			ExperienceLevel: assembled.Profile.ExperienceLevel,
		},
		ConversationID: conversationID,
		RequestID:      requestID,
	})
	if err != nil {
		logger.Warnf("orchestrator: no provider could answer: %v", err)
		return nil, err
	}

	comp := result.Completion
	replied := o.now()
	if !replied.After(received) {
		// Keeps the reply ordered after the message it answers.
		replied = received.Add(time.Nanosecond)
	}
	userTurn := &store.Turn{ConversationID: conversationID, Role: "user", Content: message, CreatedAt: received}
	replyTurn := &store.Turn{
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        comp.Text,
		ProviderID:     result.Provider.ID,
		Model:          comp.Model,
		Tokens:         comp.CompletionTokens,
		CreatedAt:      replied,
	}
	// The reply is already paid for; a client disconnect must not lose it.
	writeCtx := context.WithoutCancel(ctx)
	if err := o.conversations.AppendTurns(writeCtx, userTurn, replyTurn); err != nil {
		logger.Errorf("orchestrator: failed to append turns: %v", err)
	} else {
		o.index(writeCtx, conv.UserID, conceptID, userTurn, replyTurn)
	}

	return &Response{
		Reply:            comp.Text,
		ProviderUsed:     result.Provider.ID,
		ModelUsed:        comp.Model,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
		Tokens:           comp.TotalTokens,
		Cost:             result.Cost,
		RequestID:        requestID,
		ContextInfo: ContextInfo{
			Turns:            len(assembled.Turns),
			Chunks:           len(assembled.Chunks),
			Recap:            assembled.Recap != "",
			TotalTokens:      assembled.TotalTokens,
			CompressionLevel: assembled.Metadata.CompressionLevel,
			Attempts:         result.Attempts,
			FallbacksUsed:    append([]string{}, result.FallbacksUsed...),
		},
	}, nil
}

// messages lays out the upstream chat: the rendered context as a system
// message, the retained turns, then the new user message.
func messages(c *contextmgr.AssembledContext, message string) []provider.Message {
	out := make([]provider.Message, 0, len(c.Turns)+2)
	if system := c.Render(); system != "" {
		out = append(out, provider.Message{Role: "system", Content: system})
	}
	for _, t := range c.Turns {
		out = append(out, provider.Message{Role: t.Role, Content: t.Content})
	}
	return append(out, provider.Message{Role: "user", Content: message})
}

// index stores turns as context chunks. Failures only cost future recall.
func (o *Orchestrator) index(ctx context.Context, userID, conceptID string, turns ...*store.Turn) {
	if o.chunks == nil || o.embedder == nil {
		return
	}
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		vec, err := o.embedder.Embed(ctx, t.Content)
		if err != nil {
			log.WithField("turn", t.ID).Warnf("orchestrator: embedding failed: %v", err)
			return
		}
		err = o.chunks.Store(ctx, contextstore.ContextChunk{
			ID:             uuid.NewString(),
			UserID:         userID,
			ConversationID: t.ConversationID,
			TurnID:         t.ID,
			ConceptID:      conceptID,
			Content:        t.Content,
			Embedding:      vec,
			Timestamp:      t.CreatedAt,
		})
		if err != nil {
			log.WithField("turn", t.ID).Warnf("orchestrator: storing context chunk failed: %v", err)
		}
	}
}

// GetStatus returns the status of providerID, or of every provider when
// providerID is empty.
func (o *Orchestrator) GetStatus(providerID string) ([]ProviderStatus, error) {
	if providerID != "" {
		cfg, err := o.providers.Get(providerID)
		if err != nil {
			return nil, fmt.Errorf("%w: provider %s", ErrNotFound, providerID)
		}
		return []ProviderStatus{o.status(cfg)}, nil
	}
	list := o.providers.List()
	out := make([]ProviderStatus, 0, len(list))
	for _, cfg := range list {
		out = append(out, o.status(cfg))
	}
	return out, nil
}

func (o *Orchestrator) status(cfg registry.ProviderConfig) ProviderStatus {
	st := ProviderStatus{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Type:     cfg.Type,
		Enabled:  cfg.Enabled,
		Priority: cfg.Priority,
	}
	if h := o.health.Effective(cfg.ID); h != nil {
		st.HealthStatus = h.Status
		st.ErrorKind = h.ErrorKind
		st.ErrorMessage = h.ErrorMessage
		if !h.LastChecked.IsZero() {
			checked := h.LastChecked
			st.LastChecked = &checked
		}
	}
	t := o.usage.Totals(cfg.ID)
	st.RequestsLastMinute = t.RequestsLastMinute
	st.RequestsToday = t.RequestsToday
	st.CostToday = t.CostToday
	st.MaxRequestsPerMinute = t.MaxRequestsPerMinute
	st.MaxCostPerDay = t.MaxCostPerDay
	st.OverLimit = t.OverLimit
	return st
}

// Summary returns the short summary of a conversation.
func (o *Orchestrator) Summary(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if _, err := o.conversations.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		return "", err
	}
	return o.contexts.GenerateSummary(ctx, conversationID), nil
}

// UserUsage returns a user's usage since midnight.
func (o *Orchestrator) UserUsage(userID string) ledger.UserTotals {
	return o.usage.UserToday(userID)
}
