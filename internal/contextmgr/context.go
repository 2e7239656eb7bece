// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package contextmgr assembles the bounded-size context sent with a request:
// the user profile, recent conversation turns, semantically recalled chunks
// and an optional recap, compressed to fit a token budget.
package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
	"github.com/traylinx/switchAIOrchestrator/internal/tokens"
)

// Compression levels recorded in Metadata.CompressionLevel.
const (
	LevelNone = iota
	// LevelDroppedChunks means low-relevance chunks were dropped.
	LevelDroppedChunks
	// LevelSummarizedTurns means older turns were folded into the compacted entry.
	LevelSummarizedTurns
	// LevelTrimmedSummaries means the recap was dropped and the compacted entry truncated.
	LevelTrimmedSummaries
	// LevelMinimal means only the most recent turn was kept verbatim.
	LevelMinimal
)

// HistoryStore reads conversation history.
type HistoryStore interface {
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]store.Turn, error)
}

// ProfileStore reads user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
}

// Settings are the deployment defaults for context assembly.
type Settings struct {
	HistoryLimit        int
	SemanticLimit       int
	MinScore            float64
	PreserveRecentTurns int
	RecapAfter          time.Duration
	MaxTokens           int
}

// SettingsFromConfig converts the context configuration section.
func SettingsFromConfig(cfg config.ContextConfig) Settings {
	return Settings{
		HistoryLimit:        cfg.HistoryLimit,
		SemanticLimit:       cfg.SemanticLimit,
		MinScore:            cfg.MinScore,
		PreserveRecentTurns: cfg.PreserveRecentTurns,
		RecapAfter:          config.ParseDurationOr(cfg.RecapAfter, 6*time.Hour),
		MaxTokens:           cfg.MaxTokens,
	}
}

// Options customize a single BuildContext call. Zero values use Settings.
type Options struct {
	ConversationID string
	Message        string
	ConceptID      string
	HistoryLimit   int
	SemanticLimit  int
	MinScore       float64
	MaxTokens      int
	IncludeRecap   bool
}

// Metadata describes how the context was produced.
type Metadata struct {
	CompressionLevel int    `json:"compression_level"`
	TargetTokens     int    `json:"target_tokens,omitempty"`
	DroppedChunks    int    `json:"dropped_chunks,omitempty"`
	SummarizedTurns  int    `json:"summarized_turns,omitempty"`
	Estimator        string `json:"estimator"`
}

// AssembledContext is the per-request context. Turns are ordered most recent
// last and Chunks by relevance descending.
type AssembledContext struct {
	UserID      string                      `json:"user_id"`
	Profile     store.Profile               `json:"profile"`
	Turns       []store.Turn                `json:"turns"`
	Chunks      []contextstore.ContextChunk `json:"chunks"`
	Recap       string                      `json:"recap,omitempty"`
	Compacted   string                      `json:"compacted,omitempty"`
	TotalTokens int                         `json:"total_tokens"`
	Metadata    Metadata                    `json:"metadata"`
}

func (c *AssembledContext) clone() *AssembledContext {
	out := *c
	out.Turns = append([]store.Turn(nil), c.Turns...)
	out.Chunks = append([]contextstore.ContextChunk(nil), c.Chunks...)
	return &out
}

// Manager builds and compresses contexts.
type Manager struct {
	history   HistoryStore
	profiles  ProfileStore
	chunks    contextstore.Store
	embedder  contextstore.Embedder
	estimator tokens.Estimator
	settings  Settings
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSemanticRecall enables retrieval of relevant chunks.
func WithSemanticRecall(chunks contextstore.Store, embedder contextstore.Embedder) Option {
	return func(m *Manager) {
		m.chunks = chunks
		m.embedder = embedder
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a context manager.
func NewManager(history HistoryStore, profiles ProfileStore, estimator tokens.Estimator, settings Settings, opts ...Option) *Manager {
	if estimator == nil {
		estimator = tokens.Simple{}
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 20
	}
	if settings.PreserveRecentTurns <= 0 {
		settings.PreserveRecentTurns = 1
	}
	if settings.RecapAfter <= 0 {
		settings.RecapAfter = 6 * time.Hour
	}
	m := &Manager{
		history:   history,
		profiles:  profiles,
		estimator: estimator,
		settings:  settings,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuildContext assembles the context for userID. When the estimated size
// exceeds the token budget the context is compressed.
func (m *Manager) BuildContext(ctx context.Context, userID string, opts Options) (*AssembledContext, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = m.settings.HistoryLimit
	}
	semanticLimit := opts.SemanticLimit
	if semanticLimit <= 0 {
		semanticLimit = m.settings.SemanticLimit
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = m.settings.MinScore
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.settings.MaxTokens
	}

	out := &AssembledContext{UserID: userID, Metadata: Metadata{Estimator: m.estimator.Method()}}

	profile, err := m.profiles.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		profile = store.Profile{UserID: userID}
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	}
	out.Profile = profile

	if opts.ConversationID != "" {
		turns, errTurns := m.history.RecentTurns(ctx, opts.ConversationID, historyLimit)
		if errTurns != nil {
			return nil, fmt.Errorf("load history: %w", errTurns)
		}
		out.Turns = turns
	}

	if semanticLimit > 0 && opts.Message != "" && m.chunks != nil && m.embedder != nil {
		out.Chunks = m.recall(ctx, userID, opts, out.Turns, semanticLimit, minScore)
	}

	if n := len(out.Turns); n > 0 && (opts.IncludeRecap || m.now().Sub(out.Turns[n-1].CreatedAt) >= m.settings.RecapAfter) {
		out.Recap = summarizeTurns(out.Turns)
	}

	out.TotalTokens = m.tally(out)
	if maxTokens > 0 && out.TotalTokens > maxTokens {
		return m.CompressContext(out, maxTokens), nil
	}
	return out, nil
}

// recall queries the embedding store. Failures degrade to no recall.
func (m *Manager) recall(ctx context.Context, userID string, opts Options, turns []store.Turn, limit int, minScore float64) []contextstore.ContextChunk {
	emb, err := m.embedder.Embed(ctx, opts.Message)
	if err != nil {
		log.WithField("user", userID).Warnf("contextmgr: embedding failed, skipping semantic recall: %v", err)
		return nil
	}
	loaded := make(map[string]struct{}, len(turns))
	for _, t := range turns {
		loaded[t.ID] = struct{}{}
	}
	found, err := m.chunks.Query(ctx, userID, emb, contextstore.Filter{ConceptID: opts.ConceptID}, limit+len(turns), minScore)
	if err != nil {
		log.WithField("user", userID).Warnf("contextmgr: semantic recall failed: %v", err)
		return nil
	}
	out := make([]contextstore.ContextChunk, 0, limit)
	for _, c := range found {
		if _, dup := loaded[c.TurnID]; dup {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// tally returns the token estimate of every component of c.
func (m *Manager) tally(c *AssembledContext) int {
	total := m.estimator.Count(renderProfile(c.Profile))
	for _, t := range c.Turns {
		total += m.estimator.Count(renderTurn(t))
	}
	for _, ch := range c.Chunks {
		total += m.estimator.Count(ch.Content)
	}
	total += m.estimator.Count(c.Recap)
	total += m.estimator.Count(c.Compacted)
	return total
}

// CompressContext reduces c to fit targetTokens. The profile is always kept,
// recent turns stay verbatim, and chunks are dropped lowest relevance first
// before older turns are folded into a single compacted entry. A context that
// already fits is returned unchanged.
func (m *Manager) CompressContext(c *AssembledContext, targetTokens int) *AssembledContext {
	out := c.clone()
	out.TotalTokens = m.tally(out)
	if targetTokens <= 0 || out.TotalTokens <= targetTokens {
		return out
	}
	out.Metadata.TargetTokens = targetTokens

	sort.SliceStable(out.Chunks, func(i, j int) bool { return out.Chunks[i].Score > out.Chunks[j].Score })
	ranked := append([]contextstore.ContextChunk(nil), out.Chunks...)
	level := LevelNone
	finish := func(l int) *AssembledContext {
		if l > out.Metadata.CompressionLevel {
			out.Metadata.CompressionLevel = l
		}
		out.Metadata.DroppedChunks += len(ranked) - len(out.Chunks)
		out.TotalTokens = m.tally(out)
		return out
	}

	// Level 1: drop the least relevant chunks.
	if len(ranked) > 0 {
		level = LevelDroppedChunks
		if m.fitChunks(out, ranked, targetTokens) {
			return finish(level)
		}
	}

	// Level 2: fold turns outside the preserved window into the compacted entry.
	if keep := m.settings.PreserveRecentTurns; len(out.Turns) > keep {
		m.fold(out, len(out.Turns)-keep)
		level = LevelSummarizedTurns
		if m.fitChunks(out, ranked, targetTokens) {
			return finish(level)
		}
	}

	// Level 3: drop the recap and truncate the compacted entry.
	if out.Recap != "" || out.Compacted != "" {
		out.Recap = ""
		out.Chunks = nil
		out.Compacted = m.truncate(out.Compacted, targetTokens-m.tally(out)+m.estimator.Count(out.Compacted))
		level = LevelTrimmedSummaries
		if m.fitChunks(out, ranked, targetTokens) {
			return finish(level)
		}
	}

	// Level 4: keep only the most recent turn verbatim.
	if len(out.Turns) > 1 {
		m.fold(out, len(out.Turns)-1)
		out.Recap = ""
		out.Chunks = nil
		out.Compacted = m.truncate(out.Compacted, targetTokens-m.tally(out)+m.estimator.Count(out.Compacted))
		level = LevelMinimal
		m.fitChunks(out, ranked, targetTokens)
	}
	return finish(level)
}

// fitChunks keeps the longest prefix of ranked that fits the budget.
func (m *Manager) fitChunks(c *AssembledContext, ranked []contextstore.ContextChunk, target int) bool {
	c.Chunks = nil
	used := m.tally(c)
	if used > target {
		return false
	}
	for _, ch := range ranked {
		n := m.estimator.Count(ch.Content)
		if used+n > target {
			break
		}
		used += n
		c.Chunks = append(c.Chunks, ch)
	}
	return true
}

// fold moves the n oldest turns into the compacted entry.
func (m *Manager) fold(c *AssembledContext, n int) {
	if n <= 0 {
		return
	}
	parts := make([]string, 0, n+1)
	if c.Compacted != "" {
		parts = append(parts, strings.TrimSuffix(c.Compacted, "."))
	}
	for _, t := range c.Turns[:n] {
		parts = append(parts, t.Role+": "+firstSentence(t.Content, topicWords))
	}
	c.Compacted = strings.Join(parts, "; ") + "."
	c.Turns = append([]store.Turn(nil), c.Turns[n:]...)
	c.Metadata.SummarizedTurns += n
}

// truncate cuts text to the longest word prefix estimated at or under budget.
func (m *Manager) truncate(text string, budget int) string {
	if budget <= 0 || text == "" {
		return ""
	}
	if m.estimator.Count(text) <= budget {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.estimator.Count(strings.Join(words[:mid], " ")) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}

func renderProfile(p store.Profile) string {
	var b strings.Builder
	b.WriteString("User")
	if p.Name != "" {
		b.WriteString(" " + p.Name)
	}
	if p.ExperienceLevel != "" {
		b.WriteString(", experience level " + p.ExperienceLevel)
	}
	if len(p.Interests) > 0 {
		b.WriteString(", interested in " + strings.Join(p.Interests, ", "))
	}
	if len(p.Preferences) > 0 {
		keys := make([]string, 0, len(p.Preferences))
		for k := range p.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		prefs := make([]string, 0, len(keys))
		for _, k := range keys {
			prefs = append(prefs, k+"="+p.Preferences[k])
		}
		b.WriteString(", preferences " + strings.Join(prefs, " "))
	}
	b.WriteString(".")
	return b.String()
}

func renderTurn(t store.Turn) string {
	return t.Role + ": " + t.Content
}

// Render flattens the context into a system prompt preamble.
func (c *AssembledContext) Render() string {
	var b strings.Builder
	b.WriteString(renderProfile(c.Profile))
	if c.Recap != "" {
		b.WriteString("\n\nRecap: " + c.Recap)
	}
	if c.Compacted != "" {
		b.WriteString("\n\nEarlier in this conversation: " + c.Compacted)
	}
	if len(c.Chunks) > 0 {
		b.WriteString("\n\nRelevant notes from past conversations:")
		for _, ch := range c.Chunks {
			b.WriteString("\n- " + ch.Content)
		}
	}
	return b.String()
}
