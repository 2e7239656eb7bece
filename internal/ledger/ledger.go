// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ledger accumulates per-provider and per-user usage: requests in the
// last minute, spend and requests for the current calendar day, and token totals.
// Writes are serialized per provider; persistence is best effort and asynchronous.
package ledger

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

// rateWindow is the length of the sliding request-rate window.
const rateWindow = time.Minute

// UsageRecord describes one provider attempt, successful or not.
type UsageRecord struct {
	ID               string        `json:"id"`
	ProviderID       string        `json:"provider_id"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Cost             float64       `json:"cost"`
	ResponseTime     time.Duration `json:"response_time"`
	Success          bool          `json:"success"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	UserID           string        `json:"user_id,omitempty"`
	ConversationID   string        `json:"conversation_id,omitempty"`
	ConceptID        string        `json:"concept_id,omitempty"`
	RequestID        string        `json:"request_id,omitempty"`
}

// LimitSource provides the configured ceilings of a provider.
type LimitSource interface {
	Get(id string) (registry.ProviderConfig, error)
}

// ProviderTotals is a point-in-time view of one provider's counters.
type ProviderTotals struct {
	ProviderID           string  `json:"provider_id"`
	RequestsLastMinute   int     `json:"requests_last_minute"`
	RequestsToday        int     `json:"requests_today"`
	FailuresToday        int     `json:"failures_today"`
	TokensToday          int     `json:"tokens_today"`
	CostToday            float64 `json:"cost_today"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	MaxCostPerDay        float64 `json:"max_cost_per_day"`
	OverLimit            bool    `json:"over_limit"`
}

// UserTotals is a user's usage for the current day.
type UserTotals struct {
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// book holds the counters of one provider. Its mutex serializes writers.
type book struct {
	mu       sync.Mutex
	recent   []time.Time
	day      string
	requests int
	failures int
	tokens   int
	cost     float64
}

// Ledger is safe for concurrent use.
type Ledger struct {
	limits LimitSource
	loc    *time.Location
	now    func() time.Time
	sink   *Writer

	mu    sync.RWMutex
	books map[string]*book

	userMu  sync.Mutex
	userDay string
	users   map[string]*UserTotals
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithWriter forwards every recorded usage to w for persistence.
func WithWriter(w *Writer) Option {
	return func(l *Ledger) { l.sink = w }
}

// New creates a ledger. Daily windows reset at midnight in loc (UTC when nil).
func New(limits LimitSource, loc *time.Location, opts ...Option) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	l := &Ledger{
		limits: limits,
		loc:    loc,
		now:    time.Now,
		books:  make(map[string]*book),
		users:  make(map[string]*UserTotals),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) dayKey(t time.Time) string {
	return t.In(l.loc).Format("2006-01-02")
}

// StartOfDay returns the beginning of the current ledger day.
func (l *Ledger) StartOfDay() time.Time {
	now := l.now().In(l.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
}

func (l *Ledger) book(id string) *book {
	l.mu.RLock()
	b, ok := l.books[id]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[id]; !ok {
		b = &book{}
		l.books[id] = b
	}
	return b
}

// RecordUsage applies rec to the counters and queues it for persistence.
// It never blocks on storage.
func (l *Ledger) RecordUsage(rec UsageRecord) {
	if rec.ProviderID == "" {
		log.Warn("ledger: dropping usage record without provider id")
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	l.apply(rec)
	if l.sink != nil {
		l.sink.Enqueue(rec)
	}
}

// Replay applies historical records without persisting them again.
// Used to warm the counters from the usage log at startup.
func (l *Ledger) Replay(records []UsageRecord) {
	for _, rec := range records {
		if rec.ProviderID == "" {
			continue
		}
		l.apply(rec)
	}
}

func (l *Ledger) apply(rec UsageRecord) {
	now := l.now()
	today := l.dayKey(now)
	recDay := l.dayKey(rec.Timestamp)

	b := l.book(rec.ProviderID)
	b.mu.Lock()
	b.rollover(today)
	if now.Sub(rec.Timestamp) < rateWindow {
		b.recent = append(b.recent, rec.Timestamp)
	}
	if recDay == today {
		b.requests++
		if !rec.Success {
			b.failures++
		}
		b.tokens += rec.TotalTokens
		b.cost += rec.Cost
	}
	b.mu.Unlock()

	if rec.UserID != "" && recDay == today {
		l.userMu.Lock()
		if l.userDay != today {
			l.userDay = today
			l.users = make(map[string]*UserTotals)
		}
		u, ok := l.users[rec.UserID]
		if !ok {
			u = &UserTotals{}
			l.users[rec.UserID] = u
		}
		u.Requests++
		u.Tokens += rec.TotalTokens
		u.Cost += rec.Cost
		l.userMu.Unlock()
	}
}

// rollover resets daily counters when the day changed. Caller holds b.mu.
func (b *book) rollover(today string) {
	if b.day == today {
		return
	}
	b.day = today
	b.requests = 0
	b.failures = 0
	b.tokens = 0
	b.cost = 0
}

// prune drops timestamps outside the rate window. Caller holds b.mu.
func (b *book) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	kept := b.recent[:0]
	for _, ts := range b.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.recent = kept
}

// RequestsInLastMinute counts attempts against id in the last 60 seconds.
func (l *Ledger) RequestsInLastMinute(id string) int {
	now := l.now()
	b := l.book(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	return len(b.recent)
}

// CostToday returns the spend against id since midnight.
func (l *Ledger) CostToday(id string) float64 {
	return l.Totals(id).CostToday
}

// RequestsToday returns the attempts against id since midnight.
func (l *Ledger) RequestsToday(id string) int {
	return l.Totals(id).RequestsToday
}

// IsOverLimit reports whether id reached its per-minute or per-day ceiling.
// Unknown providers are reported as over the limit.
func (l *Ledger) IsOverLimit(id string) bool {
	return l.Totals(id).OverLimit
}

// Totals returns a snapshot of id's counters and ceilings.
func (l *Ledger) Totals(id string) ProviderTotals {
	now := l.now()
	today := l.dayKey(now)
	b := l.book(id)

	b.mu.Lock()
	b.prune(now)
	b.rollover(today)
	t := ProviderTotals{
		ProviderID:         id,
		RequestsLastMinute: len(b.recent),
		RequestsToday:      b.requests,
		FailuresToday:      b.failures,
		TokensToday:        b.tokens,
		CostToday:          b.cost,
	}
	b.mu.Unlock()

	if l.limits == nil {
		return t
	}
	cfg, err := l.limits.Get(id)
	if err != nil {
		t.OverLimit = true
		return t
	}
	t.MaxRequestsPerMinute = cfg.MaxRequestsPerMinute
	t.MaxCostPerDay = cfg.MaxCostPerDay
	t.OverLimit = (cfg.MaxRequestsPerMinute > 0 && t.RequestsLastMinute >= cfg.MaxRequestsPerMinute) ||
		(cfg.MaxCostPerDay > 0 && t.CostToday >= cfg.MaxCostPerDay)
	return t
}

// UserToday returns a user's usage since midnight.
func (l *Ledger) UserToday(userID string) UserTotals {
	today := l.dayKey(l.now())
	l.userMu.Lock()
	defer l.userMu.Unlock()
	if l.userDay != today {
		return UserTotals{}
	}
	if u, ok := l.users[userID]; ok {
		return *u
	}
	return UserTotals{}
}

// UsageSource reads persisted usage records.
type UsageSource interface {
	UsageSince(ctx context.Context, since time.Time) ([]UsageRecord, error)
}

// WarmStart replays today's persisted usage so ceilings survive a restart.
func (l *Ledger) WarmStart(ctx context.Context, src UsageSource) error {
	since := l.StartOfDay()
	if cutoff := l.now().Add(-rateWindow); cutoff.Before(since) {
		since = cutoff
	}
	records, err := src.UsageSince(ctx, since)
	if err != nil {
		return err
	}
	l.Replay(records)
	log.Debugf("ledger: replayed %d usage records since %s", len(records), since.Format(time.RFC3339))
	return nil
}
