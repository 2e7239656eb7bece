// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
	"github.com/traylinx/switchAIOrchestrator/internal/tokens"
)

type fakeHistory struct {
	turns map[string][]store.Turn
	err   error
}

func (f *fakeHistory) RecentTurns(_ context.Context, id string, limit int) ([]store.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	turns := f.turns[id]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]store.Turn(nil), turns...), nil
}

type fakeProfiles struct {
	profiles map[string]store.Profile
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (store.Profile, error) {
	if f.err != nil {
		return store.Profile{}, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

func newTestManager(h *fakeHistory, p *fakeProfiles, now time.Time, opts ...Option) *Manager {
	opts = append(opts, WithClock(func() time.Time { return now }))
	return NewManager(h, p, tokens.Simple{}, Settings{HistoryLimit: 10, SemanticLimit: 3, MinScore: 0.5, PreserveRecentTurns: 2, RecapAfter: 6 * time.Hour}, opts...)
}

func TestBuildContextBrandNewConversation(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	profiles := &fakeProfiles{profiles: map[string]store.Profile{"u1": {UserID: "u1", Name: "Ada", ExperienceLevel: "beginner"}}}
	embedder := contextstore.NewHashEmbedder(32)
	m := newTestManager(&fakeHistory{}, profiles, now, WithSemanticRecall(contextstore.NewMemoryStore(32), embedder))

	got, err := m.BuildContext(context.Background(), "u1", Options{ConversationID: "new", Message: "What is a goroutine?"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Profile.Name)
	assert.Empty(t, got.Turns)
	assert.Empty(t, got.Chunks)
	assert.Empty(t, got.Recap)
	assert.Equal(t, LevelNone, got.Metadata.CompressionLevel)
	assert.Equal(t, tokens.Simple{}.Count(renderProfile(got.Profile)), got.TotalTokens)
}

func TestBuildContextLoadsHistoryAndRecall(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	history := &fakeHistory{turns: map[string][]store.Turn{"c1": {
		{ID: "t1", Role: "user", Content: "explain channels", CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "t2", Role: "assistant", Content: "channels pass values between goroutines", CreatedAt: now.Add(-4 * time.Minute)},
	}}}
	embedder := contextstore.NewHashEmbedder(64)
	chunks := contextstore.NewMemoryStore(64)
	add := func(id, user, turn, text string) {
		emb, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, chunks.Store(ctx, contextstore.ContextChunk{ID: id, UserID: user, TurnID: turn, Content: text, Embedding: emb, Timestamp: now.Add(-48 * time.Hour)}))
	}
	add("k-old", "u1", "old-turn", "buffered channels block when full")
	add("k-loaded", "u1", "t2", "channels pass values between goroutines")
	add("k-other", "u2", "x", "buffered channels block when full")

	m := newTestManager(history, &fakeProfiles{}, now, WithSemanticRecall(chunks, embedder))
	got, err := m.BuildContext(ctx, "u1", Options{ConversationID: "c1", Message: "do buffered channels block when full", MinScore: 0.1})
	require.NoError(t, err)

	assert.Equal(t, "u1", got.Profile.UserID)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "t2", got.Turns[1].ID)
	require.NotEmpty(t, got.Chunks)
	for _, c := range got.Chunks {
		assert.Equal(t, "u1", c.UserID)
		assert.NotEqual(t, "t2", c.TurnID)
	}
	assert.Equal(t, "k-old", got.Chunks[0].ID)
	assert.Empty(t, got.Recap)
	assert.Equal(t, m.tally(got), got.TotalTokens)
}

func TestBuildContextErrors(t *testing.T) {
	now := time.Now()
	m := newTestManager(&fakeHistory{}, &fakeProfiles{err: errors.New("db down")}, now)
	_, err := m.BuildContext(context.Background(), "u1", Options{})
	assert.Error(t, err)

	_, err = m.BuildContext(context.Background(), " ", Options{})
	assert.Error(t, err)

	m = newTestManager(&fakeHistory{err: errors.New("timeout")}, &fakeProfiles{}, now)
	_, err = m.BuildContext(context.Background(), "u1", Options{ConversationID: "c1"})
	assert.Error(t, err)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}
func (failingEmbedder) Dimension() int { return 8 }

func TestBuildContextRecallFailureDegrades(t *testing.T) {
	m := newTestManager(&fakeHistory{}, &fakeProfiles{}, time.Now(), WithSemanticRecall(contextstore.NewMemoryStore(8), failingEmbedder{}))
	got, err := m.BuildContext(context.Background(), "u1", Options{Message: "hello"})
	require.NoError(t, err)
	assert.Empty(t, got.Chunks)
}

func TestBuildContextRecapAfterInactivity(t *testing.T) {
	last := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	history := &fakeHistory{turns: map[string][]store.Turn{"c1": {
		{ID: "t1", Role: "user", Content: "How do I write a worker pool? I have many jobs.", CreatedAt: last.Add(-time.Minute)},
		{ID: "t2", Role: "assistant", Content: "Start N goroutines reading from a jobs channel. Then collect results.", CreatedAt: last},
	}}}

	m := newTestManager(history, &fakeProfiles{}, last.Add(7*time.Hour))
	got, err := m.BuildContext(context.Background(), "u1", Options{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "Topics covered: How do I write a worker pool. Last checkpoint: Start N goroutines reading from a jobs channel.", got.Recap)

	m = newTestManager(history, &fakeProfiles{}, last.Add(time.Hour))
	got, err = m.BuildContext(context.Background(), "u1", Options{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, got.Recap)

	got, err = m.BuildContext(context.Background(), "u1", Options{ConversationID: "c1", IncludeRecap: true})
	require.NoError(t, err)
	assert.NotEmpty(t, got.Recap)
}

func TestBuildContextCompressesToMaxTokens(t *testing.T) {
	now := time.Now()
	var turns []store.Turn
	for i := 0; i < 6; i++ {
		turns = append(turns, store.Turn{ID: fmt.Sprintf("t%d", i), Role: "user", Content: words(30, fmt.Sprintf("w%d", i)), CreatedAt: now.Add(time.Duration(i) * time.Second)})
	}
	m := newTestManager(&fakeHistory{turns: map[string][]store.Turn{"c1": turns}}, &fakeProfiles{}, now)

	got, err := m.BuildContext(context.Background(), "u1", Options{ConversationID: "c1", MaxTokens: 160})
	require.NoError(t, err)
	assert.LessOrEqual(t, got.TotalTokens, 160)
	assert.Equal(t, LevelSummarizedTurns, got.Metadata.CompressionLevel)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, turns[4].Content, got.Turns[0].Content)
	assert.Equal(t, turns[5].Content, got.Turns[1].Content)
	assert.NotEmpty(t, got.Compacted)
	assert.Equal(t, 4, got.Metadata.SummarizedTurns)
}

func TestCompressDropsLowRelevanceChunksFirst(t *testing.T) {
	m := newTestManager(&fakeHistory{}, &fakeProfiles{}, time.Now())
	c := &AssembledContext{
		Profile: store.Profile{UserID: "u1"},
		Turns:   []store.Turn{{Role: "user", Content: words(5, "q")}},
		Chunks: []contextstore.ContextChunk{
			{ID: "low", Content: words(10, "low"), Score: 0.6},
			{ID: "high", Content: words(10, "high"), Score: 0.9},
			{ID: "mid", Content: words(10, "mid"), Score: 0.7},
		},
	}
	c.TotalTokens = m.tally(c)
	target := c.TotalTokens - 10

	got := m.CompressContext(c, target)
	assert.Equal(t, LevelDroppedChunks, got.Metadata.CompressionLevel)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, "high", got.Chunks[0].ID)
	assert.Equal(t, "mid", got.Chunks[1].ID)
	assert.Equal(t, 1, got.Metadata.DroppedChunks)
	assert.LessOrEqual(t, got.TotalTokens, target)
	assert.Len(t, c.Chunks, 3)

	same := m.CompressContext(c, c.TotalTokens)
	assert.Equal(t, LevelNone, same.Metadata.CompressionLevel)
	assert.Len(t, same.Chunks, 3)
}

func TestCompressKeepsOnlyLatestTurnWhenTight(t *testing.T) {
	m := newTestManager(&fakeHistory{}, &fakeProfiles{}, time.Now())
	c := &AssembledContext{
		Profile: store.Profile{UserID: "u1"},
		Turns: []store.Turn{
			{Role: "user", Content: words(40, "a")},
			{Role: "assistant", Content: words(40, "b")},
			{Role: "user", Content: words(40, "c")},
		},
		Recap: words(20, "recap"),
	}
	floor := m.estimator.Count(renderProfile(c.Profile)) + m.estimator.Count(renderTurn(c.Turns[2]))

	got := m.CompressContext(c, floor)
	assert.Equal(t, LevelMinimal, got.Metadata.CompressionLevel)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, c.Turns[2].Content, got.Turns[0].Content)
	assert.Empty(t, got.Recap)
	assert.LessOrEqual(t, got.TotalTokens, floor)
}

func TestCompressProperties(t *testing.T) {
	m := newTestManager(&fakeHistory{}, &fakeProfiles{}, time.Now())
	build := func(turnWords, chunkWords []int, recapWords int) *AssembledContext {
		c := &AssembledContext{Profile: store.Profile{UserID: "u1", Name: "Ada", Interests: []string{"go"}}}
		for i, n := range turnWords {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			c.Turns = append(c.Turns, store.Turn{ID: fmt.Sprintf("t%d", i), Role: role, Content: words(n, fmt.Sprintf("t%d", i))})
		}
		for i, n := range chunkWords {
			c.Chunks = append(c.Chunks, contextstore.ContextChunk{ID: fmt.Sprintf("k%d", i), Content: words(n, "k"), Score: float64((i*7)%11) / 10})
		}
		c.Recap = words(recapWords, "r")
		c.TotalTokens = m.tally(c)
		return c
	}
	floor := func(c *AssembledContext) int {
		n := m.estimator.Count(renderProfile(c.Profile))
		if len(c.Turns) > 0 {
			n += m.estimator.Count(renderTurn(c.Turns[len(c.Turns)-1]))
		}
		return n
	}

	properties := gopter.NewProperties(nil)

	properties.Property("compression is idempotent", prop.ForAll(
		func(turnWords, chunkWords []int, recapWords, target int) bool {
			c := build(turnWords, chunkWords, recapWords)
			once := m.CompressContext(c, target)
			twice := m.CompressContext(once, target)
			return reflect.DeepEqual(once, twice)
		},
		gen.SliceOfN(8, gen.IntRange(1, 40)),
		gen.SliceOfN(6, gen.IntRange(1, 40)),
		gen.IntRange(0, 30),
		gen.IntRange(1, 400),
	))

	properties.Property("compressed size fits any reachable budget", prop.ForAll(
		func(turnWords, chunkWords []int, recapWords, slack int) bool {
			c := build(turnWords, chunkWords, recapWords)
			target := floor(c) + slack
			return m.CompressContext(c, target).TotalTokens <= target
		},
		gen.SliceOfN(8, gen.IntRange(1, 40)),
		gen.SliceOfN(6, gen.IntRange(1, 40)),
		gen.IntRange(0, 30),
		gen.IntRange(0, 300),
	))

	properties.Property("a larger budget leaves a compressed context unchanged", prop.ForAll(
		func(turnWords, chunkWords []int, slack, extra int) bool {
			c := build(turnWords, chunkWords, 5)
			target := floor(c) + slack
			once := m.CompressContext(c, target)
			return reflect.DeepEqual(once, m.CompressContext(once, target+extra))
		},
		gen.SliceOfN(5, gen.IntRange(1, 40)),
		gen.SliceOfN(4, gen.IntRange(1, 40)),
		gen.IntRange(0, 200),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestGenerateSummary(t *testing.T) {
	history := &fakeHistory{turns: map[string][]store.Turn{
		"c1": {
			{Role: "user", Content: "Teach me maps"},
			{Role: "assistant", Content: "Maps are hash tables. They are unordered."},
			{Role: "user", Content: "What about sync.Map?"},
			{Role: "assistant", Content: "Use sync.Map for append-only caches"},
			{Role: "user", Content: "And generics?"},
			{Role: "user", Content: "Constraints too"},
			{Role: "assistant", Content: "Type parameters take constraints"},
		},
		"empty": nil,
	}}
	m := newTestManager(history, &fakeProfiles{}, time.Now())

	assert.Equal(t, "Topics covered: Teach me maps; And generics; Constraints too. Last checkpoint: Type parameters take constraints.",
		m.GenerateSummary(context.Background(), "c1"))
	assert.Equal(t, "", m.GenerateSummary(context.Background(), "empty"))
	assert.Equal(t, "", m.GenerateSummary(context.Background(), ""))

	history.err = errors.New("db down")
	assert.Equal(t, "", m.GenerateSummary(context.Background(), "c1"))
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Hello there. More text", 10, "Hello there"},
		{"  one two three four  ", 2, "one two..."},
		{"", 5, ""},
		{"Why?", 5, "Why"},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.in, tt.max); got != tt.want {
			t.Errorf("firstSentence(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
