// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package contextstore stores embedded conversation turns and retrieves the
// ones most similar to a query embedding. Results never cross user boundaries.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDimensionMismatch is returned when an embedding has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidChunk is returned for chunks missing an owner or embedding.
	ErrInvalidChunk = errors.New("invalid context chunk")
)

// ContextChunk is a stored unit of semantic memory.
type ContextChunk struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	ConceptID      string    `json:"concept_id,omitempty"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	Timestamp      time.Time `json:"timestamp"`

	// Score is the relevance in [0,1], set only on query results.
	Score float64 `json:"score,omitempty"`
}

// Filter restricts a query. Zero values do not filter.
type Filter struct {
	ConceptID string
	Since     time.Time
	Until     time.Time
	// ExcludeConversation skips chunks of one conversation, typically the
	// current one whose recent turns are already in the context.
	ExcludeConversation string
}

func (f Filter) match(c *ContextChunk) bool {
	if f.ConceptID != "" && c.ConceptID != f.ConceptID {
		return false
	}
	if !f.Since.IsZero() && c.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && c.Timestamp.After(f.Until) {
		return false
	}
	if f.ExcludeConversation != "" && c.ConversationID == f.ExcludeConversation {
		return false
	}
	return true
}

// Store is the retrieval contract used by the context manager.
type Store interface {
	Store(ctx context.Context, chunk ContextChunk) error
	Query(ctx context.Context, userID string, embedding []float32, filter Filter, limit int, minScore float64) ([]ContextChunk, error)
}

// MemoryStore keeps one index per user in memory.
type MemoryStore struct {
	dim int

	mu    sync.RWMutex
	users map[string][]ContextChunk
}

// NewMemoryStore creates a store for embeddings of length dim.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, users: make(map[string][]ContextChunk)}
}

// Dimension returns the fixed embedding length.
func (s *MemoryStore) Dimension() int { return s.dim }

func (s *MemoryStore) validate(chunk *ContextChunk) error {
	if strings.TrimSpace(chunk.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidChunk)
	}
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: missing embedding", ErrInvalidChunk)
	}
	if len(chunk.Embedding) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(chunk.Embedding), s.dim)
	}
	return nil
}

// Store adds chunk to its owner's index. The chunk is copied before it
// becomes visible to queries.
func (s *MemoryStore) Store(_ context.Context, chunk ContextChunk) error {
	if err := s.validate(&chunk); err != nil {
		return err
	}
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	chunk.Score = 0
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.users[chunk.UserID] = append(s.users[chunk.UserID], chunk)
	s.mu.Unlock()
	return nil
}

// Query returns up to limit chunks of userID with relevance >= minScore,
// ordered by relevance descending and then by recency.
func (s *MemoryStore) Query(ctx context.Context, userID string, embedding []float32, filter Filter, limit int, minScore float64) ([]ContextChunk, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim)
	}
	if limit <= 0 || userID == "" {
		return nil, nil
	}
	queryNorm := norm(embedding)

	s.mu.RLock()
	candidates := s.users[userID]
	results := make([]ContextChunk, 0, min(limit, len(candidates)))
	for i := range candidates {
		if i%256 == 0 && ctx.Err() != nil {
			s.mu.RUnlock()
			return nil, ctx.Err()
		}
		c := &candidates[i]
		if !filter.match(c) {
			continue
		}
		score := Relevance(embedding, queryNorm, c.Embedding)
		if score < minScore {
			continue
		}
		out := *c
		out.Embedding = nil
		out.Score = score
		results = append(results, out)
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Len returns the number of chunks stored for userID.
func (s *MemoryStore) Len(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// Relevance maps cosine similarity from [-1,1] onto [0,1].
func Relevance(query []float32, queryNorm float64, stored []float32) float64 {
	if len(query) != len(stored) {
		return 0
	}
	storedNorm := norm(stored)
	if queryNorm == 0 || storedNorm == 0 {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(stored[i])
	}
	cos := dot / (queryNorm * storedNorm)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return (cos + 1) / 2
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
