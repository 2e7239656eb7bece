// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package contextstore

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ChunkRepository persists chunks durably.
type ChunkRepository interface {
	SaveChunk(ctx context.Context, chunk ContextChunk) error
	LoadChunks(ctx context.Context) ([]ContextChunk, error)
}

// PersistentStore writes chunks through to a repository and serves queries
// from the in-memory index.
type PersistentStore struct {
	*MemoryStore
	repo ChunkRepository
}

// NewPersistentStore loads existing chunks from repo into a fresh index.
// Chunks whose dimension does not match are skipped.
func NewPersistentStore(ctx context.Context, dim int, repo ChunkRepository) (*PersistentStore, error) {
	ps := &PersistentStore{MemoryStore: NewMemoryStore(dim), repo: repo}
	chunks, err := repo.LoadChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load context chunks: %w", err)
	}
	skipped := 0
	for _, c := range chunks {
		if errStore := ps.MemoryStore.Store(ctx, c); errStore != nil {
			skipped++
		}
	}
	if skipped > 0 {
		log.Warnf("contextstore: skipped %d persisted chunks with invalid embeddings", skipped)
	}
	log.Debugf("contextstore: loaded %d chunks", len(chunks)-skipped)
	return ps, nil
}

// Store persists chunk and then indexes it.
func (ps *PersistentStore) Store(ctx context.Context, chunk ContextChunk) error {
	if err := ps.validate(&chunk); err != nil {
		return err
	}
	if err := ps.repo.SaveChunk(ctx, chunk); err != nil {
		return fmt.Errorf("persist context chunk: %w", err)
	}
	return ps.MemoryStore.Store(ctx, chunk)
}
