// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
)

// SaveChunk persists a context chunk. The embedding is stored as a JSON array.
func (s *DB) SaveChunk(ctx context.Context, c contextstore.ContextChunk) error {
	emb, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO chunks (id, user_id, conversation_id, turn_id, concept_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		c.ID, c.UserID, c.ConversationID, c.TurnID, c.ConceptID, c.Content, string(emb), toNanos(c.Timestamp))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// LoadChunks returns every persisted chunk, oldest first. Rows with an
// undecodable embedding are skipped.
func (s *DB) LoadChunks(ctx context.Context) ([]contextstore.ContextChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, conversation_id, turn_id, concept_id, content, embedding, created_at FROM chunks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []contextstore.ContextChunk
	for rows.Next() {
		var (
			c       contextstore.ContextChunk
			emb     string
			created int64
		)
		if err = rows.Scan(&c.ID, &c.UserID, &c.ConversationID, &c.TurnID, &c.ConceptID, &c.Content, &emb, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if errDecode := json.Unmarshal([]byte(emb), &c.Embedding); errDecode != nil {
			log.Warnf("store: skipping chunk %s with invalid embedding: %v", c.ID, errDecode)
			continue
		}
		c.Timestamp = fromNanos(created)
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
