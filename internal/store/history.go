// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Conversation binds a sequence of turns to a user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ConceptID string    `json:"concept_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one message in a conversation.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ProviderID     string    `json:"provider_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	Tokens         int       `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation inserts conv, assigning an id and timestamps when empty.
func (s *DB) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.UserID == "" {
		return fmt.Errorf("conversation requires a user id")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, user_id, concept_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.UserID, conv.ConceptID, conv.Title, toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with id or ErrNotFound.
func (s *DB) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var (
		conv             Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, user_id, concept_id, title, created_at, updated_at FROM conversations WHERE id = ?`), id).
		Scan(&conv.ID, &conv.UserID, &conv.ConceptID, &conv.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return conv, nil
}

// AppendTurns stores turns and bumps the conversation's updated_at in one
// transaction.
func (s *DB) AppendTurns(ctx context.Context, turns ...*Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if errRollback := tx.Rollback(); errRollback != nil {
				log.Errorf("store: rollback error: %v", errRollback)
			}
		}
	}()

	insert := s.rebind(`INSERT INTO turns (id, conversation_id, role, content, provider_id, model, tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	touch := s.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`)
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if _, err = tx.ExecContext(ctx, insert, t.ID, t.ConversationID, t.Role, t.Content, t.ProviderID, t.Model, t.Tokens, toNanos(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		if _, err = tx.ExecContext(ctx, touch, toNanos(t.CreatedAt), t.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

// RecentTurns returns at most limit of the latest turns, most recent last.
// A limit <= 0 returns the whole conversation.
func (s *DB) RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	query := `SELECT id, conversation_id, role, content, provider_id, model, tokens, created_at FROM turns WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			created int64
		)
		if err = rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.ProviderID, &t.Model, &t.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = fromNanos(created)
		turns = append(turns, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
