// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
)

// AppendUsage writes a batch of usage records in one transaction. Records
// already present are ignored.
func (s *DB) AppendUsage(ctx context.Context, records []ledger.UsageRecord) (err error) {
	if len(records) == 0 {
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

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO usage_log (
		id, provider_id, model, prompt_tokens, completion_tokens, total_tokens, cost, response_time_ms,
		success, error_kind, error_message, user_id, conversation_id, concept_id, request_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			r.ID, r.ProviderID, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.Cost,
			r.ResponseTime.Milliseconds(), r.Success, r.ErrorKind, r.ErrorMessage,
			r.UserID, r.ConversationID, r.ConceptID, r.RequestID, toNanos(r.Timestamp),
		); err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

// UsageSince returns usage records created at or after since, oldest first.
func (s *DB) UsageSince(ctx context.Context, since time.Time) ([]ledger.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		id, provider_id, model, prompt_tokens, completion_tokens, total_tokens, cost, response_time_ms,
		success, error_kind, error_message, user_id, conversation_id, concept_id, request_id, created_at
		FROM usage_log WHERE created_at >= ? ORDER BY created_at`), toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []ledger.UsageRecord
	for rows.Next() {
		var (
			r               ledger.UsageRecord
			respMs, created int64
		)
		if err = rows.Scan(&r.ID, &r.ProviderID, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.Cost,
			&respMs, &r.Success, &r.ErrorKind, &r.ErrorMessage, &r.UserID, &r.ConversationID, &r.ConceptID, &r.RequestID, &created); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.ResponseTime = time.Duration(respMs) * time.Millisecond
		r.Timestamp = fromNanos(created)
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return out, nil
}
