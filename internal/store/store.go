// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store persists conversation history, user profiles, the usage log
// and context chunks in SQLite or Postgres through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a database handle with dialect-aware query rebinding.
type DB struct {
	db     *sql.DB
	driver string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		concept_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		provider_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		tokens BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		experience_level TEXT NOT NULL DEFAULT '',
		interests TEXT NOT NULL DEFAULT '[]',
		preferences TEXT NOT NULL DEFAULT '{}',
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_log (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		concept_id TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_log(provider_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		turn_id TEXT NOT NULL DEFAULT '',
		concept_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_user ON chunks(user_id)`,
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn cannot be empty")
	}

	if driver == "sqlite3" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite works best with a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &DB{db: db, driver: driver}
	if err = s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("store: %s database ready", driver)
	return s, nil
}

// NewWithDB wraps an existing handle without applying the schema.
func NewWithDB(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver}
}

func (s *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying handle.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the connection.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *DB) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
