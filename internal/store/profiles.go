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

	"github.com/goccy/go-json"
)

// Profile is the user snapshot included in every assembled context.
type Profile struct {
	UserID          string            `json:"user_id"`
	Name            string            `json:"name,omitempty"`
	ExperienceLevel string            `json:"experience_level,omitempty"`
	Interests       []string          `json:"interests,omitempty"`
	Preferences     map[string]string `json:"preferences,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// GetProfile returns the profile of userID or ErrNotFound.
func (s *DB) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var (
		p                Profile
		interests, prefs string
		updated          int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT user_id, name, experience_level, interests, preferences, updated_at FROM profiles WHERE user_id = ?`), userID).
		Scan(&p.UserID, &p.Name, &p.ExperienceLevel, &interests, &prefs, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if interests != "" {
		if err = json.Unmarshal([]byte(interests), &p.Interests); err != nil {
			return Profile{}, fmt.Errorf("decode profile interests: %w", err)
		}
	}
	if prefs != "" {
		if err = json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
			return Profile{}, fmt.Errorf("decode profile preferences: %w", err)
		}
	}
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

// UpsertProfile inserts or replaces the profile of p.UserID.
func (s *DB) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("profile requires a user id")
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return fmt.Errorf("encode profile interests: %w", err)
	}
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("encode profile preferences: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO profiles (user_id, name, experience_level, interests, preferences, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			experience_level = excluded.experience_level,
			interests = excluded.interests,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`),
		p.UserID, p.Name, p.ExperienceLevel, string(interests), string(prefs), toNanos(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
