// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package contextmgr

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
)

const (
	maxTopics       = 3
	topicWords      = 12
	checkpointWords = 20
)

// GenerateSummary returns a short recap of a conversation's topics and its
// last progress checkpoint. It returns "" when the conversation is empty or
// cannot be read.
func (m *Manager) GenerateSummary(ctx context.Context, conversationID string) string {
	if conversationID == "" {
		return ""
	}
	turns, err := m.history.RecentTurns(ctx, conversationID, 0)
	if err != nil {
		log.WithField("conversation", conversationID).Warnf("contextmgr: cannot summarize: %v", err)
		return ""
	}
	return summarizeTurns(turns)
}

// summarizeTurns builds an extractive recap: the opening user request, the
// latest user requests, and the assistant's last answer as checkpoint.
func summarizeTurns(turns []store.Turn) string {
	var questions []string
	checkpoint := ""
	for _, t := range turns {
		text := firstSentence(t.Content, topicWords)
		if text == "" {
			continue
		}
		switch t.Role {
		case "user":
			questions = append(questions, text)
		case "assistant":
			checkpoint = firstSentence(t.Content, checkpointWords)
		}
	}
	if len(questions) == 0 && checkpoint == "" {
		return ""
	}

	topics := questions
	if len(topics) > maxTopics {
		topics = append([]string{questions[0]}, questions[len(questions)-maxTopics+1:]...)
	}
	var parts []string
	if len(topics) > 0 {
		parts = append(parts, "Topics covered: "+strings.Join(topics, "; ")+".")
	}
	if checkpoint != "" {
		parts = append(parts, "Last checkpoint: "+checkpoint+".")
	}
	return strings.Join(parts, " ")
}

// firstSentence returns the first sentence of text capped at maxWords words,
// without trailing punctuation.
func firstSentence(text string, maxWords int) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?\n"); idx >= 0 {
		text = text[:idx]
	}
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
		return strings.Join(words, " ") + "..."
	}
	return strings.Join(words, " ")
}
