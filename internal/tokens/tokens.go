// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokens provides deterministic token-count estimation for context budgeting.
package tokens

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

const (
	MethodSimple   = "simple"
	MethodTiktoken = "tiktoken"
)

// Estimator counts tokens in text. Implementations must be deterministic.
type Estimator interface {
	Count(text string) int
	Method() string
}

// NewEstimator returns an estimator for method. "tiktoken" falls back to the
// simple estimator when the encoding cannot be loaded.
func NewEstimator(method string) Estimator {
	if method == MethodTiktoken {
		est, err := newTiktoken()
		if err == nil {
			return est
		}
		log.Warnf("tokens: tiktoken unavailable, using simple estimation: %v", err)
	}
	return Simple{}
}

// Simple approximates tokens as words * 1.3.
type Simple struct{}

// Count implements Estimator.
func (Simple) Count(content string) int {
	if len(content) == 0 {
		return 0
	}
	words := countWords(content)
	if words == 0 {
		return 0
	}
	// Most tokenizers produce ~1.3 tokens per word on average.
	n := int(float64(words) * 1.3)
	if n == 0 {
		n = 1
	}
	return n
}

// Method implements Estimator.
func (Simple) Method() string { return MethodSimple }

// countWords counts whitespace-separated words.
func countWords(content string) int {
	wordCount := 0
	inWord := false
	for _, r := range content {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if isSpace {
			inWord = false
		} else if !inWord {
			wordCount++
			inWord = true
		}
	}
	return wordCount
}

// Tiktoken counts tokens with the cl100k_base encoding.
type Tiktoken struct {
	codec tokenizer.Codec
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func newTiktoken() (*Tiktoken, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil {
		return nil, codecErr
	}
	return &Tiktoken{codec: codec}, nil
}

// Count implements Estimator.
func (t *Tiktoken) Count(content string) int {
	if content == "" {
		return 0
	}
	ids, _, err := t.codec.Encode(content)
	if err != nil {
		return Simple{}.Count(content)
	}
	return len(ids)
}

// Method implements Estimator.
func (t *Tiktoken) Method() string { return MethodTiktoken }
