// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package contextstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/traylinx/switchAIOrchestrator/internal/secret"
	"github.com/traylinx/switchAIOrchestrator/internal/util"
)

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is an offline embedder based on feature hashing of word
// unigrams and bigrams. Identical texts produce identical vectors and texts
// sharing vocabulary score higher than unrelated ones.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hashing embedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Dimension implements Embedder.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(feature string, weight float32) {
		sum := xxhash.Sum64String(feature)
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	var n float64
	for _, x := range vec {
		n += float64(x) * float64(x)
	}
	if n > 0 {
		inv := float32(1 / math.Sqrt(n))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	credential string
	model      string
	dim        int
	creds      secret.Resolver
	client     *http.Client
}

// NewOpenAIEmbedder creates a remote embedder. credentialRef is resolved on
// every call so rotated keys take effect without a restart.
func NewOpenAIEmbedder(baseURL, credentialRef, model string, dim int, creds secret.Resolver) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if creds == nil {
		creds = secret.EnvResolver{}
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credentialRef,
		model:      model,
		dim:        dim,
		creds:      creds,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, _ := sjson.SetBytes([]byte(`{}`), "model", e.model)
	payload, _ = sjson.SetBytes(payload, "input", text)
	if e.dim > 0 {
		payload, _ = sjson.SetBytes(payload, "dimensions", e.dim)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	key := ""
	if e.credential != "" {
		key, err = e.creds.Resolve(e.credential)
		if err != nil {
			return nil, fmt.Errorf("embedding credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("embedding: close response body error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, util.RedactSecret(strings.TrimSpace(string(body)), key))
	}

	values := gjson.GetBytes(body, "data.0.embedding").Array()
	if len(values) == 0 {
		return nil, fmt.Errorf("embedding response missing data")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.Float())
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dim)
	}
	return vec, nil
}
