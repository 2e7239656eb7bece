// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type geminiProvider struct {
	base
}

func (p *geminiProvider) headers() (map[string]string, error) {
	key, err := p.credential()
	if err != nil {
		return nil, err
	}
	return map[string]string{"x-goog-api-key": key}, nil
}

func (p *geminiProvider) Probe(ctx context.Context) (*ProbeResult, error) {
	endpoint, err := p.endpoint()
	if err != nil {
		return nil, err
	}
	headers, err := p.headers()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	body, err := p.call(ctx, http.MethodGet, endpoint+"/models", nil, headers)
	if err != nil {
		return nil, err
	}
	names := stringList(gjson.GetBytes(body, "models.#.name"))
	for i, n := range names {
		names[i] = strings.TrimPrefix(n, "models/")
	}
	res := &ProbeResult{Models: names, ResponseTime: time.Since(start)}
	res.Partial, res.Detail = p.partialModels(res.Models)
	return res, nil
}

func (p *geminiProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	endpoint, err := p.endpoint()
	if err != nil {
		return nil, err
	}
	headers, err := p.headers()
	if err != nil {
		return nil, err
	}
	model := strings.TrimPrefix(p.model(req), "models/")
	if model == "" {
		return nil, configFailure(p.cfg.ID, "no model configured")
	}

	payload := []byte(`{"contents":[]}`)
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		payload, _ = sjson.SetBytes(payload, "contents.-1", map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}
	if len(system) > 0 {
		payload, _ = sjson.SetBytes(payload, "systemInstruction", map[string]any{
			"parts": []map[string]string{{"text": strings.Join(system, "\n\n")}},
		})
	}
	if req.MaxTokens > 0 {
		payload, _ = sjson.SetBytes(payload, "generationConfig.maxOutputTokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		payload, _ = sjson.SetBytes(payload, "generationConfig.temperature", *req.Temperature)
	}

	target := endpoint + "/models/" + url.PathEscape(model) + ":generateContent"
	body, err := p.call(ctx, http.MethodPost, target, payload, headers)
	if err != nil {
		return nil, err
	}
	parts := gjson.GetBytes(body, "candidates.0.content.parts")
	if !parts.Exists() {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		msg := "response has no candidates"
		if reason != "" {
			msg += ": blocked (" + reason + ")"
		}
		return nil, &Failure{Kind: KindInvalidResponse, Provider: p.cfg.ID, Message: msg}
	}
	var text strings.Builder
	parts.ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})
	out := &Completion{
		Text:             text.String(),
		Model:            firstNonEmpty(gjson.GetBytes(body, "modelVersion").String(), model),
		PromptTokens:     int(gjson.GetBytes(body, "usageMetadata.promptTokenCount").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usageMetadata.candidatesTokenCount").Int()),
		TotalTokens:      int(gjson.GetBytes(body, "usageMetadata.totalTokenCount").Int()),
	}
	out.normalize()
	return out, nil
}
