// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

// openAIProvider serves openai, openrouter and openai-compatibility kinds.
type openAIProvider struct {
	base
}

func (p *openAIProvider) headers() (map[string]string, error) {
	key, err := p.credential()
	if err != nil {
		return nil, err
	}
	h := make(map[string]string, 3)
	if key != "" {
		h["Authorization"] = "Bearer " + key
	}
	if p.cfg.Type == registry.TypeOpenRouter {
		h["X-Title"] = "switchAI Orchestrator"
	}
	return h, nil
}

func (p *openAIProvider) Probe(ctx context.Context) (*ProbeResult, error) {
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
	res := &ProbeResult{Models: stringList(gjson.GetBytes(body, "data.#.id")), ResponseTime: time.Since(start)}
	res.Partial, res.Detail = p.partialModels(res.Models)
	return res, nil
}

func (p *openAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	endpoint, err := p.endpoint()
	if err != nil {
		return nil, err
	}
	headers, err := p.headers()
	if err != nil {
		return nil, err
	}
	model := p.model(req)
	if model == "" {
		return nil, configFailure(p.cfg.ID, "no model configured")
	}

	payload := []byte(`{"stream":false,"messages":[]}`)
	payload, _ = sjson.SetBytes(payload, "model", model)
	for _, m := range req.Messages {
		payload, _ = sjson.SetBytes(payload, "messages.-1", m)
	}
	if req.MaxTokens > 0 {
		payload, _ = sjson.SetBytes(payload, "max_tokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		payload, _ = sjson.SetBytes(payload, "temperature", *req.Temperature)
	}

	body, err := p.call(ctx, http.MethodPost, endpoint+"/chat/completions", payload, headers)
	if err != nil {
		return nil, err
	}
	text := gjson.GetBytes(body, "choices.0.message.content")
	if !text.Exists() {
		return nil, &Failure{Kind: KindInvalidResponse, Provider: p.cfg.ID, Message: "response has no choices"}
	}
	out := &Completion{
		Text:             text.String(),
		Model:            firstNonEmpty(gjson.GetBytes(body, "model").String(), model),
		PromptTokens:     int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
		TotalTokens:      int(gjson.GetBytes(body, "usage.total_tokens").Int()),
	}
	out.normalize()
	return out, nil
}

func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, item := range r.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Completion) normalize() {
	if c.TotalTokens == 0 {
		c.TotalTokens = c.PromptTokens + c.CompletionTokens
	}
}
