// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

type anthropicProvider struct {
	base
}

func (p *anthropicProvider) headers() (map[string]string, error) {
	key, err := p.credential()
	if err != nil {
		return nil, err
	}
	return map[string]string{"x-api-key": key, "anthropic-version": anthropicVersion}, nil
}

func (p *anthropicProvider) Probe(ctx context.Context) (*ProbeResult, error) {
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

func (p *anthropicProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
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

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	payload := []byte(`{"messages":[]}`)
	payload, _ = sjson.SetBytes(payload, "model", model)
	payload, _ = sjson.SetBytes(payload, "max_tokens", maxTokens)
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		payload, _ = sjson.SetBytes(payload, "messages.-1", Message{Role: role, Content: m.Content})
	}
	if len(system) > 0 {
		payload, _ = sjson.SetBytes(payload, "system", strings.Join(system, "\n\n"))
	}
	if req.Temperature != nil {
		payload, _ = sjson.SetBytes(payload, "temperature", *req.Temperature)
	}

	body, err := p.call(ctx, http.MethodPost, endpoint+"/messages", payload, headers)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	found := false
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
			found = true
		}
		return true
	})
	if !found {
		return nil, &Failure{Kind: KindInvalidResponse, Provider: p.cfg.ID, Message: "response has no text content"}
	}
	out := &Completion{
		Text:             text.String(),
		Model:            firstNonEmpty(gjson.GetBytes(body, "model").String(), model),
		PromptTokens:     int(gjson.GetBytes(body, "usage.input_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.output_tokens").Int()),
	}
	out.normalize()
	return out, nil
}
