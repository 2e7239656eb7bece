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
)

// ollamaProvider talks to a locally running Ollama instance. A credential is optional.
type ollamaProvider struct {
	base
}

func (p *ollamaProvider) headers() map[string]string {
	key, _ := p.credential()
	if key == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + key}
}

func (p *ollamaProvider) Probe(ctx context.Context) (*ProbeResult, error) {
	endpoint, err := p.endpoint()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	body, err := p.call(ctx, http.MethodGet, endpoint+"/api/tags", nil, p.headers())
	if err != nil {
		return nil, err
	}
	res := &ProbeResult{Models: stringList(gjson.GetBytes(body, "models.#.name")), ResponseTime: time.Since(start)}
	res.Partial, res.Detail = p.partialModels(res.Models)
	return res, nil
}

func (p *ollamaProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	endpoint, err := p.endpoint()
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
	if req.Temperature != nil {
		payload, _ = sjson.SetBytes(payload, "options.temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		payload, _ = sjson.SetBytes(payload, "options.num_predict", req.MaxTokens)
	}

	body, err := p.call(ctx, http.MethodPost, endpoint+"/api/chat", payload, p.headers())
	if err != nil {
		return nil, err
	}
	content := gjson.GetBytes(body, "message.content")
	if !content.Exists() {
		return nil, &Failure{Kind: KindInvalidResponse, Provider: p.cfg.ID, Message: "response has no message"}
	}
	out := &Completion{
		Text:             content.String(),
		Model:            firstNonEmpty(gjson.GetBytes(body, "model").String(), model),
		PromptTokens:     int(gjson.GetBytes(body, "prompt_eval_count").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "eval_count").Int()),
	}
	out.normalize()
	return out, nil
}
