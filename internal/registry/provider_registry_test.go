// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/traylinx/switchAIOrchestrator/internal/config"
)

func validProvider(id string, priority int) ProviderConfig {
	return ProviderConfig{
		ID:                   id,
		Type:                 TypeOpenAI,
		Enabled:              true,
		Priority:             priority,
		Models:               []string{"gpt-4o-mini"},
		MaxRequestsPerMinute: 60,
		MaxCostPerDay:        10,
	}
}

func TestUpsertValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
		field  string
	}{
		{"empty id", func(p *ProviderConfig) { p.ID = " " }, "id"},
		{"unknown type", func(p *ProviderConfig) { p.Type = "mystery" }, "type"},
		{"zero priority", func(p *ProviderConfig) { p.Priority = 0 }, "priority"},
		{"negative priority", func(p *ProviderConfig) { p.Priority = -3 }, "priority"},
		{"zero rpm", func(p *ProviderConfig) { p.MaxRequestsPerMinute = 0 }, "max-requests-per-minute"},
		{"zero cost", func(p *ProviderConfig) { p.MaxCostPerDay = 0 }, "max-cost-per-day"},
		{"negative retries", func(p *ProviderConfig) { p.RetryAttempts = -1 }, "retry-attempts"},
		{"no models", func(p *ProviderConfig) { p.Models = nil }, "models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			p := validProvider("p1", 1)
			tt.mutate(&p)
			err := r.Upsert(p)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, vErr.Field)
			}
			if r.Len() != 0 {
				t.Error("invalid provider must not be stored")
			}
		})
	}
}

func TestUpsertDefaultsAndOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Upsert(validProvider(id, 1)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got, err := r.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a" || got.RetryAttempts != 1 || got.Timeout != 30*time.Second {
		t.Errorf("defaults not applied: %+v", got)
	}

	// Updating keeps the original registration slot.
	updated := validProvider("c", 5)
	if err := r.Upsert(updated); err != nil {
		t.Fatal(err)
	}
	list := r.List()
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Errorf("unexpected order: %v", ids(list))
	}
	if list[0].Priority != 5 {
		t.Errorf("update not applied: %+v", list[0])
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	_ = r.Upsert(validProvider("p1", 1))
	p, _ := r.Get("p1")
	p.Models[0] = "mutated"
	again, _ := r.Get("p1")
	if again.Models[0] != "gpt-4o-mini" {
		t.Error("Get must return an independent copy")
	}
}

func TestRemoveAndNotFound(t *testing.T) {
	r := New()
	_ = r.Upsert(validProvider("p1", 1))

	if err := r.Remove("p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := r.Get("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Remove("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestListEnabled(t *testing.T) {
	r := New()
	p1 := validProvider("p1", 1)
	p2 := validProvider("p2", 2)
	p2.Enabled = false
	_ = r.Upsert(p1)
	_ = r.Upsert(p2)

	enabled := r.ListEnabled()
	if len(enabled) != 1 || enabled[0].ID != "p1" {
		t.Errorf("unexpected enabled list: %v", ids(enabled))
	}
}

func TestChangeListener(t *testing.T) {
	r := New()
	var seen []string
	r.OnChange(func(id string) { seen = append(seen, id) })

	_ = r.Upsert(validProvider("p1", 1))
	_ = r.Upsert(ProviderConfig{ID: "bad"})
	_ = r.Remove("p1")

	if len(seen) != 2 || seen[0] != "p1" || seen[1] != "p1" {
		t.Errorf("unexpected notifications: %v", seen)
	}
}

func TestSync(t *testing.T) {
	r := New()
	_ = r.Upsert(validProvider("keep", 1))
	_ = r.Upsert(validProvider("drop", 2))

	changed := validProvider("keep", 3)
	added, updated, removed, err := r.Sync([]ProviderConfig{
		changed,
		validProvider("new", 4),
		{ID: "broken"},
	})
	if err == nil {
		t.Error("expected error for invalid entry")
	}
	if len(added) != 1 || added[0] != "new" {
		t.Errorf("added = %v", added)
	}
	if len(updated) != 1 || updated[0] != "keep" {
		t.Errorf("updated = %v", updated)
	}
	if len(removed) != 1 || removed[0] != "drop" {
		t.Errorf("removed = %v", removed)
	}

	// A second identical sync is a no-op.
	added, updated, removed, _ = r.Sync([]ProviderConfig{changed, validProvider("new", 4)})
	if len(added)+len(updated)+len(removed) != 0 {
		t.Errorf("expected no changes, got +%v ~%v -%v", added, updated, removed)
	}
}

func TestSyncKeepsManagedProviders(t *testing.T) {
	r := New()
	file := []ProviderConfig{validProvider("file", 1)}
	if _, _, _, err := r.Sync(file); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	admin := validProvider("admin", 2)
	admin.Origin = OriginManagement
	if err := r.Upsert(admin); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	added, updated, removed, err := r.Sync(file)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(added)+len(updated)+len(removed) != 0 {
		t.Errorf("expected no changes, got +%v ~%v -%v", added, updated, removed)
	}
	if _, err = r.Get("admin"); err != nil {
		t.Errorf("managed provider dropped by reload: %v", err)
	}

	// A file entry reusing a managed id does not overwrite it.
	clash := validProvider("admin", 9)
	if _, updated, _, _ = r.Sync(append(file, clash)); len(updated) != 0 {
		t.Errorf("updated = %v", updated)
	}
	got, _ := r.Get("admin")
	if got.Priority != 2 || got.Origin != OriginManagement {
		t.Errorf("managed provider overwritten: %+v", got)
	}

	// Removing the file entries leaves only the managed provider.
	if _, _, removed, _ = r.Sync(nil); len(removed) != 1 || removed[0] != "file" {
		t.Errorf("removed = %v", removed)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 provider, got %d", r.Len())
	}
}

func TestFromConfig(t *testing.T) {
	disabled := false
	cfg := &config.Config{
		Heartbeat: config.HeartbeatConfig{Interval: "2m"},
		Providers: []config.ProviderEntry{
			{
				ID: "oa", Name: "OpenAI", Type: "openai", Priority: 1,
				Credential: "env:OPENAI_API_KEY", Models: []string{"gpt-4o"},
				MaxRequestsPerMinute: 10, MaxCostPerDay: 2, Timeout: "15s",
				Pricing: map[string]config.ModelPrice{"gpt-4o": {Input: 2.5, Output: 10}},
			},
			{ID: "local", Type: "ollama", Enabled: &disabled, CheckInterval: "30s"},
		},
	}

	out := FromConfig(cfg)
	if len(out) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(out))
	}
	if out[0].Timeout != 15*time.Second || out[0].CheckInterval != 2*time.Minute {
		t.Errorf("durations not converted: %+v", out[0])
	}
	if out[0].CredentialRef != "env:OPENAI_API_KEY" {
		t.Errorf("credential ref lost")
	}
	if out[0].Price("gpt-4o").Output != 10 {
		t.Errorf("pricing not converted: %+v", out[0].Pricing)
	}
	if out[1].Enabled || out[1].CheckInterval != 30*time.Second {
		t.Errorf("unexpected local provider: %+v", out[1])
	}
}

func TestSupportsModel(t *testing.T) {
	p := validProvider("p1", 1)
	if !p.SupportsModel("gpt-4o-mini") || p.SupportsModel("claude") {
		t.Error("explicit model matching broken")
	}
	if !p.SupportsModel("") {
		t.Error("empty model should match provider with models")
	}
	p.Models = nil
	if p.SupportsModel("") {
		t.Error("provider without models must not match")
	}
}

func ids(list []ProviderConfig) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}
