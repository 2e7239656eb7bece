// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

func TestConditionEvaluator_Evaluate(t *testing.T) {
	e := NewConditionEvaluator()
	ctx := &RoutingContext{
		UserID:          "u1",
		ConceptID:       "concurrency",
		ExperienceLevel: "expert",
		ProviderID:      "openai-main",
		ProviderType:    "openai",
		Timestamp:       time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC), // Monday
	}

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{"empty", "", true, false},
		{"literal true", "true", true, false},
		{"equality", "experience_level == 'expert'", true, false},
		{"combined", "provider_type == 'openai' && concept_id startsWith 'conc'", true, false},
		{"hour", "hour >= 9 && hour < 17", true, false},
		{"day", "day_of_week in ['Sat', 'Sun']", false, false},
		{"membership", "user_id in ['u1', 'u2']", true, false},
		{"unknown variable", "intent == 'coding'", false, true},
		{"not boolean", "hour + 1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.condition, ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate(%q) error = %v, wantErr %v", tt.condition, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestInWindow(t *testing.T) {
	e := NewConditionEvaluator()
	monday10 := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	saturday10 := time.Date(2026, 6, 6, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule ActivationRule
		now  time.Time
		want bool
	}{
		{"no window", ActivationRule{}, monday10, true},
		{"hour range", ActivationRule{Hours: "9-17"}, monday10, true},
		{"hour list", ActivationRule{Hours: "8,12-13"}, monday10, false},
		{"weekdays", ActivationRule{Days: "Mon-Fri"}, saturday10, false},
		{"weekend list", ActivationRule{Days: "sat,sun"}, saturday10, true},
		{"wrap days", ActivationRule{Days: "Fri-Mon"}, monday10, true},
		{"bad day", ActivationRule{Days: "Funday"}, monday10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.InWindow(tt.rule, tt.now); got != tt.want {
				t.Errorf("InWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreferTypeIsStablePartition(t *testing.T) {
	properties := gopter.NewProperties(nil)
	kinds := []registry.ProviderType{registry.TypeOpenAI, registry.TypeAnthropic, registry.TypeGemini}

	properties.Property("preferred providers come first and relative order is kept", prop.ForAll(
		func(typeIdx []int, preferIdx int) bool {
			providers := make([]registry.ProviderConfig, len(typeIdx))
			for i, k := range typeIdx {
				providers[i] = registry.ProviderConfig{ID: strconv.Itoa(i), Type: kinds[k]}
			}
			want := kinds[preferIdx]
			got := PreferType(providers, want)
			if len(got) != len(providers) {
				return false
			}
			seenOther := false
			lastPreferred, lastOther := -1, -1
			for _, p := range got {
				idx, _ := strconv.Atoi(p.ID)
				if p.Type == want {
					if seenOther || idx < lastPreferred {
						return false
					}
					lastPreferred = idx
					continue
				}
				seenOther = true
				if idx < lastOther {
					return false
				}
				lastOther = idx
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
