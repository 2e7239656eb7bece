// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tokens

import "testing"

func TestSimpleCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   \n\t", 0},
		{"hello", 1},
		{"hello world", 2},
		{"one two three four five six seven eight nine ten", 13},
	}
	for _, tt := range tests {
		if got := (Simple{}).Count(tt.in); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewEstimatorMethods(t *testing.T) {
	if NewEstimator("simple").Method() != MethodSimple {
		t.Error("expected simple estimator")
	}
	if NewEstimator("bogus").Method() != MethodSimple {
		t.Error("unknown method should fall back to simple")
	}
	est := NewEstimator(MethodTiktoken)
	if est.Method() != MethodTiktoken && est.Method() != MethodSimple {
		t.Errorf("unexpected method %s", est.Method())
	}
}

func TestEstimatorsAreDeterministic(t *testing.T) {
	text := "Photosynthesis converts light energy into chemical energy stored in glucose."
	for _, est := range []Estimator{Simple{}, NewEstimator(MethodTiktoken)} {
		first := est.Count(text)
		if first <= 0 {
			t.Errorf("%s: expected positive count, got %d", est.Method(), first)
		}
		for i := 0; i < 5; i++ {
			if got := est.Count(text); got != first {
				t.Errorf("%s: non-deterministic count %d vs %d", est.Method(), got, first)
			}
		}
		if est.Count("") != 0 {
			t.Errorf("%s: empty text must count zero", est.Method())
		}
	}
}
