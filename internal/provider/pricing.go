// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import "github.com/traylinx/switchAIOrchestrator/internal/registry"

// Cost returns the USD cost of a call given per-million-token prices.
func Cost(price registry.ModelPrice, promptTokens, completionTokens int) float64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	return (float64(promptTokens)*price.Input + float64(completionTokens)*price.Output) / 1_000_000
}
