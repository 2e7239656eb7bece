// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
)

// DiffProviders describes provider additions, removals and edits between two
// configurations, sorted by provider id. Credentials are compared by hash and
// never printed.
func DiffProviders(oldList, newList []config.ProviderEntry) []string {
	oldByID := indexEntries(oldList)
	newByID := indexEntries(newList)

	ids := make([]string, 0, len(oldByID)+len(newByID))
	for id := range oldByID {
		ids = append(ids, id)
	}
	for id := range newByID {
		if _, ok := oldByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var changes []string
	for _, id := range ids {
		before, hadOld := oldByID[id]
		after, hasNew := newByID[id]
		switch {
		case hadOld && !hasNew:
			changes = append(changes, fmt.Sprintf("provider %s: removed", id))
		case !hadOld && hasNew:
			changes = append(changes, fmt.Sprintf("provider %s: added", id))
		default:
			if fields := changedFields(before, after); len(fields) > 0 {
				changes = append(changes, fmt.Sprintf("provider %s: updated (%s)", id, strings.Join(fields, ", ")))
			}
		}
	}
	return changes
}

func indexEntries(list []config.ProviderEntry) map[string]config.ProviderEntry {
	out := make(map[string]config.ProviderEntry, len(list))
	for _, e := range list {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		out[id] = e
	}
	return out
}

func changedFields(a, b config.ProviderEntry) []string {
	var fields []string
	add := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}
	add("name", a.Name != b.Name)
	add("type", a.Type != b.Type)
	add("enabled", a.IsEnabled() != b.IsEnabled())
	add("priority", a.Priority != b.Priority)
	add("base-url", a.BaseURL != b.BaseURL)
	add("credential", hashValue(a.Credential) != hashValue(b.Credential))
	add("models", hashValue(a.Models) != hashValue(b.Models))
	add("max-requests-per-minute", a.MaxRequestsPerMinute != b.MaxRequestsPerMinute)
	add("max-cost-per-day", a.MaxCostPerDay != b.MaxCostPerDay)
	add("timeout", a.Timeout != b.Timeout)
	add("retry-attempts", a.RetryAttempts != b.RetryAttempts)
	add("proxy-url", a.ProxyURL != b.ProxyURL)
	add("check-interval", a.CheckInterval != b.CheckInterval)
	add("headers", hashValue(a.Headers) != hashValue(b.Headers))
	add("pricing", hashValue(a.Pricing) != hashValue(b.Pricing))
	return fields
}

// hashValue returns a stable digest. Maps marshal with sorted keys.
func hashValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
