// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"sync"
	"time"
)

// StatusStore holds the latest HealthStatus per provider. The Monitor is its
// only writer; readers always get copies and never block on a running probe.
type StatusStore struct {
	mu        sync.RWMutex
	statuses  map[string]*HealthStatus
	freshness time.Duration
	now       func() time.Time
}

// NewStatusStore creates a store that reports entries older than freshness as unknown.
func NewStatusStore(freshness time.Duration) *StatusStore {
	if freshness <= 0 {
		freshness = DefaultOptions().FreshnessWindow
	}
	return &StatusStore{
		statuses:  make(map[string]*HealthStatus),
		freshness: freshness,
		now:       time.Now,
	}
}

// set replaces the status for s.Provider and returns the previous one.
func (st *StatusStore) set(s *HealthStatus) *HealthStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.statuses[s.Provider]
	st.statuses[s.Provider] = s.clone()
	return prev
}

// Get returns the raw last recorded status.
func (st *StatusStore) Get(id string) (*HealthStatus, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.statuses[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Effective returns the status as the router must see it: missing or stale
// entries are reported as unknown.
func (st *StatusStore) Effective(id string) *HealthStatus {
	s, ok := st.Get(id)
	if !ok {
		return &HealthStatus{Provider: id, Status: StatusUnknown}
	}
	if st.IsStale(s) {
		s.Status = StatusUnknown
	}
	return s
}

// IsStale reports whether s is older than the freshness window.
func (st *StatusStore) IsStale(s *HealthStatus) bool {
	if s == nil || s.LastChecked.IsZero() {
		return true
	}
	return st.now().Sub(s.LastChecked) > st.freshness
}

// Snapshot returns copies of every recorded status.
func (st *StatusStore) Snapshot() map[string]*HealthStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]*HealthStatus, len(st.statuses))
	for id, s := range st.statuses {
		out[id] = s.clone()
	}
	return out
}
