// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventLog keeps the most recent heartbeat events for the management API.
type EventLog struct {
	mu     sync.RWMutex
	limit  int
	events []HeartbeatEvent
}

// NewEventLog creates an event log retaining at most limit events.
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = 1000
	}
	return &EventLog{limit: limit, events: make([]HeartbeatEvent, 0)}
}

// HandleEvent records the event.
func (h *EventLog) HandleEvent(event *HeartbeatEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, *event)
	if len(h.events) > h.limit {
		h.events = h.events[len(h.events)-h.limit:]
	}

	if event.Type == EventHealthCheckFailed {
		log.WithField("provider", event.Provider).Debugf("health check attempt failed: %v", event.Data["error"])
	}
	return nil
}

// GetEvents returns all retained events, oldest first.
func (h *EventLog) GetEvents() []HeartbeatEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := make([]HeartbeatEvent, len(h.events))
	copy(events, h.events)
	return events
}

// GetEventsForProvider returns events for a specific provider.
func (h *EventLog) GetEventsForProvider(provider string) []HeartbeatEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := make([]HeartbeatEvent, 0)
	for _, event := range h.events {
		if event.Provider == provider {
			events = append(events, event)
		}
	}
	return events
}

// GetEventsByType returns events of a specific type.
func (h *EventLog) GetEventsByType(eventType HeartbeatEventType) []HeartbeatEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := make([]HeartbeatEvent, 0)
	for _, event := range h.events {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}
