// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package realtime serves the poll websocket: it authenticates connections,
// dispatches client actions to the poll coordinator, and fans committed poll
// events out to every connected client.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/holomush/palaver/internal/realtime/wire"
)

// GroupPolls is the group every poll connection joins.
const GroupPolls = "polls"

// Hub distributes events to the connections joined to a group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Conn]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups: make(map[string]map[*Conn]struct{}),
		logger: logger,
	}
}

// Join adds c to group.
func (h *Hub) Join(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Conn]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	connectionsGauge.Inc()
}

// Leave removes c from every group.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group, members := range h.groups {
		if _, ok := members[c]; !ok {
			continue
		}
		delete(members, c)
		connectionsGauge.Dec()
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// Count returns the number of connections in group.
func (h *Hub) Count(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Publish sends ev to every connection in group. Delivery per connection is
// FIFO; a connection whose send buffer is full misses the event.
func (h *Hub) Publish(group string, ev wire.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "event", ev.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.groups[group] {
		if !c.enqueue(msg) {
			droppedEvents.Inc()
			h.logger.Warn("event dropped: connection send buffer full",
				"group", group,
				"conn_id", c.ID,
				"event", ev.Event,
				"title", ev.Title,
			)
		}
	}
}

// CloseAll closes every connection, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0)
	for _, members := range h.groups {
		for c := range members {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
