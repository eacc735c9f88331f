// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// PollEventType identifies the kind of poll event.
type PollEventType string

// Poll event types pushed by the coordinator.
const (
	PollCreated PollEventType = "PollCreated"
	PollUpdated PollEventType = "PollUpdated"
	PollClosed  PollEventType = "PollClosed"
	PollDeleted PollEventType = "PollDeleted"
	// PollError is only delivered to the connection whose action failed.
	PollError PollEventType = "Error"
)

// OptionCount is one row of a poll tally.
type OptionCount struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
}

// PollEvent is delivered to PollCapability subscribers.
type PollEvent struct {
	Type    PollEventType `json:"type"`
	Title   string        `json:"title,omitempty"`
	Options []string      `json:"options,omitempty"`
	// Results holds the full tally in option order for PollUpdated.
	Results []OptionCount `json:"results,omitempty"`
	// Code and Message are set for PollError.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Tally converts Results into an option->count map.
func (e PollEvent) Tally() map[string]int {
	m := make(map[string]int, len(e.Results))
	for _, r := range e.Results {
		m[r.Option] = r.Count
	}
	return m
}
