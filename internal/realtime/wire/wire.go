// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wire defines the JSON frames exchanged on the poll websocket.
package wire

import (
	"sort"

	"github.com/holomush/palaver/pkg/plugin"
)

// Client actions.
const (
	ActionCreatePoll = "createPoll"
	ActionVote       = "vote"
	ActionClosePoll  = "closePoll"
	ActionDeletePoll = "deletePoll"
)

// Action is a client-to-server frame.
type Action struct {
	Action    string   `json:"action"`
	ChannelID string   `json:"channelId,omitempty"`
	Title     string   `json:"title,omitempty"`
	Option    string   `json:"option,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// Event is a server-to-client frame. Event names match plugin.PollEventType.
type Event struct {
	Event   string         `json:"event"`
	Title   string         `json:"title,omitempty"`
	Options []string       `json:"options,omitempty"`
	Results map[string]int `json:"results,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ErrorEvent builds an Error frame for the acting connection.
func ErrorEvent(code, message string) Event {
	return Event{Event: string(plugin.PollError), Code: code, Message: message}
}

// PollEvent converts the frame into the event delivered to plugin
// subscribers. Results follow Options order when the server sent it, and
// option name order otherwise.
func (e Event) PollEvent() plugin.PollEvent {
	ev := plugin.PollEvent{
		Type:    plugin.PollEventType(e.Event),
		Title:   e.Title,
		Options: e.Options,
		Code:    e.Code,
		Message: e.Message,
	}
	if e.Results == nil {
		return ev
	}

	order := e.Options
	if len(order) == 0 {
		order = make([]string, 0, len(e.Results))
		for opt := range e.Results {
			order = append(order, opt)
		}
		sort.Strings(order)
	}
	ev.Results = make([]plugin.OptionCount, 0, len(order))
	for _, opt := range order {
		ev.Results = append(ev.Results, plugin.OptionCount{Option: opt, Count: e.Results[opt]})
	}
	return ev
}
