// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the capability contracts shared by the Palaver host
// and every plugin implementation.
package plugin

import (
	"context"

	"github.com/samber/oops"
)

// Capability names a behavioral contract a plugin may satisfy.
type Capability string

// Capabilities known to the host.
const (
	CapabilityTextFilter Capability = "TextFilter"
	CapabilityPoll       Capability = "PollCapability"
)

// String returns the capability name.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a user-supplied name into a Capability.
func ParseCapability(s string) (Capability, error) {
	switch s {
	case "TextFilter", "textfilter", "text-filter":
		return CapabilityTextFilter, nil
	case "PollCapability", "Poll", "poll":
		return CapabilityPoll, nil
	default:
		return "", oops.Code(CodeUnknownCapability).With("capability", s).Errorf("unknown capability %q", s)
	}
}

// Args are the construction parameters the host passes to a plugin.
type Args struct {
	// BaseURL is the base service URL, e.g. "https://chat.example.com".
	BaseURL string
	// Token is the pre-issued bearer token used for authenticated calls.
	Token string
}

// Plugin is the base contract every plugin satisfies.
type Plugin interface {
	// Name returns the implementation name.
	Name() string
	// Initialize prepares the plugin for use. It may block on network setup.
	Initialize(ctx context.Context) error
	// Close releases resources held by the plugin.
	Close(ctx context.Context) error
}

// TextFilter transforms chat text flowing through the message pipeline.
//
// Implementations must be safe to apply to text they already filtered, since
// both the sending and the receiving pipeline invoke them.
type TextFilter interface {
	Plugin
	OnBeforeSend(ctx context.Context, text string) (string, error)
	OnBeforeReceive(ctx context.Context, text string) (string, error)
}

// PollCapability drives the real-time poll feature.
type PollCapability interface {
	Plugin

	// Subscribe returns a channel of poll events and a function that removes
	// the subscription. The channel is closed on unsubscribe or Close.
	Subscribe(buffer int) (<-chan PollEvent, func())

	CreatePoll(ctx context.Context, channelID, title string, options []string) error
	Vote(ctx context.Context, title, option string) error
	ClosePoll(ctx context.Context, title string) error
	DeletePoll(ctx context.Context, title string) error
}

// Implements reports whether p satisfies the capability c.
func Implements(p Plugin, c Capability) bool {
	switch c {
	case CapabilityTextFilter:
		_, ok := p.(TextFilter)
		return ok
	case CapabilityPoll:
		_, ok := p.(PollCapability)
		return ok
	default:
		return false
	}
}

// CapabilitiesOf lists every capability p satisfies.
func CapabilitiesOf(p Plugin) []Capability {
	var caps []Capability
	for _, c := range []Capability{CapabilityTextFilter, CapabilityPoll} {
		if Implements(p, c) {
			caps = append(caps, c)
		}
	}
	return caps
}
