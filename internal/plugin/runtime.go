// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"slices"

	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// Constructor builds a plugin instance from host-supplied arguments.
type Constructor func(args pluginpkg.Args) (pluginpkg.Plugin, error)

// Candidate is a bundle type resolved by its runtime, with the
// capabilities its concrete implementation satisfies.
type Candidate struct {
	Key          string
	Runtime      RuntimeKind
	Capabilities []pluginpkg.Capability
	New          Constructor
}

// Implements reports whether the candidate satisfies c.
func (c Candidate) Implements(capability pluginpkg.Capability) bool {
	return slices.Contains(c.Capabilities, capability)
}

// Runtime resolves the types of one runtime kind.
type Runtime interface {
	// Kind returns the manifest runtime this resolver handles.
	Kind() RuntimeKind
	// Resolve inspects spec inside bundle b without constructing it.
	Resolve(ctx context.Context, b *Bundle, spec TypeSpec) (Candidate, error)
}
