// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/samber/oops"

	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// Factory constructs a builtin implementation. config is the type's
// manifest config block and may be nil.
type Factory[T pluginpkg.Plugin] func(args pluginpkg.Args, config map[string]any) (T, error)

type implementation struct {
	typ          reflect.Type
	capabilities []pluginpkg.Capability
	construct    func(args pluginpkg.Args, config map[string]any) (pluginpkg.Plugin, error)
}

// Implementations is the compile-time table of builtin types a bundle may
// name. It is the builtin Runtime.
type Implementations struct {
	mu      sync.RWMutex
	entries map[string]implementation
}

// NewImplementations creates an empty table.
func NewImplementations() *Implementations {
	return &Implementations{entries: make(map[string]implementation)}
}

var capabilityTypes = map[pluginpkg.Capability]reflect.Type{
	pluginpkg.CapabilityTextFilter: reflect.TypeFor[pluginpkg.TextFilter](),
	pluginpkg.CapabilityPoll:       reflect.TypeFor[pluginpkg.PollCapability](),
}

// capabilitiesOf derives the capability set of a concrete type. Interface
// types are abstract and satisfy nothing.
func capabilitiesOf(t reflect.Type) []pluginpkg.Capability {
	if t.Kind() == reflect.Interface {
		return nil
	}
	var caps []pluginpkg.Capability
	for c, ct := range capabilityTypes {
		if t.Implements(ct) {
			caps = append(caps, c)
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Register adds the implementation T under key. The capability set is
// derived from T itself, so registering an interface type yields an entry
// that never matches a capability request.
func Register[T pluginpkg.Plugin](impls *Implementations, key string, factory Factory[T]) error {
	if factory == nil {
		return oops.With("key", key).New("factory is nil")
	}
	typ := reflect.TypeFor[T]()

	impls.mu.Lock()
	defer impls.mu.Unlock()

	if _, dup := impls.entries[key]; dup {
		return oops.With("key", key).Errorf("implementation %q already registered", key)
	}
	impls.entries[key] = implementation{
		typ:          typ,
		capabilities: capabilitiesOf(typ),
		construct: func(args pluginpkg.Args, config map[string]any) (pluginpkg.Plugin, error) {
			return factory(args, config)
		},
	}
	return nil
}

// MustRegister is Register that panics on error.
func MustRegister[T pluginpkg.Plugin](impls *Implementations, key string, factory Factory[T]) {
	if err := Register(impls, key, factory); err != nil {
		panic(err)
	}
}

// Keys lists registered keys, sorted.
func (i *Implementations) Keys() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	keys := make([]string, 0, len(i.entries))
	for k := range i.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Capabilities returns the capability set of the type registered as key.
func (i *Implementations) Capabilities(key string) ([]pluginpkg.Capability, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	impl, ok := i.entries[key]
	if !ok {
		return nil, false
	}
	return append([]pluginpkg.Capability(nil), impl.capabilities...), true
}

// Kind implements Runtime.
func (i *Implementations) Kind() RuntimeKind {
	return RuntimeBuiltin
}

// Resolve implements Runtime.
func (i *Implementations) Resolve(_ context.Context, _ *Bundle, spec TypeSpec) (Candidate, error) {
	i.mu.RLock()
	impl, ok := i.entries[spec.Key]
	i.mu.RUnlock()
	if !ok {
		return Candidate{}, oops.Code(pluginpkg.CodeInvalidBundle).With("type", spec.Key).
			Errorf("bundle names builtin type %q, which this host does not provide", spec.Key)
	}

	config := spec.Config
	return Candidate{
		Key:          spec.Key,
		Runtime:      RuntimeBuiltin,
		Capabilities: append([]pluginpkg.Capability(nil), impl.capabilities...),
		New: func(args pluginpkg.Args) (pluginpkg.Plugin, error) {
			p, err := impl.construct(args, config)
			if err != nil {
				return nil, err
			}
			// A factory for an interface type may hand back nil.
			if v := reflect.ValueOf(p); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
				return nil, oops.With("type", spec.Key).Errorf("factory for %q returned nil", spec.Key)
			}
			return p, nil
		},
	}, nil
}
