// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/holomush/palaver/internal/plugin"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// Hook names a Lua filter must define.
const (
	HookBeforeSend    = "on_before_send"
	HookBeforeReceive = "on_before_receive"
)

// DefaultCallTimeout bounds a single hook invocation.
const DefaultCallTimeout = 2 * time.Second

// Runtime resolves "lua" bundle types. A script is a TextFilter iff it
// defines both hook functions as globals.
type Runtime struct {
	factory     *StateFactory
	logger      *slog.Logger
	callTimeout time.Duration
}

// Compile-time interface check.
var _ plugins.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used by palaver.log.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithCallTimeout bounds each hook invocation.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// NewRuntime creates the Lua runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory:     NewStateFactory(),
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kind implements plugins.Runtime.
func (r *Runtime) Kind() plugins.RuntimeKind {
	return plugins.RuntimeLua
}

// Resolve loads the script in a throwaway state and inspects its globals.
// The script's top level runs under the call timeout.
func (r *Runtime) Resolve(ctx context.Context, b *plugins.Bundle, spec plugins.TypeSpec) (plugins.Candidate, error) {
	errb := oops.In("lua").Code(pluginpkg.CodeInvalidBundle).With("type", spec.Key).With("entry", spec.Entry)

	code, err := os.ReadFile(b.Path(spec.Entry))
	if err != nil {
		return plugins.Candidate{}, errb.Errorf("read entry %s: %v", spec.Entry, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return plugins.Candidate{}, oops.In("lua").With("type", spec.Key).Wrapf(err, "create validation state")
	}
	defer L.Close()

	registerHostModule(L, spec.Key, r.logger)
	if err := L.DoString(string(code)); err != nil {
		return plugins.Candidate{}, errb.Errorf("load %s: %v", spec.Entry, err)
	}

	var caps []pluginpkg.Capability
	if isFunction(L, HookBeforeSend) && isFunction(L, HookBeforeReceive) {
		caps = append(caps, pluginpkg.CapabilityTextFilter)
	}

	src := string(code)
	config := spec.Config
	return plugins.Candidate{
		Key:          spec.Key,
		Runtime:      plugins.RuntimeLua,
		Capabilities: caps,
		New: func(pluginpkg.Args) (pluginpkg.Plugin, error) {
			return &Filter{
				name:    spec.Key,
				code:    src,
				config:  config,
				runtime: r,
			}, nil
		},
	}, nil
}

func isFunction(L *lua.LState, name string) bool {
	return L.GetGlobal(name).Type() == lua.LTFunction
}

// Filter is a TextFilter backed by a Lua script. A single state is kept
// per filter and calls are serialized, since an LState is not safe for
// concurrent use.
type Filter struct {
	name    string
	code    string
	config  map[string]any
	runtime *Runtime

	mu    sync.Mutex
	state *lua.LState
}

// Compile-time interface check.
var _ pluginpkg.TextFilter = (*Filter)(nil)

// Name returns the bundle type key.
func (f *Filter) Name() string {
	return f.name
}

// Initialize runs the script in a fresh state, exposing the type's
// config as the global "config" table. The top level runs under the call
// timeout.
func (f *Filter) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.runtime.callTimeout)
	defer cancel()

	L, err := f.runtime.factory.NewState(ctx)
	if err != nil {
		return oops.In("lua").With("plugin", f.name).Wrapf(err, "create state")
	}
	registerHostModule(L, f.name, f.runtime.logger)
	L.SetGlobal("config", toLua(L, map[string]any(f.config)))

	if err := L.DoString(f.code); err != nil {
		L.Close()
		return oops.In("lua").With("plugin", f.name).Wrapf(err, "run script")
	}
	L.RemoveContext()
	f.state = L
	return nil
}

// OnBeforeSend calls on_before_send(text).
func (f *Filter) OnBeforeSend(ctx context.Context, text string) (string, error) {
	return f.call(ctx, HookBeforeSend, text)
}

// OnBeforeReceive calls on_before_receive(text).
func (f *Filter) OnBeforeReceive(ctx context.Context, text string) (string, error) {
	return f.call(ctx, HookBeforeReceive, text)
}

func (f *Filter) call(ctx context.Context, hook, text string) (string, error) {
	errb := oops.In("lua").With("plugin", f.name).With("hook", hook)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == nil {
		return "", errb.New("filter is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, f.runtime.callTimeout)
	defer cancel()
	f.state.SetContext(ctx)
	defer f.state.RemoveContext()

	if err := f.state.CallByParam(lua.P{
		Fn:      f.state.GetGlobal(hook),
		NRet:    1,
		Protect: true,
	}, lua.LString(text)); err != nil {
		return "", errb.Wrap(err)
	}

	ret := f.state.Get(-1)
	f.state.Pop(1)

	s, ok := ret.(lua.LString)
	if !ok {
		return "", errb.Errorf("%s returned %s, want string", hook, ret.Type())
	}
	return string(s), nil
}

// Close releases the Lua state.
func (f *Filter) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != nil {
		f.state.Close()
		f.state = nil
	}
	return nil
}
