// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin runs binary text filters out of process using
// HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	plugins "github.com/holomush/palaver/internal/plugin"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
	"github.com/holomush/palaver/pkg/pluginsdk"
)

// DefaultCallTimeout bounds a single filter call.
const DefaultCallTimeout = 5 * time.Second

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the executable, adding env to the
	// process environment.
	NewClient(execPath string, env []string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string, env []string) PluginClient {
	cmd := exec.Command(execPath) // #nosec G204 -- execPath comes from a verified bundle
	cmd.Env = append(os.Environ(), env...)
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
	})
}

// Runtime resolves "binary" bundle types. Every binary type is a
// TextFilter; the SDK serves no other contract.
type Runtime struct {
	factory     ClientFactory
	logger      *slog.Logger
	callTimeout time.Duration
}

// Compile-time interface check.
var _ plugins.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the go-plugin client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) { r.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithCallTimeout bounds each filter call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// NewRuntime creates the binary runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory:     &DefaultClientFactory{},
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
	return plugins.RuntimeBinary
}

// Resolve checks the executable exists inside the bundle.
func (r *Runtime) Resolve(_ context.Context, b *plugins.Bundle, spec plugins.TypeSpec) (plugins.Candidate, error) {
	errb := oops.In("goplugin").Code(pluginpkg.CodeInvalidBundle).With("type", spec.Key).With("executable", spec.Executable)

	execPath := b.Path(spec.Executable)
	info, err := os.Stat(execPath)
	if err != nil {
		return plugins.Candidate{}, errb.Errorf("plugin executable not found: %v", err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o100 == 0 {
		return plugins.Candidate{}, errb.Errorf("plugin executable %s is not an executable file", spec.Executable)
	}

	env, err := configEnv(spec.Config)
	if err != nil {
		return plugins.Candidate{}, errb.Errorf("encode config: %v", err)
	}

	return plugins.Candidate{
		Key:          spec.Key,
		Runtime:      plugins.RuntimeBinary,
		Capabilities: []pluginpkg.Capability{pluginpkg.CapabilityTextFilter},
		New: func(pluginpkg.Args) (pluginpkg.Plugin, error) {
			f, err := r.start(spec.Key, execPath, env)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}, nil
}

// configEnv passes the type's config to the plugin process.
func configEnv(config map[string]any) ([]string, error) {
	if len(config) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return []string{pluginsdk.ConfigEnv + "=" + string(raw)}, nil
}

// start launches the plugin process and dispenses its filter.
func (r *Runtime) start(name, execPath string, env []string) (*Filter, error) {
	errb := oops.In("goplugin").With("plugin", name).With("executable", execPath)

	client := r.factory.NewClient(execPath, env)

	protocol, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "connect to plugin %s", name)
	}

	raw, err := protocol.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "dispense plugin %s", name)
	}

	remote, ok := raw.(pluginsdk.Filter)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("plugin %s dispensed %T, not a text filter", name, raw)
	}

	return &Filter{
		name:        name,
		client:      client,
		protocol:    protocol,
		remote:      remote,
		callTimeout: r.callTimeout,
		logger:      r.logger,
	}, nil
}

// Filter is a TextFilter served by a plugin process.
type Filter struct {
	name        string
	client      PluginClient
	protocol    hashiplug.ClientProtocol
	remote      pluginsdk.Filter
	callTimeout time.Duration
	logger      *slog.Logger

	closeOnce sync.Once
}

// Compile-time interface check.
var _ pluginpkg.TextFilter = (*Filter)(nil)

// Name returns the bundle type key.
func (f *Filter) Name() string {
	return f.name
}

// Initialize checks the plugin process answers.
func (f *Filter) Initialize(context.Context) error {
	if err := f.protocol.Ping(); err != nil {
		return oops.In("goplugin").With("plugin", f.name).Wrapf(err, "ping plugin %s", f.name)
	}
	return nil
}

// OnBeforeSend forwards to the plugin process.
func (f *Filter) OnBeforeSend(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	out, err := f.remote.OnBeforeSend(ctx, text)
	if err != nil {
		return "", oops.In("goplugin").With("plugin", f.name).With("hook", "OnBeforeSend").Wrap(err)
	}
	return out, nil
}

// OnBeforeReceive forwards to the plugin process.
func (f *Filter) OnBeforeReceive(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	out, err := f.remote.OnBeforeReceive(ctx, text)
	if err != nil {
		return "", oops.In("goplugin").With("plugin", f.name).With("hook", "OnBeforeReceive").Wrap(err)
	}
	return out, nil
}

// Close terminates the plugin process.
func (f *Filter) Close(context.Context) error {
	f.closeOnce.Do(func() {
		f.logger.Debug("stopping plugin process", "plugin", f.name)
		f.client.Kill()
	})
	return nil
}
