// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/palaver/internal/core"
	"github.com/holomush/palaver/internal/xdg"
	"github.com/holomush/palaver/pkg/errutil"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

var tracer = otel.Tracer("palaver/plugin")

// CodeLoaderClosed is returned by Load after Close.
const CodeLoaderClosed = "LOADER_CLOSED"

// State is the lifecycle state of a named plugin.
type State string

// Plugin states.
const (
	StateUnloaded           State = "Unloaded"
	StateDownloading        State = "Downloading"
	StateVerificationFailed State = "VerificationFailed"
	StateLoaded             State = "Loaded"
	StateInitFailed         State = "InitFailed"
)

// discarder is implemented by fetchers that cache bundle bytes.
type discarder interface {
	Discard(name string)
}

type entry struct {
	state    State
	instance pluginpkg.Plugin
	bundle   *Bundle
}

// LoaderConfig holds the loader's collaborators.
type LoaderConfig struct {
	// Registry is the trust anchor. Required.
	Registry *TrustRegistry
	// Fetcher downloads bundles. Required.
	Fetcher Fetcher
	// Runtimes resolve bundle types. Types whose runtime is missing are
	// skipped.
	Runtimes []Runtime
	// WorkDir receives unpacked bundles. Defaults to the XDG state dir.
	WorkDir string
	Logger  *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnLoaded registers fn to run after each successful load, in load
// order.
func WithOnLoaded(fn func(pluginpkg.Plugin)) LoaderOption {
	return func(l *Loader) { l.onLoaded = append(l.onLoaded, fn) }
}

// Loader downloads, verifies, and instantiates plugins by name and keeps
// one instance per name for the life of the process.
type Loader struct {
	registry *TrustRegistry
	fetcher  Fetcher
	runtimes map[RuntimeKind]Runtime
	workDir  string
	logger   *slog.Logger
	onLoaded []func(pluginpkg.Plugin)

	locks core.KeyedMutex

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// NewLoader creates a loader.
// Panics if the registry or fetcher is nil.
func NewLoader(cfg LoaderConfig, opts ...LoaderOption) *Loader {
	if cfg.Registry == nil {
		panic("plugin: registry cannot be nil")
	}
	if cfg.Fetcher == nil {
		panic("plugin: fetcher cannot be nil")
	}
	l := &Loader{
		registry: cfg.Registry,
		fetcher:  cfg.Fetcher,
		runtimes: make(map[RuntimeKind]Runtime, len(cfg.Runtimes)),
		workDir:  cfg.WorkDir,
		logger:   cfg.Logger,
		entries:  make(map[string]*entry),
	}
	for _, rt := range cfg.Runtimes {
		l.runtimes[rt.Kind()] = rt
	}
	if l.workDir == "" {
		l.workDir = xdg.PluginWorkDir()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the plugin registered as name, loading it first if needed.
// The returned plugin satisfies capability. Loads of the same name are
// serialized; a name already loaded is served from the registry without
// downloading.
func (l *Loader) Load(ctx context.Context, name string, capability pluginpkg.Capability, args pluginpkg.Args) (p pluginpkg.Plugin, err error) {
	ctx, span := tracer.Start(ctx, "plugin.load", trace.WithAttributes(
		attribute.String("plugin.name", name),
		attribute.String("plugin.capability", capability.String()),
	))
	started := time.Now()
	defer func() { l.observe(span, name, started, err) }()

	if _, ok := capabilityTypes[capability]; !ok {
		return nil, oops.Code(pluginpkg.CodeUnknownCapability).With("capability", capability.String()).
			Errorf("unknown capability %q", capability)
	}

	unlock := l.locks.Lock(name)
	defer unlock()

	errb := oops.In("loader").With("plugin", name).With("capability", capability.String())

	l.mu.RLock()
	closed := l.closed
	cached := l.entries[name]
	l.mu.RUnlock()

	if closed {
		return nil, errb.Code(CodeLoaderClosed).Errorf("loader is closed")
	}
	if cached != nil && cached.state == StateLoaded {
		if !pluginpkg.Implements(cached.instance, capability) {
			return nil, errb.Code(pluginpkg.CodeNoImplementationFound).
				Errorf("plugin %s is loaded but does not implement %s", name, capability)
		}
		span.SetAttributes(attribute.Bool("plugin.cached", true))
		return cached.instance, nil
	}

	desc, ok := l.registry.Lookup(name)
	if !ok {
		return nil, errb.Code(pluginpkg.CodeUnknownPlugin).Errorf("plugin %s is not in the trust registry", name)
	}

	l.setState(name, StateDownloading)
	data, err := l.fetcher.Fetch(ctx, desc)
	if err != nil {
		l.setState(name, StateUnloaded)
		return nil, recode(err, pluginpkg.CodeDownloadFailed, errb, "download bundle")
	}
	span.SetAttributes(attribute.Int("plugin.bundle_bytes", len(data)))

	digest, err := VerifyIntegrity(data, desc.Integrity)
	if err != nil {
		l.setState(name, StateVerificationFailed)
		if d, ok := l.fetcher.(discarder); ok {
			d.Discard(name)
		}
		return nil, errb.Wrap(err)
	}

	bundle, err := l.unpack(name, digest, data)
	if err != nil {
		l.setState(name, StateUnloaded)
		return nil, recode(err, pluginpkg.CodeInvalidBundle, errb, "unpack bundle")
	}
	if bundle.Manifest.Name != name {
		l.discardBundle(bundle)
		l.setState(name, StateUnloaded)
		return nil, errb.Code(pluginpkg.CodeInvalidBundle).With("manifest_name", bundle.Manifest.Name).
			Errorf("bundle for %s declares name %q", name, bundle.Manifest.Name)
	}

	cand, err := l.resolve(ctx, bundle, capability)
	if err != nil {
		l.discardBundle(bundle)
		l.setState(name, StateUnloaded)
		return nil, err
	}

	inst, err := cand.New(args)
	if err != nil {
		l.discardBundle(bundle)
		l.setState(name, StateUnloaded)
		return nil, recode(err, pluginpkg.CodeInstantiationFailed, errb.With("type", cand.Key), "construct "+cand.Key)
	}

	if err := inst.Initialize(ctx); err != nil {
		if cerr := inst.Close(context.WithoutCancel(ctx)); cerr != nil {
			errutil.LogWarn(l.logger, "failed to close plugin after init failure", cerr, "plugin", name)
		}
		l.discardBundle(bundle)
		l.setState(name, StateInitFailed)
		return nil, errb.Code(pluginpkg.CodeInitFailed).
			With("type", cand.Key).
			With("cause_code", errutil.Code(err)).
			Errorf("initialize %s: %v", cand.Key, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if cerr := inst.Close(context.WithoutCancel(ctx)); cerr != nil {
			errutil.LogWarn(l.logger, "failed to close plugin loaded during shutdown", cerr, "plugin", name)
		}
		l.discardBundle(bundle)
		return nil, errb.Code(CodeLoaderClosed).Errorf("loader closed while loading %s", name)
	}
	l.entries[name] = &entry{state: StateLoaded, instance: inst, bundle: bundle}
	l.mu.Unlock()

	l.logger.Info("loaded plugin",
		"plugin", name,
		"type", cand.Key,
		"runtime", string(cand.Runtime),
		"version", bundle.Manifest.Version,
		"digest", digest)

	for _, fn := range l.onLoaded {
		fn(inst)
	}
	return inst, nil
}

func (l *Loader) unpack(name, digest string, data []byte) (*Bundle, error) {
	dir := filepath.Join(l.workDir, name+"-"+digest[:12])
	if err := os.RemoveAll(dir); err != nil {
		return nil, oops.With("dir", dir).Wrapf(err, "clear bundle directory")
	}
	b, err := Unpack(data, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	b.Digest = digest
	return b, nil
}

func (l *Loader) discardBundle(b *Bundle) {
	if err := os.RemoveAll(b.Dir); err != nil {
		l.logger.Warn("failed to remove bundle directory", "dir", b.Dir, "error", err)
	}
}

// resolve picks the single bundle type implementing capability.
func (l *Loader) resolve(ctx context.Context, b *Bundle, capability pluginpkg.Capability) (Candidate, error) {
	errb := oops.In("loader").With("plugin", b.Manifest.Name).With("capability", capability.String())

	var matches []Candidate
	for _, spec := range b.Manifest.Types {
		rt, ok := l.runtimes[spec.Runtime]
		if !ok {
			l.logger.Warn("no runtime configured, skipping bundle type",
				"plugin", b.Manifest.Name,
				"type", spec.Key,
				"runtime", string(spec.Runtime))
			continue
		}
		cand, err := rt.Resolve(ctx, b, spec)
		if err != nil {
			return Candidate{}, recode(err, pluginpkg.CodeInvalidBundle, errb.With("type", spec.Key), "resolve "+spec.Key)
		}
		if cand.Implements(capability) {
			matches = append(matches, cand)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Candidate{}, errb.Code(pluginpkg.CodeNoImplementationFound).
			Errorf("bundle %s has no type implementing %s", b.Manifest.Name, capability)
	default:
		keys := make([]string, len(matches))
		for i, m := range matches {
			keys[i] = m.Key
		}
		return Candidate{}, errb.Code(pluginpkg.CodeNoImplementationFound).With("candidates", keys).
			Errorf("bundle %s has %d types implementing %s: %s", b.Manifest.Name, len(matches), capability, strings.Join(keys, ", "))
	}
}

// recode returns err unchanged when it already carries code, and
// otherwise a new error with code whose message includes err.
func recode(err error, code string, errb oops.OopsErrorBuilder, msg string) error {
	if errutil.HasCode(err, code) {
		return err
	}
	return errb.Code(code).With("cause_code", errutil.Code(err)).Errorf("%s: %v", msg, err)
}

func (l *Loader) setState(name string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s == StateUnloaded {
		delete(l.entries, name)
		return
	}
	l.entries[name] = &entry{state: s}
}

func (l *Loader) observe(span trace.Span, name string, started time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = errutil.Code(err)
		if result == "" {
			result = "error"
		}
		span.SetAttributes(attribute.String("error.code", result))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	Loads.WithLabelValues(name, result).Inc()
	LoadDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	span.End()
}

// State returns the lifecycle state of name.
func (l *Loader) State(name string) State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[name]; ok {
		return e.state
	}
	return StateUnloaded
}

// Get returns the loaded plugin registered as name.
func (l *Loader) Get(name string) (pluginpkg.Plugin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok || e.state != StateLoaded {
		return nil, false
	}
	return e.instance, true
}

// Plugins returns the names of loaded plugins, sorted.
func (l *Loader) Plugins() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.entries))
	for name, e := range l.entries {
		if e.state == StateLoaded {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close closes every loaded plugin and removes unpacked bundles. Later
// loads fail.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	entries := l.entries
	l.entries = make(map[string]*entry)
	l.mu.Unlock()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		e := entries[name]
		if e.state != StateLoaded {
			continue
		}
		if err := e.instance.Close(ctx); err != nil {
			errs = append(errs, oops.With("plugin", name).Wrapf(err, "close plugin %s", name))
		}
		l.discardBundle(e.bundle)
	}
	return errors.Join(errs...)
}
