// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/palaver/internal/config"
	"github.com/holomush/palaver/internal/pipeline"
	"github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/internal/plugin/builtin"
	"github.com/holomush/palaver/internal/plugin/goplugin"
	pluginlua "github.com/holomush/palaver/internal/plugin/lua"
	"github.com/holomush/palaver/pkg/errutil"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// pollEventBuffer is the subscriber channel size for poll events.
const pollEventBuffer = 64

// NewHostCmd creates the host subcommand.
func NewHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run an interactive chat host with verified plugins",
		Long: `Load the plugins listed in the configuration, then read chat lines from
stdin. Plain lines travel through the outbound and inbound filter
pipelines; lines starting with "/" are host commands (try /help).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runHostWithDeps(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), nil)
		},
	}

	cmd.Flags().String("base-url", "", "base service URL passed to plugins")
	cmd.Flags().String("token", "", "bearer token for the catalog and the poll channel")
	cmd.Flags().String("catalog-url", config.DefaultCatalogURL, "catalog URL for descriptors without a locator")
	cmd.Flags().Duration("fetch-timeout", config.DefaultFetchTimeout, "bundle download timeout")
	cmd.Flags().String("cache-dir", "", "partial download cache (default: XDG_CACHE_HOME/palaver/bundles)")
	cmd.Flags().String("work-dir", "", "unpacked bundle directory (default: XDG_STATE_HOME/palaver/plugins)")
	cmd.Flags().String("channel", config.DefaultChannel, "channel for polls created from this host")

	return cmd
}

// HostDeps contains injectable dependencies for the host command.
// All fields with nil values will use their default implementations.
type HostDeps struct {
	// Fetcher downloads bundles.
	// Default: plugin.HTTPFetcher with the configured token and timeout.
	Fetcher plugin.Fetcher
}

// syncWriter serializes writes from the REPL and the event printers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, format+"\n", args...)
}

// host owns the loader, the pipeline, and the poll subscription.
type host struct {
	cfg    *config.Config
	loader *plugin.Loader
	pipe   *pipeline.Pipeline
	args   pluginpkg.Args
	out    *syncWriter
	logger *slog.Logger

	mu    sync.Mutex
	polls pluginpkg.PollCapability
	unsub []func()
	wg    sync.WaitGroup
}

func newHost(cfg *config.Config, out io.Writer, logger *slog.Logger, deps *HostDeps) (*host, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	impls, err := builtin.New(logger)
	if err != nil {
		return nil, err
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		opts := []plugin.FetcherOption{
			plugin.WithBearerToken(cfg.Token),
			plugin.WithFetchTimeout(cfg.FetchTimeout),
			plugin.WithFetcherLogger(logger),
		}
		if cfg.CacheDir != "" {
			opts = append(opts, plugin.WithCacheDir(cfg.CacheDir))
		}
		fetcher = plugin.NewHTTPFetcher(opts...)
	}

	h := &host{
		cfg:    cfg,
		pipe:   pipeline.New(),
		args:   pluginpkg.Args{BaseURL: cfg.BaseURL, Token: cfg.Token},
		out:    &syncWriter{w: out},
		logger: logger,
	}
	h.loader = plugin.NewLoader(plugin.LoaderConfig{
		Registry: registry,
		Fetcher:  fetcher,
		Runtimes: []plugin.Runtime{
			impls,
			pluginlua.NewRuntime(pluginlua.WithLogger(logger)),
			goplugin.NewRuntime(goplugin.WithLogger(logger)),
		},
		WorkDir: cfg.WorkDir,
		Logger:  logger,
	}, plugin.WithOnLoaded(h.attach))
	return h, nil
}

// attach wires a freshly loaded plugin into the extension points it
// satisfies.
func (h *host) attach(p pluginpkg.Plugin) {
	if f, ok := p.(pluginpkg.TextFilter); ok {
		h.pipe.Add(f)
	}
	pc, ok := p.(pluginpkg.PollCapability)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.polls == nil {
		h.polls = pc
	}
	events, unsubscribe := pc.Subscribe(pollEventBuffer)
	h.unsub = append(h.unsub, unsubscribe)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range events {
			h.out.printf("%s", formatEvent(ev))
		}
	}()
}

// load loads name as capability and reports the outcome.
func (h *host) load(ctx context.Context, name, capability string) error {
	c, err := pluginpkg.ParseCapability(capability)
	if err != nil {
		return err
	}
	p, err := h.loader.Load(ctx, name, c, h.args)
	if err != nil {
		return err
	}
	h.out.printf("* loaded %s as %s (%s)", name, c, p.Name())
	return nil
}

func (h *host) pollPlugin() (pluginpkg.PollCapability, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.polls == nil {
		return nil, oops.Code(pluginpkg.CodeNoImplementationFound).Errorf("no poll plugin loaded")
	}
	return h.polls, nil
}

// handle executes one input line.
func (h *host) handle(ctx context.Context, line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case cmdEmpty:
		return nil
	case cmdHelp:
		h.out.printf("%s", helpText)
		return nil
	case cmdSay:
		sent, err := h.pipe.ApplyOutbound(ctx, cmd.text)
		if err != nil {
			return err
		}
		received, err := h.pipe.ApplyInbound(ctx, sent)
		if err != nil {
			return err
		}
		h.out.printf("> %s", sent)
		h.out.printf("< %s", received)
		return nil
	case cmdLoad:
		return h.load(ctx, cmd.name, cmd.capability)
	case cmdPlugins:
		h.out.printf("* plugins: %s", strings.Join(h.loader.Plugins(), ", "))
		h.out.printf("* filters: %s", strings.Join(h.pipe.Names(), ", "))
		return nil
	case cmdResults:
		polls, err := h.pollPlugin()
		if err != nil {
			return err
		}
		cached, ok := polls.(interface {
			Results(title string) ([]pluginpkg.OptionCount, bool)
		})
		if !ok {
			return oops.Errorf("poll plugin %s keeps no results", polls.Name())
		}
		results, found := cached.Results(cmd.title)
		if !found {
			h.out.printf("* no results seen for %q", cmd.title)
			return nil
		}
		h.out.printf("%s", formatEvent(pluginpkg.PollEvent{Type: pluginpkg.PollUpdated, Title: cmd.title, Results: results}))
		return nil
	}

	polls, err := h.pollPlugin()
	if err != nil {
		return err
	}
	switch cmd.kind {
	case cmdPoll:
		return polls.CreatePoll(ctx, h.cfg.Channel, cmd.title, cmd.options)
	case cmdVote:
		return polls.Vote(ctx, cmd.title, cmd.option)
	case cmdClose:
		return polls.ClosePoll(ctx, cmd.title)
	case cmdDelete:
		return polls.DeletePoll(ctx, cmd.title)
	}
	return oops.Errorf("unhandled command %q", line)
}

// close releases plugins and waits for the event printers.
func (h *host) close(ctx context.Context) error {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	h.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
	err := h.loader.Close(ctx)
	h.wg.Wait()
	return err
}

// runHostWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runHostWithDeps(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, deps *HostDeps) error {
	if deps == nil {
		deps = &HostDeps{}
	}
	if err := cfg.ValidateHost(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg, "host")
	if err != nil {
		return err
	}

	h, err := newHost(cfg, out, logger, deps)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := h.close(shutdownCtx); err != nil {
			errutil.LogWarn(logger, "failed to close plugins", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A plugin that fails to load is reported and skipped.
	for _, req := range cfg.Load {
		if err := h.load(ctx, req.Name, req.Capability); err != nil {
			errutil.LogError(logger, "failed to load plugin", err, "plugin", req.Name)
			h.out.printf("! %s: %s", displayCode(err), err)
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return oops.Code("INPUT_FAILED").Wrap(err)
					}
				default:
				}
				return nil
			}
			if err := h.handle(ctx, line); err != nil {
				h.out.printf("! %s: %s", displayCode(err), err)
			}
		}
	}
}

func displayCode(err error) string {
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "ERROR"
}
