// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bridge implements plugin.PollCapability on top of the poll
// websocket. It relays actions to the server and fans the events it
// receives out to local subscribers.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/palaver/internal/realtime/wire"
	"github.com/holomush/palaver/pkg/plugin"
)

// ImplementationName is the builtin type key of the bridge.
const ImplementationName = "poll.bridge"

// Error codes.
const (
	CodeInvalidArgs  = "BRIDGE_INVALID_ARGS"
	CodeDialFailed   = "BRIDGE_DIAL_FAILED"
	CodeNotConnected = "BRIDGE_NOT_CONNECTED"
	CodeSendFailed   = "BRIDGE_SEND_FAILED"
)

const (
	wsPath       = "/ws/polls"
	writeTimeout = 10 * time.Second
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithBackoff sets the reconnect backoff factory. Each reconnect cycle gets
// a fresh backoff.
func WithBackoff(newBackoff func() retry.Backoff) Option {
	return func(b *Bridge) { b.newBackoff = newBackoff }
}

// WithHandshakeTimeout bounds each dial attempt.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.dialer.HandshakeTimeout = d }
}

// DefaultBackoff is exponential from 100ms, capped at 10s, with jitter.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithCappedDuration(10*time.Second, b)
	return retry.WithJitterPercent(10, b)
}

// Bridge is the poll plugin backed by a live websocket connection.
type Bridge struct {
	url        string
	token      string
	dialer     websocket.Dialer
	logger     *slog.Logger
	newBackoff func() retry.Backoff

	mu      sync.Mutex
	ws      *websocket.Conn
	subs    map[int]chan plugin.PollEvent
	nextSub int
	results map[string][]plugin.OptionCount
	closed  bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// Compile-time interface check.
var _ plugin.PollCapability = (*Bridge)(nil)

// New creates a bridge for the service at args.BaseURL.
func New(args plugin.Args, opts ...Option) (*Bridge, error) {
	wsURL, err := websocketURL(args.BaseURL)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		url:        wsURL,
		token:      args.Token,
		dialer:     websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     slog.Default(),
		newBackoff: DefaultBackoff,
		subs:       make(map[int]chan plugin.PollEvent),
		results:    make(map[string][]plugin.OptionCount),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("plugin", ImplementationName)
	return b, nil
}

// websocketURL maps http(s)://host/base to ws(s)://host/base/ws/polls.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", oops.Code(CodeInvalidArgs).With("base_url", base).Wrap(err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", oops.Code(CodeInvalidArgs).With("base_url", base).Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", oops.Code(CodeInvalidArgs).With("base_url", base).Errorf("base URL has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + wsPath
	return u.String(), nil
}

// Name returns the implementation name.
func (b *Bridge) Name() string { return ImplementationName }

// Initialize dials the server and starts receiving events. A failed dial
// fails initialization.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.closed || b.ws != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	ws, err := b.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.ws = ws
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(runCtx, ws)
	b.logger.InfoContext(ctx, "poll bridge connected", "url", b.url)
	return nil
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	ws, resp, err := b.dialer.DialContext(ctx, b.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		e := oops.Code(CodeDialFailed).With("url", b.url)
		if resp != nil {
			e = e.With("status", resp.StatusCode)
		}
		return nil, e.Wrap(err)
	}
	return ws, nil
}

// run reads until the connection drops, then redials until closed.
func (b *Bridge) run(ctx context.Context, ws *websocket.Conn) {
	defer b.wg.Done()
	for {
		b.readLoop(ws)
		_ = ws.Close()

		b.mu.Lock()
		closed := b.closed
		if b.ws == ws {
			b.ws = nil
		}
		b.mu.Unlock()
		if closed {
			return
		}

		b.logger.Warn("poll bridge disconnected, reconnecting")
		next, err := b.reconnect(ctx)
		if err != nil {
			return
		}
		ws = next
	}
}

func (b *Bridge) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	err := retry.Do(ctx, b.newBackoff(), func(ctx context.Context) error {
		conn, err := b.dial(ctx)
		if err != nil {
			b.logger.Debug("poll bridge redial failed", "error", err)
			return retry.RetryableError(err)
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = ws.Close()
		return nil, oops.Code(CodeNotConnected).Errorf("bridge closed during reconnect")
	}
	b.ws = ws
	b.logger.Info("poll bridge reconnected", "url", b.url)
	return ws, nil
}

func (b *Bridge) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame wire.Event
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("ignoring malformed event frame", "error", err)
			continue
		}
		b.deliver(frame.PollEvent())
	}
}

func (b *Bridge) deliver(ev plugin.PollEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Type {
	case plugin.PollCreated:
		counts := make([]plugin.OptionCount, len(ev.Options))
		for i, opt := range ev.Options {
			counts[i] = plugin.OptionCount{Option: opt}
		}
		b.results[ev.Title] = counts
	case plugin.PollUpdated:
		b.results[ev.Title] = ev.Results
	case plugin.PollDeleted:
		delete(b.results, ev.Title)
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("poll event dropped: subscriber buffer full",
				"subscriber", id,
				"event", string(ev.Type),
				"title", ev.Title,
			)
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; Close does the same for every subscriber.
func (b *Bridge) Subscribe(buffer int) (<-chan plugin.PollEvent, func()) {
	ch := make(chan plugin.PollEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Results returns the last tally seen for title.
func (b *Bridge) Results(title string) ([]plugin.OptionCount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.results[title]
	if !ok {
		return nil, false
	}
	return append([]plugin.OptionCount(nil), r...), true
}

// CreatePoll asks the server to create a poll.
func (b *Bridge) CreatePoll(ctx context.Context, channelID, title string, options []string) error {
	return b.send(ctx, wire.Action{Action: wire.ActionCreatePoll, ChannelID: channelID, Title: title, Options: options})
}

// Vote casts a vote. Rejections arrive later as PollError events.
func (b *Bridge) Vote(ctx context.Context, title, option string) error {
	return b.send(ctx, wire.Action{Action: wire.ActionVote, Title: title, Option: option})
}

// ClosePoll asks the server to close a poll.
func (b *Bridge) ClosePoll(ctx context.Context, title string) error {
	return b.send(ctx, wire.Action{Action: wire.ActionClosePoll, Title: title})
}

// DeletePoll asks the server to delete a poll.
func (b *Bridge) DeletePoll(ctx context.Context, title string) error {
	return b.send(ctx, wire.Action{Action: wire.ActionDeletePoll, Title: title})
}

// send writes an action frame. It returns once the frame is handed to the
// transport.
func (b *Bridge) send(ctx context.Context, a wire.Action) error {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	if ws == nil {
		return oops.Code(CodeNotConnected).With("action", a.Action).Errorf("poll bridge is not connected")
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(a); err != nil {
		return oops.Code(CodeSendFailed).With("action", a.Action).Wrap(err)
	}
	return nil
}

// Close disconnects, stops reconnecting, and closes every subscriber
// channel.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	ws := b.ws
	b.ws = nil
	b.mu.Unlock()

	if ws != nil {
		b.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()
		_ = ws.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.With("plugin", ImplementationName).Wrap(ctx.Err())
	}
}
