// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/internal/config"
	"github.com/holomush/palaver/internal/observability"
	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/internal/realtime/wire"
	"github.com/holomush/palaver/pkg/errutil"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

func writeBundle(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".bundle"), data, 0o600))
}

func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.TokenSecret = "test-secret"
	cfg.BundleDir = t.TempDir()
	return &cfg
}

func TestNewAPI_ServesCatalog(t *testing.T) {
	cfg := testServerConfig(t)
	writeBundle(t, cfg.BundleDir, "BlackListPlugin", []byte("bundle bytes"))
	tokens, err := auth.NewTokens(cfg.TokenSecret)
	require.NoError(t, err)

	a := newAPI(cfg, poll.NewMemoryRepository(), tokens, nil)
	srv := httptest.NewServer(a.engine)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/plugins/BlackListPlugin")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bundle bytes", string(body))
}

func TestNewAPI_CatalogDisabledWithoutBundleDir(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.BundleDir = ""
	tokens, err := auth.NewTokens(cfg.TokenSecret)
	require.NoError(t, err)

	a := newAPI(cfg, poll.NewMemoryRepository(), tokens, nil)
	srv := httptest.NewServer(a.engine)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/plugins/BlackListPlugin")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewAPI_PollChannel(t *testing.T) {
	cfg := testServerConfig(t)
	tokens, err := auth.NewTokens(cfg.TokenSecret)
	require.NoError(t, err)

	a := newAPI(cfg, poll.NewMemoryRepository(), tokens, nil)
	srv := httptest.NewServer(a.engine)
	t.Cleanup(srv.Close)
	t.Cleanup(a.realtime.Shutdown)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/polls"

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("broadcasts created poll", func(t *testing.T) {
		token, err := tokens.Issue("alice", time.Hour)
		require.NoError(t, err)
		ws, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": []string{"Bearer " + token}})
		require.NoError(t, err)
		_ = resp.Body.Close()
		defer func() { _ = ws.Close() }()

		require.NoError(t, ws.WriteJSON(wire.Action{
			Action:    wire.ActionCreatePoll,
			ChannelID: "general",
			Title:     "Lunch",
			Options:   []string{"pizza", "salad"},
		}))

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev wire.Event
		require.NoError(t, ws.ReadJSON(&ev))
		assert.Equal(t, string(pluginpkg.PollCreated), ev.Event)
		assert.Equal(t, "Lunch", ev.Title)
		assert.Equal(t, []string{"pizza", "salad"}, ev.Options)
	})
}

func TestRunServerWithDeps_ServesUntilCancelled(t *testing.T) {
	cfg := testServerConfig(t)
	writeBundle(t, cfg.BundleDir, "BlackListPlugin", []byte("bundle bytes"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	released := make(chan struct{})
	deps := &ServerDeps{
		RepositoryFactory: func(context.Context, string) (poll.Repository, func(), error) {
			return poll.NewMemoryRepository(), func() { close(released) }, nil
		},
		Ready: func(addr string) { addrCh <- addr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runServerWithDeps(ctx, cfg, deps) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + addr + "/plugins/BlackListPlugin")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	select {
	case <-released:
	default:
		t.Fatal("repository was not released")
	}
}

type fakeObservability struct {
	addr    string
	regs    int
	started bool
	stopped bool
}

func (f *fakeObservability) Start() (<-chan error, error) {
	f.started = true
	return make(chan error), nil
}

func (f *fakeObservability) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeObservability) Addr() string { return f.addr }

func TestRunServerWithDeps_StartsObservability(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &fakeObservability{}
	deps := &ServerDeps{
		ObservabilityServerFactory: func(addr string, _ observability.ReadinessChecker, regs ...observability.Registrar) ObservabilityServer {
			obs.addr = addr
			obs.regs = len(regs)
			return obs
		},
		Ready: func(string) { cancel() },
	}

	require.NoError(t, runServerWithDeps(ctx, cfg, deps))
	assert.True(t, obs.started)
	assert.True(t, obs.stopped)
	assert.Equal(t, "127.0.0.1:0", obs.addr)
	assert.Equal(t, 4, obs.regs)
}

func TestRunServerWithDeps_RequiresTokenSecret(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.TokenSecret = ""

	err := runServerWithDeps(context.Background(), cfg, nil)
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestRunServerWithDeps_RepositoryFailure(t *testing.T) {
	cfg := testServerConfig(t)
	deps := &ServerDeps{
		RepositoryFactory: func(context.Context, string) (poll.Repository, func(), error) {
			return nil, nil, errors.New("connection refused")
		},
	}

	err := runServerWithDeps(context.Background(), cfg, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

type fakeAutoMigrator struct {
	upErr  error
	ups    int
	closes int
}

func (m *fakeAutoMigrator) Up() error    { m.ups++; return m.upErr }
func (m *fakeAutoMigrator) Close() error { m.closes++; return nil }

func TestAutoMigrate(t *testing.T) {
	t.Run("applies migrations", func(t *testing.T) {
		m := &fakeAutoMigrator{}
		err := autoMigrate("postgres://db", func(string) (AutoMigrator, error) { return m, nil })
		require.NoError(t, err)
		assert.Equal(t, 1, m.ups)
		assert.Equal(t, 1, m.closes)
	})

	t.Run("reports migration failure", func(t *testing.T) {
		m := &fakeAutoMigrator{upErr: errors.New("dirty database")}
		err := autoMigrate("postgres://db", func(string) (AutoMigrator, error) { return m, nil })
		errutil.AssertErrorCode(t, err, "AUTO_MIGRATION_FAILED")
		assert.Equal(t, 1, m.closes)
	})

	t.Run("reports factory failure", func(t *testing.T) {
		err := autoMigrate("postgres://db", func(string) (AutoMigrator, error) { return nil, errors.New("bad url") })
		errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	})
}

func TestRunServerWithDeps_AutoMigrates(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.DatabaseURL = "postgres://db"
	cfg.AutoMigrate = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &fakeAutoMigrator{}
	var gotURL string
	deps := &ServerDeps{
		MigratorFactory: func(string) (AutoMigrator, error) { return m, nil },
		RepositoryFactory: func(_ context.Context, url string) (poll.Repository, func(), error) {
			gotURL = url
			return poll.NewMemoryRepository(), func() {}, nil
		},
		Ready: func(string) { cancel() },
	}

	require.NoError(t, runServerWithDeps(ctx, cfg, deps))
	assert.Equal(t, 1, m.ups)
	assert.Equal(t, "postgres://db", gotURL)
}
