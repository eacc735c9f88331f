// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/internal/config"
	"github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/pkg/errutil"
)

const pollManifest = `
name: PollPlugin
version: 1.0.0
types:
  - key: poll.bridge
    runtime: builtin
`

// bundleFetcher serves packed bundles from memory.
type bundleFetcher struct {
	bundles map[string][]byte
}

func (f *bundleFetcher) Fetch(_ context.Context, d plugin.Descriptor) ([]byte, error) {
	data, ok := f.bundles[d.Name]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *bundleFetcher) Discard(string) {}

// lockedBuffer is an io.Writer safe to read while the host writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func packManifest(t *testing.T, manifest string) []byte {
	t.Helper()
	data, err := plugin.Pack([]plugin.File{{Name: plugin.ManifestFile, Data: []byte(manifest)}})
	require.NoError(t, err)
	return data
}

func testHostConfig(t *testing.T, bundles map[string][]byte) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = "http://chat.test"
	cfg.WorkDir = t.TempDir()
	cfg.CacheDir = t.TempDir()
	for name, data := range bundles {
		cfg.Plugins = append(cfg.Plugins, plugin.Descriptor{
			Name:      name,
			Integrity: plugin.Digest(data),
			Locator:   "http://catalog.test/plugins/{name}",
		})
	}
	return &cfg
}

func TestRunHost_FiltersChat(t *testing.T) {
	bundles := map[string][]byte{"BlackListPlugin": packManifest(t, blacklistManifest)}
	cfg := testHostConfig(t, bundles)
	cfg.Load = []config.LoadRequest{{Name: "BlackListPlugin", Capability: "TextFilter"}}

	out := new(lockedBuffer)
	in := strings.NewReader("this is mist\n/plugins\n")
	err := runHostWithDeps(context.Background(), cfg, in, out, &HostDeps{Fetcher: &bundleFetcher{bundles: bundles}})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "* loaded BlackListPlugin as TextFilter")
	assert.Contains(t, got, "> this is ****")
	assert.Contains(t, got, "< this is ****")
	assert.Contains(t, got, "* plugins: BlackListPlugin")
}

func TestRunHost_PlainTextWithoutFilters(t *testing.T) {
	cfg := testHostConfig(t, nil)

	out := new(lockedBuffer)
	err := runHostWithDeps(context.Background(), cfg, strings.NewReader("this is mist\n"), out, &HostDeps{Fetcher: &bundleFetcher{}})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "> this is mist")
}

func TestRunHost_SkipsPluginsThatFailToLoad(t *testing.T) {
	good := packManifest(t, blacklistManifest)
	bundles := map[string][]byte{"BlackListPlugin": good}
	cfg := testHostConfig(t, bundles)
	// Tampered bytes no longer match the trusted digest.
	tampered := map[string][]byte{"BlackListPlugin": append(append([]byte{}, good...), 0)}
	cfg.Load = []config.LoadRequest{
		{Name: "Unknown", Capability: "TextFilter"},
		{Name: "BlackListPlugin", Capability: "TextFilter"},
	}

	out := new(lockedBuffer)
	err := runHostWithDeps(context.Background(), cfg, strings.NewReader("mist\n"), out, &HostDeps{Fetcher: &bundleFetcher{bundles: tampered}})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "! UNKNOWN_PLUGIN:")
	assert.Contains(t, got, "! INTEGRITY_CHECK_FAILED:")
	assert.Contains(t, got, "> mist")
}

func TestRunHost_ReportsCommandErrors(t *testing.T) {
	cfg := testHostConfig(t, nil)

	out := new(lockedBuffer)
	in := strings.NewReader("/frobnicate\n/vote Lunch | pizza\n/load Missing poll\n")
	err := runHostWithDeps(context.Background(), cfg, in, out, &HostDeps{Fetcher: &bundleFetcher{}})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "! BAD_COMMAND: unknown command /frobnicate")
	assert.Contains(t, got, "! NO_IMPLEMENTATION_FOUND: no poll plugin loaded")
	assert.Contains(t, got, "! UNKNOWN_PLUGIN:")
}

func TestRunHost_RequiresBaseURL(t *testing.T) {
	cfg := testHostConfig(t, nil)
	cfg.BaseURL = ""

	err := runHostWithDeps(context.Background(), cfg, strings.NewReader(""), io.Discard, nil)
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestRunHost_PollsThroughServer(t *testing.T) {
	tokens, err := auth.NewTokens("test-secret")
	require.NoError(t, err)
	serverCfg := config.Default()
	a := newAPI(&serverCfg, poll.NewMemoryRepository(), tokens, nil)
	srv := httptest.NewServer(a.engine)
	t.Cleanup(srv.Close)
	t.Cleanup(a.realtime.Shutdown)

	token, err := tokens.Issue("alice", time.Hour)
	require.NoError(t, err)

	bundles := map[string][]byte{"PollPlugin": packManifest(t, pollManifest)}
	cfg := testHostConfig(t, bundles)
	cfg.BaseURL = srv.URL
	cfg.Token = token
	cfg.Load = []config.LoadRequest{{Name: "PollPlugin", Capability: "poll"}}

	pr, pw := io.Pipe()
	out := new(lockedBuffer)
	done := make(chan error, 1)
	go func() {
		done <- runHostWithDeps(context.Background(), cfg, pr, out, &HostDeps{Fetcher: &bundleFetcher{bundles: bundles}})
	}()

	say := func(line string) {
		t.Helper()
		_, err := io.WriteString(pw, line+"\n")
		require.NoError(t, err)
	}
	waitFor := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool {
			return strings.Contains(out.String(), want)
		}, 5*time.Second, 10*time.Millisecond, "output never contained %q:\n%s", want, out.String())
	}

	waitFor("* loaded PollPlugin as PollCapability")

	say("/poll Lunch | pizza | salad")
	waitFor(`* poll "Lunch" opened: pizza, salad`)

	say("/vote Lunch | pizza")
	waitFor(`* poll "Lunch": pizza=1 salad=0`)

	say("/vote Lunch | pizza")
	waitFor("! ALREADY_VOTED:")

	say("/results Lunch")
	say("/close Lunch")
	waitFor(`* poll "Lunch" closed`)

	require.NoError(t, pw.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("host did not exit")
	}
}
