// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/palaver/internal/plugin"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// memFetcher serves bundles from memory and counts calls per name.
type memFetcher struct {
	mu        sync.Mutex
	bundles   map[string][]byte
	calls     map[string]int
	discarded []string
	err       error
}

func newMemFetcher() *memFetcher {
	return &memFetcher{bundles: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *memFetcher) put(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles[name] = data
}

func (f *memFetcher) Fetch(_ context.Context, d plugins.Descriptor) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[d.Name]++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.bundles[d.Name]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *memFetcher) Discard(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, name)
}

func (f *memFetcher) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// testFilter is a builtin TextFilter that records its lifecycle.
type testFilter struct {
	name    string
	initErr error
	inits   atomic.Int32
	closes  atomic.Int32
}

func (f *testFilter) Name() string { return f.name }

func (f *testFilter) Initialize(context.Context) error {
	f.inits.Add(1)
	return f.initErr
}

func (f *testFilter) Close(context.Context) error {
	f.closes.Add(1)
	return nil
}

func (f *testFilter) OnBeforeSend(_ context.Context, text string) (string, error) {
	return text + "!", nil
}

func (f *testFilter) OnBeforeReceive(_ context.Context, text string) (string, error) {
	return text, nil
}

// testPoll is a builtin that only satisfies the base Plugin contract plus
// the poll contract.
type testPoll struct{}

func (testPoll) Name() string                     { return "test.poll" }
func (testPoll) Initialize(context.Context) error { return nil }
func (testPoll) Close(context.Context) error      { return nil }
func (testPoll) Subscribe(int) (<-chan pluginpkg.PollEvent, func()) {
	ch := make(chan pluginpkg.PollEvent)
	close(ch)
	return ch, func() {}
}
func (testPoll) CreatePoll(context.Context, string, string, []string) error { return nil }
func (testPoll) Vote(context.Context, string, string) error                 { return nil }
func (testPoll) ClosePoll(context.Context, string) error                    { return nil }
func (testPoll) DeletePoll(context.Context, string) error                   { return nil }

// bundle packs a manifest and extra files.
func bundle(t *testing.T, manifest string, extra ...plugins.File) []byte {
	t.Helper()
	files := append([]plugins.File{{Name: plugins.ManifestFile, Data: []byte(manifest)}}, extra...)
	data, err := plugins.Pack(files)
	require.NoError(t, err)
	return data
}

func descriptor(name string, data []byte) plugins.Descriptor {
	return plugins.Descriptor{
		Name:      name,
		Integrity: plugins.Digest(data),
		Locator:   "http://catalog.test/plugins/{name}",
	}
}

func registry(t *testing.T, descs ...plugins.Descriptor) *plugins.TrustRegistry {
	t.Helper()
	r, err := plugins.NewTrustRegistry(descs...)
	require.NoError(t, err)
	return r
}
