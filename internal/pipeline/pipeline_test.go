// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/pipeline"
	"github.com/holomush/palaver/pkg/plugin"
	"github.com/holomush/palaver/plugins/blacklist"
)

// funcFilter adapts a pair of functions to plugin.TextFilter.
type funcFilter struct {
	name    string
	send    func(string) (string, error)
	receive func(string) (string, error)
}

func (f *funcFilter) Name() string                     { return f.name }
func (f *funcFilter) Initialize(context.Context) error { return nil }
func (f *funcFilter) Close(context.Context) error      { return nil }

func (f *funcFilter) OnBeforeSend(_ context.Context, text string) (string, error) {
	return f.send(text)
}

func (f *funcFilter) OnBeforeReceive(_ context.Context, text string) (string, error) {
	return f.receive(text)
}

func appender(name, suffix string) *funcFilter {
	fn := func(s string) (string, error) { return s + suffix, nil }
	return &funcFilter{name: name, send: fn, receive: fn}
}

func TestPipeline_EmptyPassesThrough(t *testing.T) {
	p := pipeline.New()

	out, err := p.ApplyOutbound(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Zero(t, p.Len())
}

func TestPipeline_BlacklistBothDirections(t *testing.T) {
	ctx := context.Background()
	bl, err := blacklist.New()
	require.NoError(t, err)

	p := pipeline.New()
	p.Add(bl)

	out, err := p.ApplyOutbound(ctx, "this is mist")
	require.NoError(t, err)
	assert.Equal(t, "this is ****", out)

	in, err := p.ApplyInbound(ctx, "this is mist")
	require.NoError(t, err)
	assert.Equal(t, "this is ****", in)
}

func TestPipeline_RegistrationOrder(t *testing.T) {
	p := pipeline.New()
	p.Add(appender("a", "-a"))
	p.Add(appender("b", "-b"))
	p.Add(appender("c", "-c"))

	out, err := p.ApplyOutbound(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x-a-b-c", out)
	assert.Equal(t, []string{"a", "b", "c"}, p.Names())
}

func TestPipeline_DirectionSelectsHook(t *testing.T) {
	f := &funcFilter{
		name:    "dir",
		send:    func(s string) (string, error) { return strings.ToUpper(s), nil },
		receive: func(s string) (string, error) { return strings.ToLower(s), nil },
	}
	p := pipeline.New()
	p.Add(f)

	out, err := p.ApplyOutbound(context.Background(), "MiXeD")
	require.NoError(t, err)
	assert.Equal(t, "MIXED", out)

	in, err := p.ApplyInbound(context.Background(), "MiXeD")
	require.NoError(t, err)
	assert.Equal(t, "mixed", in)
}

func TestPipeline_FilterErrorFailsMessage(t *testing.T) {
	var laterCalled bool
	failing := &funcFilter{
		name:    "broken",
		send:    func(string) (string, error) { return "", errors.New("boom") },
		receive: func(s string) (string, error) { return s, nil },
	}
	later := &funcFilter{
		name: "later",
		send: func(s string) (string, error) {
			laterCalled = true
			return s, nil
		},
		receive: func(s string) (string, error) { return s, nil },
	}

	p := pipeline.New()
	p.Add(appender("first", "!"))
	p.Add(failing)
	p.Add(later)

	out, err := p.ApplyOutbound(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.False(t, laterCalled)
	assert.Equal(t, plugin.CodeFilterFailed, plugin.ErrorCode(err))

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, "broken", oopsErr.Context()["filter"])
	assert.Equal(t, "outbound", oopsErr.Context()["direction"])
}

func TestPipeline_AddWhileApplying(t *testing.T) {
	ctx := context.Background()
	p := pipeline.New()
	p.Add(appender("base", ""))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Add(appender(fmt.Sprintf("f%d", i), ""))
		}()
		go func() {
			defer wg.Done()
			out, err := p.ApplyInbound(ctx, "steady")
			assert.NoError(t, err)
			assert.Equal(t, "steady", out)
		}()
	}
	wg.Wait()

	assert.Equal(t, 21, p.Len())
}
