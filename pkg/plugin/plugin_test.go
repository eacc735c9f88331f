// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/pkg/plugin"
)

type nopFilter struct{}

func (nopFilter) Name() string { return "nop" }
func (nopFilter) Initialize(context.Context) error { return nil }
func (nopFilter) Close(context.Context) error { return nil }
func (nopFilter) OnBeforeSend(_ context.Context, s string) (string, error) {
	return s, nil
}

func (nopFilter) OnBeforeReceive(_ context.Context, s string) (string, error) {
	return s, nil
}

func TestImplements(t *testing.T) {
	var p plugin.Plugin = nopFilter{}

	assert.True(t, plugin.Implements(p, plugin.CapabilityTextFilter))
	assert.False(t, plugin.Implements(p, plugin.CapabilityPoll))
	assert.False(t, plugin.Implements(p, plugin.Capability("Bogus")))
	assert.Equal(t, []plugin.Capability{plugin.CapabilityTextFilter}, plugin.CapabilitiesOf(p))
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		in      string
		want    plugin.Capability
		wantErr bool
	}{
		{"TextFilter", plugin.CapabilityTextFilter, false},
		{"text-filter", plugin.CapabilityTextFilter, false},
		{"PollCapability", plugin.CapabilityPoll, false},
		{"poll", plugin.CapabilityPoll, false},
		{"sandbox", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := plugin.ParseCapability(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPollEvent_Tally(t *testing.T) {
	ev := plugin.PollEvent{
		Type:  plugin.PollUpdated,
		Title: "Weekly Sync",
		Results: []plugin.OptionCount{
			{Option: "Mon", Count: 1},
			{Option: "Tue", Count: 0},
		},
	}

	assert.Equal(t, map[string]int{"Mon": 1, "Tue": 0}, ev.Tally())
}

func TestErrorCode(t *testing.T) {
	_, err := plugin.ParseCapability("sandbox")
	assert.Equal(t, plugin.CodeUnknownCapability, plugin.ErrorCode(err))
	assert.Empty(t, plugin.ErrorCode(assert.AnError))
	assert.Empty(t, plugin.ErrorCode(nil))
}
