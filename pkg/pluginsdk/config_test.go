// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Unset(t *testing.T) {
	t.Setenv(ConfigEnv, "")

	cfg, err := Config()
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestConfig_Decodes(t *testing.T) {
	t.Setenv(ConfigEnv, `{"words":["mist","fog"]}`)

	cfg, err := Config()
	require.NoError(t, err)

	words, err := StringSlice(cfg, "words")
	require.NoError(t, err)
	assert.Equal(t, []string{"mist", "fog"}, words)
}

func TestConfig_Invalid(t *testing.T) {
	t.Setenv(ConfigEnv, `{not json`)

	_, err := Config()
	assert.Error(t, err)
}

func TestStringSlice(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		want    []string
		wantErr bool
	}{
		{"missing", map[string]any{}, nil, false},
		{"null", map[string]any{"words": nil}, nil, false},
		{"list", map[string]any{"words": []any{"a"}}, []string{"a"}, false},
		{"not a list", map[string]any{"words": "a"}, nil, true},
		{"not strings", map[string]any{"words": []any{1}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StringSlice(tt.cfg, "words")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
