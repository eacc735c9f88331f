// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"encoding/json"
	"fmt"
	"os"
)

// ConfigEnv carries the bundle type's config block, JSON encoded, into
// the plugin process.
const ConfigEnv = "PALAVER_PLUGIN_CONFIG"

// Config decodes the config block the host passed to this process. It
// returns an empty map when none was passed.
func Config() (map[string]any, error) {
	raw := os.Getenv(ConfigEnv)
	if raw == "" {
		return map[string]any{}, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("pluginsdk: decode %s: %w", ConfigEnv, err)
	}
	return cfg, nil
}

// StringSlice reads key from cfg as a list of strings.
func StringSlice(cfg map[string]any, key string) ([]string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("pluginsdk: config %q must be a list, got %T", key, v)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("pluginsdk: config %q[%d] must be a string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
