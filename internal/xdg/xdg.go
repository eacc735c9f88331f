// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for Palaver.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "palaver"

// ConfigDir returns the XDG config directory for palaver.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the XDG cache directory for palaver.
// Checks XDG_CACHE_HOME first, falls back to ~/.cache.
func CacheDir() string {
	return dir("XDG_CACHE_HOME", ".cache")
}

// StateDir returns the XDG state directory for palaver.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	return dir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// BundleCacheDir holds partially downloaded plugin bundles.
func BundleCacheDir() string {
	return filepath.Join(CacheDir(), "bundles")
}

// PluginWorkDir holds unpacked plugin bundles.
func PluginWorkDir() string {
	return filepath.Join(StateDir(), "plugins")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func dir(env, fallback string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), fallback)
	}
	return filepath.Join(base, appName)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
