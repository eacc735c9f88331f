// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/pkg/errutil"
)

const blacklistManifest = `
name: BlackListPlugin
version: 1.0.0
types:
  - key: blacklist.filter
    runtime: builtin
    config:
      words: [mist]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBundleCmd(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, plugin.ManifestFile), []byte(blacklistManifest), 0o600))
	out := filepath.Join(t.TempDir(), "BlackListPlugin.bundle")

	printed, err := execute(t, "bundle", src, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plugin.Digest(data), strings.TrimSpace(printed))
}

func TestBundleCmd_InvalidManifest(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, plugin.ManifestFile), []byte("name: 1bad\n"), 0o600))
	out := filepath.Join(t.TempDir(), "bad.bundle")

	_, err := execute(t, "bundle", src, out)
	errutil.AssertErrorCode(t, err, "INVALID_BUNDLE")
	assert.NoFileExists(t, out)
}

func TestDigestCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.bundle")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	printed, err := execute(t, "digest", path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", strings.TrimSpace(printed))
}

func TestDigestCmd_MissingFile(t *testing.T) {
	_, err := execute(t, "digest", filepath.Join(t.TempDir(), "missing"))
	errutil.AssertErrorCode(t, err, "READ_FAILED")
}
