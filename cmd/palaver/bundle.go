// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/palaver/internal/plugin"
)

// NewDigestCmd creates the digest subcommand.
func NewDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <bundle>",
		Short: "Print the integrity token of a bundle file",
		Long: `Print the lowercase hex SHA-256 of a bundle. Put this value in the
host's trust registry as the plugin's integrity token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return oops.Code("READ_FAILED").With("path", args[0]).Wrap(err)
			}
			cmd.Println(plugin.Digest(data))
			return nil
		},
	}
}

// NewBundleCmd creates the bundle subcommand.
func NewBundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <dir> <out>",
		Short: "Pack a plugin directory into a bundle",
		Long: `Pack a directory holding plugin.yaml and its runtime files into a
gzip-compressed tar bundle, validate it, and print its integrity token.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := plugin.PackDir(args[0])
			if err != nil {
				return err
			}
			if err := checkBundle(data); err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil { //nolint:gosec // bundles are public artifacts
				return oops.Code("WRITE_FAILED").With("path", args[1]).Wrap(err)
			}
			cmd.Println(plugin.Digest(data))
			return nil
		},
	}
}

// checkBundle unpacks data into a scratch directory so the manifest is
// validated the way the host will validate it.
func checkBundle(data []byte) error {
	dir, err := os.MkdirTemp("", "palaver-bundle-*")
	if err != nil {
		return oops.Wrap(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	_, err = plugin.Unpack(data, filepath.Join(dir, "check"))
	return err
}
