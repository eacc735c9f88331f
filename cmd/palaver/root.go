// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/palaver/internal/config"
	"github.com/holomush/palaver/internal/logging"
	"github.com/holomush/palaver/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Palaver CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "palaver",
		Short: "Palaver - chat with verified runtime plugins",
		Long: `Palaver is a chat service whose host loads plugins from an untrusted
catalog, verifies their integrity, and wires them into the message
pipeline and the real-time poll feature.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/palaver/config.yaml)")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServerCmd())
	cmd.AddCommand(NewHostCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewDigestCmd())
	cmd.AddCommand(NewBundleCmd())
	cmd.AddCommand(NewTokenCmd())

	return cmd
}

// loadConfig merges the config file with the flags of cmd. An explicit
// --config must exist; the XDG default may be absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, required := configFile, true
	if path == "" {
		path, required = xdg.ConfigFile(), false
	}
	return config.Load(path, required, cmd.Flags())
}

// setupLogging installs the default logger for component.
func setupLogging(cfg *config.Config, component string) (*slog.Logger, error) {
	if err := logging.SetDefault(logging.Options{
		Service: "palaver-" + component,
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	}); err != nil {
		return nil, oops.Code("LOGGING_SETUP_FAILED").Wrap(err)
	}
	return slog.Default(), nil
}

// monitorServerErrors cancels the context when a server reports an error.
// It exits when an error is received, the channel is closed, or the
// context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
