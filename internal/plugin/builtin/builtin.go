// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package builtin lists the implementations compiled into the host that
// bundles may name with runtime "builtin".
package builtin

import (
	"log/slog"

	"github.com/samber/oops"

	plugins "github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/internal/poll/bridge"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
	"github.com/holomush/palaver/pkg/pluginsdk"
	"github.com/holomush/palaver/plugins/blacklist"
)

// Register adds every builtin implementation to impls.
func Register(impls *plugins.Implementations, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := plugins.Register(impls, blacklist.TypeKey, newBlacklist); err != nil {
		return err
	}
	return plugins.Register(impls, bridge.ImplementationName, func(args pluginpkg.Args, _ map[string]any) (*bridge.Bridge, error) {
		return bridge.New(args, bridge.WithLogger(logger))
	})
}

// New returns a table holding every builtin implementation.
func New(logger *slog.Logger) (*plugins.Implementations, error) {
	impls := plugins.NewImplementations()
	if err := Register(impls, logger); err != nil {
		return nil, err
	}
	return impls, nil
}

func newBlacklist(_ pluginpkg.Args, config map[string]any) (*blacklist.BlackListPlugin, error) {
	words, err := pluginsdk.StringSlice(config, "words")
	if err != nil {
		return nil, oops.With("type", blacklist.TypeKey).Wrap(err)
	}
	return blacklist.New(words...)
}
