// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk provides the SDK for building Palaver binary text filters.
//
// Binary plugins communicate with the Palaver host via gRPC using the
// HashiCorp go-plugin framework. This package provides helpers to simplify
// plugin development.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"strings"
//
//		"github.com/holomush/palaver/pkg/pluginsdk"
//	)
//
//	type Shout struct{}
//
//	func (Shout) OnBeforeSend(_ context.Context, text string) (string, error) {
//		return strings.ToUpper(text), nil
//	}
//
//	func (Shout) OnBeforeReceive(_ context.Context, text string) (string, error) {
//		return text, nil
//	}
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Filter: Shout{}})
//	}
package pluginsdk

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// Filter is the interface that binary plugins must implement.
type Filter interface {
	// OnBeforeSend transforms text leaving the local client.
	OnBeforeSend(ctx context.Context, text string) (string, error)
	// OnBeforeReceive transforms text arriving at the local client.
	OnBeforeReceive(ctx context.Context, text string) (string, error)
}

// PluginName is the key under which the filter is dispensed.
const PluginName = "filter"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PALAVER_PLUGIN",
	MagicCookieValue: "palaver-text-filter-v1",
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	PluginName: &FilterPlugin{},
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Filter is the text filter implementation.
	// Required; Serve will panic if nil.
	Filter Filter
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Filter == nil {
		panic("pluginsdk: config.Filter cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &FilterPlugin{Impl: config.Filter},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
	})
}

// FilterPlugin implements go-plugin's Plugin interface for gRPC.
type FilterPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the plugin side only.
	Impl Filter
}

// GRPCServer registers the filter service (called by plugin process).
func (p *FilterPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("pluginsdk: filter is nil")
	}
	RegisterFilterServer(s, p.Impl)
	return nil
}

// GRPCClient returns a filter client (called by host process).
func (p *FilterPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewFilterClient(c), nil
}
