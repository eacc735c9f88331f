// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads Palaver configuration from a YAML file and command
// line flags. Flags that were set explicitly win over the file.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/palaver/internal/plugin"
	"github.com/holomush/palaver/pkg/errutil"
	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// CodeInvalidConfig marks configuration that failed validation.
const CodeInvalidConfig = "INVALID_CONFIG"

// Default values.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultMetricsAddr  = "127.0.0.1:9100"
	DefaultCatalogURL   = "http://127.0.0.1:8080"
	DefaultLogFormat    = "json"
	DefaultLogLevel     = "info"
	DefaultChannel      = "general"
	DefaultFetchTimeout = plugin.DefaultFetchTimeout
)

// LoadRequest names a plugin the host loads at startup and the capability
// it is loaded as.
type LoadRequest struct {
	Name       string `koanf:"name" yaml:"name"`
	Capability string `koanf:"capability" yaml:"capability"`
}

// Config is the merged configuration for every subcommand.
type Config struct {
	LogFormat string `koanf:"log-format"`
	LogLevel  string `koanf:"log-level"`

	// Server side.
	Addr        string `koanf:"addr"`
	MetricsAddr string `koanf:"metrics-addr"`
	BundleDir   string `koanf:"bundle-dir"`
	DatabaseURL string `koanf:"database-url"`
	AutoMigrate bool   `koanf:"auto-migrate"`
	TokenSecret string `koanf:"token-secret"`

	// Host side.
	CatalogURL   string        `koanf:"catalog-url"`
	BaseURL      string        `koanf:"base-url"`
	Token        string        `koanf:"token"`
	FetchTimeout time.Duration `koanf:"fetch-timeout"`
	CacheDir     string        `koanf:"cache-dir"`
	WorkDir      string        `koanf:"work-dir"`
	// Channel is the channel polls created from the host belong to.
	Channel string `koanf:"channel"`

	// Plugins is the trust registry.
	Plugins []plugin.Descriptor `koanf:"plugins"`
	// Load lists plugins loaded at host startup, in order.
	Load []LoadRequest `koanf:"load"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogFormat:    DefaultLogFormat,
		LogLevel:     DefaultLogLevel,
		Addr:         DefaultAddr,
		MetricsAddr:  DefaultMetricsAddr,
		CatalogURL:   DefaultCatalogURL,
		FetchTimeout: DefaultFetchTimeout,
		Channel:      DefaultChannel,
	}
}

// Load merges defaults, the YAML file at path, and flags. A missing file
// is skipped unless required is set.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrapf(err, "load config file")
			}
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code(CodeInvalidConfig).Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalidConfig).Wrapf(err, "decode config")
	}
	cfg.applyLocatorDefaults()
	return &cfg, nil
}

// applyLocatorDefaults points descriptors without a locator at the catalog.
func (c *Config) applyLocatorDefaults() {
	base := strings.TrimRight(c.CatalogURL, "/")
	for i := range c.Plugins {
		if c.Plugins[i].Locator == "" {
			c.Plugins[i].Locator = base + "/plugins/" + plugin.NamePlaceholder
		}
	}
}

// Registry builds the trust registry from Plugins.
func (c *Config) Registry() (*plugin.TrustRegistry, error) {
	r, err := plugin.NewTrustRegistry(c.Plugins...)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("cause_code", errutil.Code(err)).Errorf("trust registry: %v", err)
	}
	return r, nil
}

// Validate checks settings shared by every subcommand.
func (c *Config) Validate() error {
	errb := oops.Code(CodeInvalidConfig)
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errb.With("log-format", c.LogFormat).Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.FetchTimeout <= 0 {
		return errb.With("fetch-timeout", c.FetchTimeout).Errorf("fetch-timeout must be positive")
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	for _, req := range c.Load {
		if _, err := pluginpkg.ParseCapability(req.Capability); err != nil {
			return errb.With("plugin", req.Name).Errorf("load %s: %v", req.Name, err)
		}
	}
	return nil
}

// ValidateServer checks settings the server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	errb := oops.Code(CodeInvalidConfig)
	if c.Addr == "" {
		return errb.Errorf("addr is required")
	}
	if c.TokenSecret == "" {
		return errb.Errorf("token-secret is required")
	}
	return nil
}

// ValidateHost checks settings the host needs.
func (c *Config) ValidateHost() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.BaseURL == "" {
		return oops.Code(CodeInvalidConfig).Errorf("base-url is required")
	}
	return nil
}
