// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin downloads, verifies, and instantiates plugin bundles.
package plugin

import (
	"path"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	pluginpkg "github.com/holomush/palaver/pkg/plugin"
)

// RuntimeKind identifies how a bundle type is executed.
type RuntimeKind string

// Runtimes supported by the loader.
const (
	RuntimeBuiltin RuntimeKind = "builtin"
	RuntimeLua     RuntimeKind = "lua"
	RuntimeBinary  RuntimeKind = "binary"
)

// ManifestFile is the manifest's path inside a bundle.
const ManifestFile = "plugin.yaml"

// Manifest represents a bundle's plugin.yaml file.
type Manifest struct {
	Name        string     `yaml:"name" jsonschema:"pattern=^[A-Za-z][A-Za-z0-9-]*$,maxLength=64"`
	Version     string     `yaml:"version" jsonschema:"minLength=1"`
	Description string     `yaml:"description,omitempty"`
	Types       []TypeSpec `yaml:"types" jsonschema:"minItems=1"`
}

// TypeSpec declares one implementation shipped in a bundle.
type TypeSpec struct {
	// Key identifies the type, e.g. "blacklist.filter".
	Key     string      `yaml:"key" jsonschema:"pattern=^[a-z][a-z0-9]*([._-][a-z0-9]+)*$"`
	Runtime RuntimeKind `yaml:"runtime" jsonschema:"enum=builtin,enum=lua,enum=binary"`
	// Entry is the Lua script, relative to the bundle root.
	Entry string `yaml:"entry,omitempty"`
	// Executable is the go-plugin binary, relative to the bundle root.
	Executable string `yaml:"executable,omitempty"`
	// Config is passed to the implementation at construction.
	Config map[string]any `yaml:"config,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
	typeKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9]*([._-][a-z0-9]+)*$`)
)

// ValidName reports whether name is usable as a plugin name.
func ValidName(name string) bool {
	return len(name) <= maxNameLength && namePattern.MatchString(name)
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("manifest").Code(pluginpkg.CodeInvalidBundle).Errorf("%s", FormatSchemaError(err))
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Code(pluginpkg.CodeInvalidBundle).Errorf("invalid YAML: %v", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints the schema cannot express.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").Code(pluginpkg.CodeInvalidBundle).With("plugin", m.Name)

	if !ValidName(m.Name) {
		return errb.Errorf("name %q must start with a letter, contain only letters, digits, and hyphens, and be at most %d characters", m.Name, maxNameLength)
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return errb.With("version", m.Version).Errorf("version %q is not a semantic version: %v", m.Version, err)
	}
	if len(m.Types) == 0 {
		return errb.Errorf("at least one type is required")
	}

	seen := make(map[string]bool, len(m.Types))
	for i, t := range m.Types {
		terr := errb.With("type", t.Key).With("index", i)
		if !typeKeyPattern.MatchString(t.Key) {
			return terr.Errorf("type key %q is invalid", t.Key)
		}
		if seen[t.Key] {
			return terr.Errorf("duplicate type key %q", t.Key)
		}
		seen[t.Key] = true

		switch t.Runtime {
		case RuntimeBuiltin:
		case RuntimeLua:
			if !localPath(t.Entry) {
				return terr.Errorf("lua type %q needs an entry inside the bundle", t.Key)
			}
		case RuntimeBinary:
			if !localPath(t.Executable) {
				return terr.Errorf("binary type %q needs an executable inside the bundle", t.Key)
			}
		default:
			return terr.Errorf("runtime must be 'builtin', 'lua' or 'binary', got %q", t.Runtime)
		}
	}

	return nil
}

// SemVer returns the parsed manifest version.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.StrictNewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// localPath reports whether p is a non-empty relative path that stays
// inside the bundle root.
func localPath(p string) bool {
	if p == "" || path.IsAbs(p) {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !hasDotDotPrefix(clean)
}

func hasDotDotPrefix(p string) bool {
	return len(p) >= 3 && p[:3] == "../"
}
