// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// CodeInvalidDescriptor is returned for malformed trust registry entries.
const CodeInvalidDescriptor = "INVALID_DESCRIPTOR"

// NamePlaceholder is replaced with the plugin name in a locator.
const NamePlaceholder = "{name}"

// Descriptor is a trusted plugin entry configured on the host.
type Descriptor struct {
	// Name is the registry key and catalog name.
	Name string `koanf:"name" yaml:"name"`
	// Integrity is the expected hex SHA-256 of the bundle.
	Integrity string `koanf:"integrity" yaml:"integrity"`
	// Locator is the download URL; "{name}" is replaced with Name.
	Locator string `koanf:"locator" yaml:"locator"`
}

// URL expands the locator for this descriptor.
func (d Descriptor) URL() string {
	return strings.ReplaceAll(d.Locator, NamePlaceholder, url.PathEscape(d.Name))
}

// Validate checks the descriptor is well formed.
func (d Descriptor) Validate() error {
	errb := oops.Code(CodeInvalidDescriptor).With("plugin", d.Name)
	if !ValidName(d.Name) {
		return errb.Errorf("invalid plugin name %q", d.Name)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(d.Integrity))
	if err != nil || len(raw) != 32 {
		return errb.Errorf("integrity token for %s must be 64 hex characters", d.Name)
	}
	u, err := url.Parse(d.URL())
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errb.With("locator", d.Locator).Errorf("locator for %s must be an http(s) URL", d.Name)
	}
	return nil
}

// TrustRegistry maps plugin names to their trusted descriptors. It is
// immutable once built.
type TrustRegistry struct {
	entries map[string]Descriptor
}

// NewTrustRegistry validates and indexes descriptors.
func NewTrustRegistry(descs ...Descriptor) (*TrustRegistry, error) {
	r := &TrustRegistry{entries: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.entries[d.Name]; dup {
			return nil, oops.Code(CodeInvalidDescriptor).With("plugin", d.Name).Errorf("plugin %s is listed twice", d.Name)
		}
		r.entries[d.Name] = d
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *TrustRegistry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.entries[name]
	return d, ok
}

// Names returns the registered plugin names, sorted.
func (r *TrustRegistry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
