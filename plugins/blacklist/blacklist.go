// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package blacklist provides a text filter that masks blacklisted words.
package blacklist

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// TypeKey is the bundle type key the filter is registered under.
const TypeKey = "blacklist.filter"

// CodeInvalidPattern is returned for word patterns that do not compile.
const CodeInvalidPattern = "BLACKLIST_INVALID_PATTERN"

// DefaultWords is used when no words are configured.
var DefaultWords = []string{"mist"}

// BlackListPlugin replaces every blacklisted word with asterisks of the
// same rune length. Matching is case-insensitive and patterns may use glob
// syntax ("mis*", "m?st").
type BlackListPlugin struct {
	words    []string
	patterns []glob.Glob
}

// New compiles words into a filter. An empty list selects DefaultWords.
func New(words ...string) (*BlackListPlugin, error) {
	if len(words) == 0 {
		words = DefaultWords
	}
	p := &BlackListPlugin{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		g, err := glob.Compile(w)
		if err != nil {
			return nil, oops.Code(CodeInvalidPattern).With("pattern", w).Wrapf(err, "compile pattern %q", w)
		}
		p.words = append(p.words, w)
		p.patterns = append(p.patterns, g)
	}
	return p, nil
}

// Name returns the implementation name.
func (p *BlackListPlugin) Name() string {
	return "BlackListPlugin"
}

// Words returns the configured patterns.
func (p *BlackListPlugin) Words() []string {
	return append([]string(nil), p.words...)
}

// Initialize is a no-op.
func (p *BlackListPlugin) Initialize(context.Context) error {
	return nil
}

// Close is a no-op.
func (p *BlackListPlugin) Close(context.Context) error {
	return nil
}

// OnBeforeSend masks outgoing text.
func (p *BlackListPlugin) OnBeforeSend(_ context.Context, text string) (string, error) {
	return p.Mask(text), nil
}

// OnBeforeReceive masks incoming text.
func (p *BlackListPlugin) OnBeforeReceive(_ context.Context, text string) (string, error) {
	return p.Mask(text), nil
}

// Mask replaces each word of text that matches a pattern. A word is a
// maximal run of letters and digits; masked output contains no such runs,
// so masking is idempotent.
func (p *BlackListPlugin) Mask(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		if p.matches(word) {
			b.WriteString(strings.Repeat("*", utf8.RuneCountInString(word)))
		} else {
			b.WriteString(word)
		}
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(text))
	return b.String()
}

func (p *BlackListPlugin) matches(word string) bool {
	lower := strings.ToLower(word)
	for _, g := range p.patterns {
		if g.Match(lower) {
			return true
		}
	}
	return false
}
