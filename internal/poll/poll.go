// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package poll owns poll, option and vote state and the poll lifecycle:
// Open -> Closed, with deletion allowed from either state.
package poll

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Limits applied when a poll is created.
const (
	MinOptions     = 2
	MaxOptions     = 20
	MaxTitleLength = 200
	MaxOptionText  = 100
)

// Option is one choice in a poll.
type Option struct {
	ID        ulid.ULID
	Text      string
	VoteCount int
	Position  int
}

// Poll is a question posted to a channel.
type Poll struct {
	ID              ulid.ULID
	ChannelID       string
	CreatedByUserID string
	Title           string
	CreatedAt       time.Time
	IsClosed        bool
	Options         []Option
}

// Vote records one user's choice in a poll.
type Vote struct {
	ID           ulid.ULID
	PollID       ulid.ULID
	PollOptionID ulid.ULID
	UserID       string
	VotedAt      time.Time
}

// Result is the tally for a single option.
type Result struct {
	Option string
	Count  int
}

// Results returns the current tally in option order.
func (p *Poll) Results() []Result {
	results := make([]Result, len(p.Options))
	for i, o := range p.Options {
		results[i] = Result{Option: o.Text, Count: o.VoteCount}
	}
	return results
}

// OptionTexts returns the option texts in order.
func (p *Poll) OptionTexts() []string {
	texts := make([]string, len(p.Options))
	for i, o := range p.Options {
		texts[i] = o.Text
	}
	return texts
}

// FindOption returns the option with the given text.
func (p *Poll) FindOption(text string) (*Option, bool) {
	for i := range p.Options {
		if p.Options[i].Text == text {
			return &p.Options[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can hold snapshots outside a lock.
func (p *Poll) Clone() *Poll {
	c := *p
	c.Options = append([]Option(nil), p.Options...)
	return &c
}

// normalizeNewPoll trims input and enforces creation constraints.
func normalizeNewPoll(channelID, userID, title string, options []string) (string, []string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil, ErrInvalidPoll("title is required")
	}
	if len(title) > MaxTitleLength {
		return "", nil, ErrInvalidPoll("title is too long")
	}
	if strings.TrimSpace(channelID) == "" {
		return "", nil, ErrInvalidPoll("channel is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", nil, ErrInvalidPoll("creator is required")
	}
	if len(options) < MinOptions {
		return "", nil, ErrInvalidPoll("a poll needs at least two options")
	}
	if len(options) > MaxOptions {
		return "", nil, ErrInvalidPoll("too many options")
	}

	seen := make(map[string]bool, len(options))
	cleaned := make([]string, 0, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			return "", nil, ErrInvalidPoll("options cannot be empty")
		case len(o) > MaxOptionText:
			return "", nil, ErrInvalidPoll("option text is too long")
		case seen[o]:
			return "", nil, ErrInvalidPoll("duplicate option " + o)
		}
		seen[o] = true
		cleaned = append(cleaned, o)
	}
	return title, cleaned, nil
}
