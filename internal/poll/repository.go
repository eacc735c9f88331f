// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Repository persists polls. Every method is atomic with respect to the
// poll it touches.
type Repository interface {
	// Create stores a new poll and its options. Returns POLL_TITLE_TAKEN when
	// another live poll already uses the title.
	Create(ctx context.Context, p *Poll) error

	// Get returns a poll with its options. Returns POLL_NOT_FOUND.
	Get(ctx context.Context, id ulid.ULID) (*Poll, error)

	// FindByTitle resolves a title to a poll ID. Returns POLL_NOT_FOUND.
	FindByTitle(ctx context.Context, title string) (ulid.ULID, error)

	// RecordVote checks the poll is open, resolves optionText, inserts the
	// vote and increments the option counter as one unit. At most one vote
	// per (poll, user) is ever stored. Returns the updated poll.
	RecordVote(ctx context.Context, vote Vote, optionText string) (*Poll, error)

	// Close marks a poll closed. changed is false when it already was.
	Close(ctx context.Context, id ulid.ULID) (p *Poll, changed bool, err error)

	// Delete removes the poll, its options and its votes, returning the
	// poll as it was before removal.
	Delete(ctx context.Context, id ulid.ULID) (*Poll, error)

	// Votes lists the votes recorded for a poll.
	Votes(ctx context.Context, pollID ulid.ULID) ([]Vote, error)
}
