// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryRepository is an in-process Repository. A single mutex makes every
// operation atomic, which gives the same guarantees as the unique
// (poll_id, user_id) constraint in PostgreSQL.
type MemoryRepository struct {
	mu      sync.Mutex
	polls   map[ulid.ULID]*Poll
	byTitle map[string]ulid.ULID
	votes   map[ulid.ULID]map[string]Vote // poll ID -> user ID -> vote
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		polls:   make(map[ulid.ULID]*Poll),
		byTitle: make(map[string]ulid.ULID),
		votes:   make(map[ulid.ULID]map[string]Vote),
	}
}

// Compile-time interface check.
var _ Repository = (*MemoryRepository)(nil)

// Create stores a new poll.
func (r *MemoryRepository) Create(_ context.Context, p *Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byTitle[p.Title]; taken {
		return ErrTitleTaken(p.Title)
	}
	r.polls[p.ID] = p.Clone()
	r.byTitle[p.Title] = p.ID
	r.votes[p.ID] = make(map[string]Vote)
	return nil
}

// Get returns a snapshot of a poll.
func (r *MemoryRepository) Get(_ context.Context, id ulid.ULID) (*Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.polls[id]
	if !ok {
		return nil, ErrPollNotFound(id.String())
	}
	return p.Clone(), nil
}

// FindByTitle resolves a title to a poll ID.
func (r *MemoryRepository) FindByTitle(_ context.Context, title string) (ulid.ULID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byTitle[title]
	if !ok {
		return ulid.ULID{}, ErrPollNotFound(title)
	}
	return id, nil
}

// RecordVote records a vote atomically.
func (r *MemoryRepository) RecordVote(_ context.Context, vote Vote, optionText string) (*Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := vote.PollID.String()
	p, ok := r.polls[vote.PollID]
	if !ok {
		return nil, ErrPollNotFound(ref)
	}
	if p.IsClosed {
		return nil, ErrPollClosed(ref)
	}
	if _, voted := r.votes[vote.PollID][vote.UserID]; voted {
		return nil, ErrAlreadyVoted(ref, vote.UserID)
	}
	opt, ok := p.FindOption(optionText)
	if !ok {
		return nil, ErrOptionNotFound(ref, optionText)
	}

	vote.PollOptionID = opt.ID
	r.votes[vote.PollID][vote.UserID] = vote
	opt.VoteCount++
	return p.Clone(), nil
}

// Close marks a poll closed.
func (r *MemoryRepository) Close(_ context.Context, id ulid.ULID) (*Poll, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.polls[id]
	if !ok {
		return nil, false, ErrPollNotFound(id.String())
	}
	if p.IsClosed {
		return p.Clone(), false, nil
	}
	p.IsClosed = true
	return p.Clone(), true, nil
}

// Delete removes a poll and everything it owns.
func (r *MemoryRepository) Delete(_ context.Context, id ulid.ULID) (*Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.polls[id]
	if !ok {
		return nil, ErrPollNotFound(id.String())
	}
	delete(r.votes, id)
	delete(r.byTitle, p.Title)
	delete(r.polls, id)
	return p, nil
}

// Votes lists the votes for a poll ordered by vote ID.
func (r *MemoryRepository) Votes(_ context.Context, pollID ulid.ULID) ([]Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.votes[pollID]
	if !ok {
		return nil, ErrPollNotFound(pollID.String())
	}
	votes := make([]Vote, 0, len(byUser))
	for _, v := range byUser {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ID.Compare(votes[j].ID) < 0 })
	return votes, nil
}
