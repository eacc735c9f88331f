// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/core"
	"github.com/holomush/palaver/pkg/errutil"
)

func newTestPoll(title string, options ...string) *Poll {
	now := time.Now()
	p := &Poll{
		ID:              core.NewULID(),
		ChannelID:       "general",
		CreatedByUserID: "alice",
		Title:           title,
		CreatedAt:       now,
	}
	for i, text := range options {
		p.Options = append(p.Options, Option{ID: core.NewULID(), Text: text, Position: i})
	}
	return p
}

func newTestVote(p *Poll, userID string) Vote {
	return Vote{ID: core.NewULID(), PollID: p.ID, UserID: userID, VotedAt: time.Now()}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestPoll("Lunch", "Pizza", "Sushi")

	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lunch", got.Title)
	assert.Equal(t, []string{"Pizza", "Sushi"}, got.OptionTexts())
	assert.False(t, got.IsClosed)

	id, err := repo.FindByTitle(ctx, "Lunch")
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)
}

func TestMemoryRepository_CreateRejectsDuplicateTitle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newTestPoll("Lunch", "A", "B")))

	err := repo.Create(ctx, newTestPoll("Lunch", "C", "D"))
	errutil.AssertErrorCode(t, err, CodeTitleTaken)
}

func TestMemoryRepository_GetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestPoll("Lunch", "Pizza", "Sushi")
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	got.Options[0].VoteCount = 99

	again, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Options[0].VoteCount)
}

func TestMemoryRepository_RecordVote(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    func(repo *MemoryRepository, p *Poll)
		user     string
		option   string
		wantCode string
	}{
		{
			name:   "counts a vote",
			user:   "bob",
			option: "Pizza",
		},
		{
			name: "rejects second vote by same user",
			setup: func(repo *MemoryRepository, p *Poll) {
				_, err := repo.RecordVote(ctx, newTestVote(p, "bob"), "Sushi")
				require.NoError(t, err)
			},
			user:     "bob",
			option:   "Pizza",
			wantCode: CodeAlreadyVoted,
		},
		{
			name: "rejects vote on closed poll",
			setup: func(repo *MemoryRepository, p *Poll) {
				_, _, err := repo.Close(ctx, p.ID)
				require.NoError(t, err)
			},
			user:     "bob",
			option:   "Pizza",
			wantCode: CodePollClosed,
		},
		{
			name:     "rejects unknown option",
			user:     "bob",
			option:   "Tacos",
			wantCode: CodeOptionNotFound,
		},
		{
			name: "closed check precedes duplicate check",
			setup: func(repo *MemoryRepository, p *Poll) {
				_, err := repo.RecordVote(ctx, newTestVote(p, "bob"), "Sushi")
				require.NoError(t, err)
				_, _, err = repo.Close(ctx, p.ID)
				require.NoError(t, err)
			},
			user:     "bob",
			option:   "Pizza",
			wantCode: CodePollClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			p := newTestPoll("Lunch", "Pizza", "Sushi")
			require.NoError(t, repo.Create(ctx, p))
			if tt.setup != nil {
				tt.setup(repo, p)
			}
			before, err := repo.Get(ctx, p.ID)
			require.NoError(t, err)

			updated, err := repo.RecordVote(ctx, newTestVote(p, tt.user), tt.option)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				after, getErr := repo.Get(ctx, p.ID)
				require.NoError(t, getErr)
				assert.Equal(t, before.Results(), after.Results(), "failed vote must not change counts")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []Result{{Option: "Pizza", Count: 1}, {Option: "Sushi", Count: 0}}, updated.Results())
		})
	}
}

func TestMemoryRepository_RecordVoteUnknownPoll(t *testing.T) {
	repo := NewMemoryRepository()
	p := newTestPoll("Ghost", "A", "B")

	_, err := repo.RecordVote(context.Background(), newTestVote(p, "bob"), "A")
	errutil.AssertErrorCode(t, err, CodePollNotFound)
}

func TestMemoryRepository_CountsMatchVotes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestPoll("Lunch", "Pizza", "Sushi")
	require.NoError(t, repo.Create(ctx, p))

	for _, v := range []struct{ user, option string }{
		{"a", "Pizza"}, {"b", "Sushi"}, {"c", "Pizza"},
	} {
		_, err := repo.RecordVote(ctx, newTestVote(p, v.user), v.option)
		require.NoError(t, err)
	}

	votes, err := repo.Votes(ctx, p.ID)
	require.NoError(t, err)
	perOption := map[string]int{}
	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	for _, v := range votes {
		for _, o := range got.Options {
			if o.ID == v.PollOptionID {
				perOption[o.Text]++
			}
		}
	}
	for _, o := range got.Options {
		assert.Equal(t, perOption[o.Text], o.VoteCount, "option %s", o.Text)
	}
}

func TestMemoryRepository_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestPoll("Lunch", "Pizza", "Sushi")
	require.NoError(t, repo.Create(ctx, p))

	closed, changed, err := repo.Close(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, closed.IsClosed)

	_, changed, err = repo.Close(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := newTestPoll("Lunch", "Pizza", "Sushi")
	require.NoError(t, repo.Create(ctx, p))
	_, err := repo.RecordVote(ctx, newTestVote(p, "bob"), "Pizza")
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lunch", deleted.Title)

	_, err = repo.FindByTitle(ctx, "Lunch")
	errutil.AssertErrorCode(t, err, CodePollNotFound)
	_, err = repo.Votes(ctx, p.ID)
	errutil.AssertErrorCode(t, err, CodePollNotFound)

	// The title is free again.
	require.NoError(t, repo.Create(ctx, newTestPoll("Lunch", "A", "B")))
}
