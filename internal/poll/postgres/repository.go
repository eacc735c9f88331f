// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/palaver/internal/poll"
)

// Constraint names from the schema migrations.
const (
	constraintOneVotePerUser = "poll_votes_one_per_user"
	constraintTitle          = "idx_polls_title"
)

// Repository implements poll.Repository using PostgreSQL.
type Repository struct {
	pool poolIface
}

// NewRepository creates a Repository backed by pool.
func NewRepository(pool poolIface) *Repository {
	return &Repository{pool: pool}
}

// Compile-time interface check.
var _ poll.Repository = (*Repository)(nil)

// Create inserts a poll and its options in one transaction.
func (r *Repository) Create(ctx context.Context, p *poll.Poll) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO polls (id, channel_id, created_by_user_id, title, created_at, is_closed)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID.String(), p.ChannelID, p.CreatedByUserID, p.Title, p.CreatedAt, p.IsClosed)
		if isUniqueViolation(err, constraintTitle) {
			return poll.ErrTitleTaken(p.Title)
		}
		if err != nil {
			return oops.With("operation", "insert poll").With("poll_id", p.ID.String()).Wrap(err)
		}

		for _, o := range p.Options {
			if _, err := tx.Exec(ctx, `
				INSERT INTO poll_options (id, poll_id, text, vote_count, position)
				VALUES ($1, $2, $3, $4, $5)
			`, o.ID.String(), p.ID.String(), o.Text, o.VoteCount, o.Position); err != nil {
				return oops.With("operation", "insert poll option").With("poll_id", p.ID.String()).Wrap(err)
			}
		}
		return nil
	})
}

// Get loads a poll and its options.
func (r *Repository) Get(ctx context.Context, id ulid.ULID) (*poll.Poll, error) {
	return getPoll(ctx, r.pool, id)
}

// FindByTitle resolves a title to a poll ID.
func (r *Repository) FindByTitle(ctx context.Context, title string) (ulid.ULID, error) {
	var idStr string
	err := r.pool.QueryRow(ctx, `SELECT id FROM polls WHERE title = $1`, title).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, poll.ErrPollNotFound(title)
	}
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "find poll by title").With("title", title).Wrap(err)
	}
	return parseULID(idStr, "poll_id")
}

// RecordVote validates and stores a vote and bumps the option counter in
// one transaction. The poll row is locked so concurrent votes on the same
// poll are serialized.
func (r *Repository) RecordVote(ctx context.Context, vote poll.Vote, optionText string) (*poll.Poll, error) {
	ref := vote.PollID.String()
	var updated *poll.Poll

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var closed bool
		err := tx.QueryRow(ctx, `SELECT is_closed FROM polls WHERE id = $1 FOR UPDATE`, ref).Scan(&closed)
		if errors.Is(err, pgx.ErrNoRows) {
			return poll.ErrPollNotFound(ref)
		}
		if err != nil {
			return oops.With("operation", "lock poll").With("poll_id", ref).Wrap(err)
		}
		if closed {
			return poll.ErrPollClosed(ref)
		}

		var voted bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM poll_votes WHERE poll_id = $1 AND user_id = $2)
		`, ref, vote.UserID).Scan(&voted); err != nil {
			return oops.With("operation", "check existing vote").With("poll_id", ref).Wrap(err)
		}
		if voted {
			return poll.ErrAlreadyVoted(ref, vote.UserID)
		}

		var optionID string
		err = tx.QueryRow(ctx, `
			SELECT id FROM poll_options WHERE poll_id = $1 AND text = $2
		`, ref, optionText).Scan(&optionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return poll.ErrOptionNotFound(ref, optionText)
		}
		if err != nil {
			return oops.With("operation", "resolve option").With("poll_id", ref).Wrap(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO poll_votes (id, poll_id, poll_option_id, user_id, voted_at)
			VALUES ($1, $2, $3, $4, $5)
		`, vote.ID.String(), ref, optionID, vote.UserID, vote.VotedAt)
		if isUniqueViolation(err, constraintOneVotePerUser) {
			return poll.ErrAlreadyVoted(ref, vote.UserID)
		}
		if err != nil {
			return oops.With("operation", "insert vote").With("poll_id", ref).Wrap(err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE poll_options SET vote_count = vote_count + 1 WHERE id = $1
		`, optionID); err != nil {
			return oops.With("operation", "increment vote count").With("option_id", optionID).Wrap(err)
		}

		updated, err = getPoll(ctx, tx, vote.PollID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close marks a poll closed.
func (r *Repository) Close(ctx context.Context, id ulid.ULID) (*poll.Poll, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE polls SET is_closed = TRUE WHERE id = $1 AND NOT is_closed
	`, id.String())
	if err != nil {
		return nil, false, oops.With("operation", "close poll").With("poll_id", id.String()).Wrap(err)
	}
	p, err := getPoll(ctx, r.pool, id)
	if err != nil {
		return nil, false, err
	}
	return p, tag.RowsAffected() == 1, nil
}

// Delete removes a poll. Options and votes go with it through ON DELETE
// CASCADE.
func (r *Repository) Delete(ctx context.Context, id ulid.ULID) (*poll.Poll, error) {
	var deleted *poll.Poll
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := getPoll(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id.String()); err != nil {
			return oops.With("operation", "delete poll").With("poll_id", id.String()).Wrap(err)
		}
		deleted = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Votes lists the votes recorded for a poll.
func (r *Repository) Votes(ctx context.Context, pollID ulid.ULID) ([]poll.Vote, error) {
	ref := pollID.String()
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM polls WHERE id = $1)`, ref).Scan(&exists); err != nil {
		return nil, oops.With("operation", "check poll").With("poll_id", ref).Wrap(err)
	}
	if !exists {
		return nil, poll.ErrPollNotFound(ref)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, poll_option_id, user_id, voted_at
		FROM poll_votes
		WHERE poll_id = $1
		ORDER BY id
	`, ref)
	if err != nil {
		return nil, oops.With("operation", "list votes").With("poll_id", ref).Wrap(err)
	}
	defer rows.Close()

	votes := make([]poll.Vote, 0)
	for rows.Next() {
		var idStr, optionStr string
		v := poll.Vote{PollID: pollID}
		if err := rows.Scan(&idStr, &optionStr, &v.UserID, &v.VotedAt); err != nil {
			return nil, oops.With("operation", "scan vote").Wrap(err)
		}
		if v.ID, err = parseULID(idStr, "vote_id"); err != nil {
			return nil, err
		}
		if v.PollOptionID, err = parseULID(optionStr, "poll_option_id"); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate votes").Wrap(err)
	}
	return votes, nil
}

func getPoll(ctx context.Context, q querier, id ulid.ULID) (*poll.Poll, error) {
	ref := id.String()
	p := &poll.Poll{ID: id}
	var createdAt time.Time
	err := q.QueryRow(ctx, `
		SELECT channel_id, created_by_user_id, title, created_at, is_closed
		FROM polls WHERE id = $1
	`, ref).Scan(&p.ChannelID, &p.CreatedByUserID, &p.Title, &createdAt, &p.IsClosed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, poll.ErrPollNotFound(ref)
	}
	if err != nil {
		return nil, oops.With("operation", "get poll").With("poll_id", ref).Wrap(err)
	}
	p.CreatedAt = createdAt

	rows, err := q.Query(ctx, `
		SELECT id, text, vote_count, position
		FROM poll_options
		WHERE poll_id = $1
		ORDER BY position
	`, ref)
	if err != nil {
		return nil, oops.With("operation", "list options").With("poll_id", ref).Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var o poll.Option
		var idStr string
		if err := rows.Scan(&idStr, &o.Text, &o.VoteCount, &o.Position); err != nil {
			return nil, oops.With("operation", "scan option").Wrap(err)
		}
		if o.ID, err = parseULID(idStr, "option_id"); err != nil {
			return nil, err
		}
		p.Options = append(p.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate options").Wrap(err)
	}
	return p, nil
}

func parseULID(s, field string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "parse "+field).With(field, s).Wrap(err)
	}
	return id, nil
}
