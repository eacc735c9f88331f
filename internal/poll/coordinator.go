// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/palaver/internal/core"
	"github.com/holomush/palaver/pkg/plugin"
)

var tracer = otel.Tracer("palaver/poll")

// Event is a lifecycle change published after it has been committed.
type Event struct {
	Type plugin.PollEventType
	Poll *Poll
}

// Publisher fans committed poll events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// CoordinatorConfig holds the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Repository Repository
	Publisher  Publisher
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Coordinator is the authority for poll mutations. Mutations and the
// publication of the resulting event happen under a per-poll lock, so
// subscribers observe events for one poll in commit order.
type Coordinator struct {
	repo      Repository
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
	locks     core.KeyedMutex
}

// NewCoordinator creates a coordinator. Panics if cfg.Repository is nil.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Repository == nil {
		panic("poll: repository is required")
	}
	c := &Coordinator{
		repo:      cfg.Repository,
		publisher: cfg.Publisher,
		now:       cfg.Clock,
		logger:    cfg.Logger,
	}
	if c.publisher == nil {
		c.publisher = PublisherFunc(func(context.Context, Event) {})
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// CreatePoll validates and stores a new open poll with zero counts, then
// publishes PollCreated.
func (c *Coordinator) CreatePoll(ctx context.Context, channelID, userID, title string, options []string) (p *Poll, err error) {
	ctx, span := c.start(ctx, "poll.create", attribute.String("poll.title", title))
	defer func() { c.finish(span, "create", err) }()

	title, cleaned, err := normalizeNewPoll(channelID, userID, title, options)
	if err != nil {
		return nil, err
	}

	now := c.now()
	p = &Poll{
		ID:              core.NewULIDAt(now),
		ChannelID:       channelID,
		CreatedByUserID: userID,
		Title:           title,
		CreatedAt:       now,
		Options:         make([]Option, len(cleaned)),
	}
	for i, text := range cleaned {
		p.Options[i] = Option{ID: core.NewULIDAt(now), Text: text, Position: i}
	}

	// Held across insert and publish so no vote event can precede creation.
	unlock := c.locks.Lock(p.ID.String())
	defer unlock()

	if err = c.repo.Create(ctx, p); err != nil {
		return nil, oops.With("title", title).Wrap(err)
	}
	c.publish(ctx, plugin.PollCreated, p)
	c.logger.InfoContext(ctx, "poll created",
		"poll_id", p.ID.String(),
		"title", p.Title,
		"channel_id", channelID,
		"user_id", userID,
	)
	return p.Clone(), nil
}

// Vote records userID's choice and publishes PollUpdated with the full
// tally. Rejections are returned to the caller and nothing is published.
func (c *Coordinator) Vote(ctx context.Context, pollID ulid.ULID, userID, option string) (p *Poll, err error) {
	ctx, span := c.start(ctx, "poll.vote",
		attribute.String("poll.id", pollID.String()),
		attribute.String("user.id", userID),
	)
	defer func() { c.finish(span, "vote", err) }()

	unlock := c.locks.Lock(pollID.String())
	defer unlock()

	now := c.now()
	p, err = c.repo.RecordVote(ctx, Vote{
		ID:      core.NewULIDAt(now),
		PollID:  pollID,
		UserID:  userID,
		VotedAt: now,
	}, strings.TrimSpace(option))
	if err != nil {
		return nil, oops.With("user_id", userID).Wrap(err)
	}
	c.publish(ctx, plugin.PollUpdated, p)
	return p, nil
}

// ClosePoll closes a poll. Closing an already closed poll succeeds without
// publishing a second PollClosed.
func (c *Coordinator) ClosePoll(ctx context.Context, pollID ulid.ULID) (p *Poll, err error) {
	ctx, span := c.start(ctx, "poll.close", attribute.String("poll.id", pollID.String()))
	defer func() { c.finish(span, "close", err) }()

	unlock := c.locks.Lock(pollID.String())
	defer unlock()

	p, changed, err := c.repo.Close(ctx, pollID)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	if changed {
		c.publish(ctx, plugin.PollClosed, p)
		c.logger.InfoContext(ctx, "poll closed", "poll_id", pollID.String(), "title", p.Title)
	}
	return p, nil
}

// DeletePoll removes a poll with its options and votes and publishes
// PollDeleted.
func (c *Coordinator) DeletePoll(ctx context.Context, pollID ulid.ULID) (err error) {
	ctx, span := c.start(ctx, "poll.delete", attribute.String("poll.id", pollID.String()))
	defer func() { c.finish(span, "delete", err) }()

	unlock := c.locks.Lock(pollID.String())
	defer unlock()

	p, err := c.repo.Delete(ctx, pollID)
	if err != nil {
		return oops.Wrap(err)
	}
	c.publish(ctx, plugin.PollDeleted, p)
	c.logger.InfoContext(ctx, "poll deleted", "poll_id", pollID.String(), "title", p.Title)
	return nil
}

// LookupByTitle resolves a poll title to its ID. The title is trimmed the
// same way CreatePoll trims it.
func (c *Coordinator) LookupByTitle(ctx context.Context, title string) (ulid.ULID, error) {
	title = strings.TrimSpace(title)
	id, err := c.repo.FindByTitle(ctx, title)
	if err != nil {
		return ulid.ULID{}, oops.With("title", title).Wrap(err)
	}
	return id, nil
}

// GetPoll returns a snapshot of a poll.
func (c *Coordinator) GetPoll(ctx context.Context, pollID ulid.ULID) (*Poll, error) {
	p, err := c.repo.Get(ctx, pollID)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	return p, nil
}

// GetResults returns the tally of the poll with the given title.
func (c *Coordinator) GetResults(ctx context.Context, title string) ([]Result, error) {
	id, err := c.LookupByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	p, err := c.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Results(), nil
}

func (c *Coordinator) publish(ctx context.Context, typ plugin.PollEventType, p *Poll) {
	c.publisher.Publish(ctx, Event{Type: typ, Poll: p.Clone()})
}

func (c *Coordinator) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (c *Coordinator) finish(span trace.Span, action string, err error) {
	recordAction(action, err)
	if err != nil {
		span.SetAttributes(attribute.String("error.code", errorCode(err)))
		if !IsBusinessError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
