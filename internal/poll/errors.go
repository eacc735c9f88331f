// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll

import (
	"github.com/samber/oops"

	"github.com/holomush/palaver/pkg/errutil"
)

// Error codes for poll business failures. These are reported to the acting
// caller only and never broadcast.
const (
	CodePollNotFound   = "POLL_NOT_FOUND"
	CodePollClosed     = "POLL_CLOSED"
	CodeAlreadyVoted   = "ALREADY_VOTED"
	CodeOptionNotFound = "OPTION_NOT_FOUND"
	CodeTitleTaken     = "POLL_TITLE_TAKEN"
	CodeInvalidPoll    = "INVALID_POLL"
)

// ErrPollNotFound creates an error for a missing poll.
func ErrPollNotFound(ref string) error {
	return oops.Code(CodePollNotFound).
		With("poll", ref).
		Errorf("poll %s not found", ref)
}

// ErrPollClosed creates an error for a vote on a closed poll.
func ErrPollClosed(ref string) error {
	return oops.Code(CodePollClosed).
		With("poll", ref).
		Errorf("poll %s is closed", ref)
}

// ErrAlreadyVoted creates an error for a second vote by the same user.
func ErrAlreadyVoted(ref, userID string) error {
	return oops.Code(CodeAlreadyVoted).
		With("poll", ref).
		With("user_id", userID).
		Errorf("user %s already voted in poll %s", userID, ref)
}

// ErrOptionNotFound creates an error for a vote on an unknown option.
func ErrOptionNotFound(ref, option string) error {
	return oops.Code(CodeOptionNotFound).
		With("poll", ref).
		With("option", option).
		Errorf("poll %s has no option %q", ref, option)
}

// ErrTitleTaken creates an error for a poll title already in use.
func ErrTitleTaken(title string) error {
	return oops.Code(CodeTitleTaken).
		With("title", title).
		Errorf("a poll titled %q already exists", title)
}

// ErrInvalidPoll creates an error for a rejected poll definition.
func ErrInvalidPoll(reason string) error {
	return oops.Code(CodeInvalidPoll).
		With("reason", reason).
		Errorf("invalid poll: %s", reason)
}

// IsBusinessError reports whether err is a recoverable poll failure that
// should be reported back to the acting caller.
func IsBusinessError(err error) bool {
	switch errutil.Code(err) {
	case CodePollNotFound, CodePollClosed, CodeAlreadyVoted,
		CodeOptionNotFound, CodeTitleTaken, CodeInvalidPoll:
		return true
	default:
		return false
	}
}
