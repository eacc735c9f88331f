// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/pkg/errutil"
)

func TestTokenCmd(t *testing.T) {
	printed, err := execute(t, "token", "--token-secret", "s3cret", "--user", "alice")
	require.NoError(t, err)

	tokens, err := auth.NewTokens("s3cret")
	require.NoError(t, err)
	user, err := tokens.Verify(strings.TrimSpace(printed))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	_, err := execute(t, "token", "--user", "alice")
	errutil.AssertErrorCode(t, err, "INVALID_CONFIG")
}

func TestTokenCmd_RequiresUser(t *testing.T) {
	_, err := execute(t, "token", "--token-secret", "s3cret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}
