// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/internal/config"
)

const defaultTokenTTL = 24 * time.Hour

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Mint a bearer token for a user, signed with the server's token secret.
Hosts pass it to the catalog and the poll channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.TokenSecret == "" {
				return oops.Code(config.CodeInvalidConfig).Errorf("token-secret is required")
			}
			tokens, err := auth.NewTokens(cfg.TokenSecret)
			if err != nil {
				return err
			}
			raw, err := tokens.Issue(userID, ttl)
			if err != nil {
				return err
			}
			cmd.Println(raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	cmd.Flags().String("token-secret", "", "shared secret for bearer tokens")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck // flag is defined above

	return cmd
}
