package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/models"
)

type tokenOptions struct {
	userID string
	name   string
	ttl    time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user",
		Long: `Mint a JWT signed with the configured secret.

The token authenticates against both the ledger node and the relay server,
and can be used as the node's DEVICE_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name shown to counterparts")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type tokenResult struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt"`
}

func runToken(rootOpts *RootOptions, opts *tokenOptions, cmd *cobra.Command) error {
	secret := rootOpts.cfg.Auth.JWTSecret
	if secret == "" {
		return errors.New("JWT secret is required (set JWT_SECRET)")
	}
	ttl := opts.ttl
	if ttl <= 0 {
		ttl = rootOpts.cfg.Auth.TokenDuration
	}

	token, err := auth.NewJWTManager(secret, ttl).Generate(models.Identity{UserID: opts.userID, DisplayName: opts.name})
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), tokenResult{
			Token:     token,
			UserID:    opts.userID,
			ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339),
		})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
