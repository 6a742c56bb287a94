package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretvault/internal/authz"
	"github.com/systmms/secretvault/internal/config"
	verrors "github.com/systmms/secretvault/internal/errors"
)

// NewTokenCommand issues a bearer token signed with the configured secret.
func NewTokenCommand(cfg *config.Config) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long: `Sign a token for --user with the server's JWT secret. Useful for local
deployments without an identity provider. The user still needs the
super-admin role in user_roles to be admitted.

Examples:
  secretvault token --user admin-1 --ttl 1h | secretvault login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return verrors.UserError{
					Message:    "--user is required",
					Suggestion: "Pass the user id that holds the super-admin role",
				}
			}
			cfg.AllowMissing = true
			if err := cfg.Load(); err != nil {
				return err
			}
			if cfg.Definition.Auth.JWTSecret == "" {
				return verrors.ConfigError{
					Field:      "auth.jwt_secret",
					Message:    "JWT signing secret is required",
					Suggestion: "Set auth.jwt_secret or " + config.EnvJWTSecret,
				}
			}

			tok, err := authz.SignToken(authConfig(cfg.Definition), userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}
