package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/pkg/client"
)

// NewLoginCommand stores a bearer token for the selected server in the OS keyring.
func NewLoginCommand(remote *Remote) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for a vault server in the OS keyring",
		Long: `Read a bearer token from stdin and save it in the OS keyring
(macOS Keychain, Secret Service on Linux, Windows Credential Manager) under
the server URL. Later commands against the same --server pick it up
automatically.

Examples:
  secretvault token --user admin-1 | secretvault login --server https://vault.internal
  pbpaste | secretvault login --verify=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := readSecret(cmd.InOrStdin(), "", "token")
			if err != nil {
				return err
			}

			if verify {
				if _, err := client.New(remote.Server, tok).List(cmd.Context()); err != nil {
					return userFacing(err)
				}
			}

			if err := keyring.Set(keyringService, remote.Server, tok); err != nil {
				return verrors.UserError{
					Message:    "Failed to store token in the OS keyring",
					Details:    err.Error(),
					Suggestion: "Use " + EnvToken + " instead on machines without a keyring",
					Err:        err,
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", remote.Server)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", true, "Check the token against the server before saving it")

	return cmd
}

// NewLogoutCommand removes the stored token for the selected server.
func NewLogoutCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token for a vault server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := keyring.Delete(keyringService, remote.Server)
			if err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return verrors.UserError{
					Message: "Failed to remove token from the OS keyring",
					Details: err.Error(),
					Err:     err,
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", remote.Server)
			return nil
		},
	}
}
