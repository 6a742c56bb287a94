package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	verrors "github.com/systmms/secretvault/internal/errors"
)

// NewMasterCommand creates the parent 'master' command
func NewMasterCommand(remote *Remote) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Set or rotate the master key",
		Long: `Manage the master key that encrypts every integration secret.

Keys are read from stdin. 'rotate' expects two lines: the current key, then
the new one. Rotation re-encrypts all secrets in a single transaction.

Examples:
  printf '%s\n' "$MASTER_KEY" | secretvault master set
  printf '%s\n%s\n' "$OLD" "$NEW" | secretvault master rotate`,
	}

	cmd.AddCommand(
		newMasterSetCommand(remote),
		newMasterRotateCommand(remote),
	)

	return cmd
}

func newMasterSetCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the master key read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readSecret(cmd.InOrStdin(), "", "master key")
			if err != nil {
				return err
			}
			c, err := remote.client()
			if err != nil {
				return err
			}
			if err := c.SetMasterKey(cmd.Context(), key); err != nil {
				return userFacing(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Master key set")
			return nil
		},
	}
}

func newMasterRotateCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt every secret under a new master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := bufio.NewScanner(cmd.InOrStdin())
			var keys []string
			for len(keys) < 2 && r.Scan() {
				keys = append(keys, strings.TrimRight(r.Text(), "\r"))
			}
			if err := r.Err(); err != nil {
				return fmt.Errorf("failed to read keys from stdin: %w", err)
			}
			if len(keys) < 2 || keys[0] == "" || keys[1] == "" {
				return verrors.UserError{
					Message:    "the current and new master keys are required",
					Suggestion: "Pipe two lines on stdin: the current key, then the new key",
				}
			}

			c, err := remote.client()
			if err != nil {
				return err
			}
			n, err := c.RotateMasterKey(cmd.Context(), keys[0], keys[1])
			if err != nil {
				return userFacing(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Master key rotated; %d secret(s) re-encrypted\n", n)
			return nil
		},
	}
}
