package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMeteredCommand creates the parent 'metered' command for the plain,
// usage-metered provider key.
func NewMeteredCommand(remote *Remote) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metered",
		Short: "Manage the usage-metered provider API key",
		Long: `Manage the provider API key that is stored in plain form and metered
per key value. Setting a different key starts a fresh usage counter.

Examples:
  secretvault metered get
  printf %s "$API_KEY" | secretvault metered set
  secretvault metered clear`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the masked key and its usage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := remote.client()
				if err != nil {
					return err
				}
				st, err := c.Get(cmd.Context(), "", "")
				if err != nil {
					return userFacing(err)
				}
				writeStatus(cmd.OutOrStdout(), "metered key", st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set",
			Short: "Store a new key read from stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := readSecret(cmd.InOrStdin(), "", "api key")
				if err != nil {
					return err
				}
				c, err := remote.client()
				if err != nil {
					return err
				}
				usage, err := c.SetAPIKey(cmd.Context(), key)
				if err != nil {
					return userFacing(err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Metered key set (usage %d/%d)\n", usage.Used, usage.Limit)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the key and its usage counter",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := remote.client()
				if err != nil {
					return err
				}
				if err := c.Clear(cmd.Context(), "", ""); err != nil {
					return userFacing(err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Metered key cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "reveal",
			Short: "Print the key (audited)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return reveal(cmd, remote, "", "")
			},
		},
	)

	return cmd
}
