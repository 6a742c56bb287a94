package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretvault/pkg/client"
)

// NewSecretsCommand creates the parent 'secrets' command
func NewSecretsCommand(remote *Remote) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "List, inspect, reveal and store integration secrets",
		Long: `Manage encrypted integration secrets on a running vault server.

Values are never printed except by 'reveal', which the server audits.

Examples:
  secretvault secrets list
  printf %s "$TOKEN" | secretvault secrets upsert acme token
  secretvault secrets status acme token
  secretvault secrets reveal acme token`,
	}

	cmd.AddCommand(
		newSecretsListCommand(remote),
		newSecretsStatusCommand(remote),
		newSecretsRevealCommand(remote),
		newSecretsUpsertCommand(remote),
	)

	return cmd
}

func newSecretsListCommand(remote *Remote) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored records without their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			items, err := c.List(cmd.Context())
			if err != nil {
				return userFacing(err)
			}
			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			return writeSecretsTable(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json")

	return cmd
}

func writeSecretsTable(out io.Writer, items []client.Metadata) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "No secrets stored")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tNAME\tUPDATED\tMASTER KEY")
	for _, it := range items {
		master := ""
		if it.IsMasterKey {
			master = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Provider, it.Name, it.UpdatedAt.UTC().Format(time.RFC3339), master)
	}
	return w.Flush()
}

func newSecretsStatusCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "status <provider> <name>",
		Short: "Show whether a secret is configured",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			st, err := c.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return userFacing(err)
			}
			writeStatus(cmd.OutOrStdout(), args[0]+"/"+args[1], st)
			return nil
		},
	}
}

func newSecretsRevealCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <provider> <name>",
		Short: "Print a secret's plaintext (audited)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reveal(cmd, remote, args[0], args[1])
		},
	}
}

func newSecretsUpsertCommand(remote *Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "upsert <provider> <name>",
		Short: "Encrypt and store a secret read from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readSecret(cmd.InOrStdin(), "", "secret value")
			if err != nil {
				return err
			}
			c, err := remote.client()
			if err != nil {
				return err
			}
			if err := c.UpsertSecret(cmd.Context(), args[0], args[1], value); err != nil {
				return userFacing(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func reveal(cmd *cobra.Command, remote *Remote, provider, name string) error {
	c, err := remote.client()
	if err != nil {
		return err
	}
	r, err := c.Reveal(cmd.Context(), provider, name)
	if err != nil {
		return userFacing(err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), r.Value)
	return err
}

func writeStatus(out io.Writer, label string, st client.Status) {
	if !st.Configured {
		fmt.Fprintf(out, "%s: not configured\n", label)
		return
	}
	fmt.Fprintf(out, "%s: configured", label)
	if st.UpdatedAt != nil {
		fmt.Fprintf(out, " (updated %s)", st.UpdatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	if st.APIKeyMasked != "" {
		fmt.Fprintf(out, "  key:   %s\n", st.APIKeyMasked)
	}
	if st.Usage != nil {
		fmt.Fprintf(out, "  usage: %d/%d", st.Usage.Used, st.Usage.Limit)
		if st.Usage.Exhausted {
			fmt.Fprint(out, " (exhausted)")
		}
		fmt.Fprintln(out)
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
