package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/secretvault/internal/config"
)

// NewMigrateCommand applies the schema to the configured database.
func NewMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the vault schema",
		Long: `Apply the idempotent schema for the configured driver: secrets,
usage counters, audit log, user roles and the write lock row.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadServerConfig(cfg)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), def)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%s)\n", def.Database.Driver)
			return nil
		},
	}
}
