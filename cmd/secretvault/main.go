package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secretvault/cmd/secretvault/commands"
	"github.com/systmms/secretvault/internal/config"
	"github.com/systmms/secretvault/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	remote := &commands.Remote{}

	rootCmd := &cobra.Command{
		Use:   "secretvault",
		Short: "Integration secrets vault - encrypted provider credentials behind a super-admin API",
		Long: `secretvault stores third-party integration credentials encrypted under a
master key, reveals them with an audit trail, and meters usage of a plain
provider API key.

Run 'secretvault serve' for the HTTP service; the remaining commands are
admin clients for a running server.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
			cfg.Debug = debug
			cfg.NoColor = noColor
			remote.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&remote.Server, "server", commands.DefaultServer(), "Vault server URL (env "+commands.EnvServer+")")
	rootCmd.PersistentFlags().StringVar(&remote.Token, "token", "", "Bearer token (overrides "+commands.EnvToken+" and the keyring)")

	rootCmd.AddCommand(
		commands.NewServeCommand(cfg),
		commands.NewMigrateCommand(cfg),
		commands.NewTokenCommand(cfg),
		commands.NewLoginCommand(remote),
		commands.NewLogoutCommand(remote),
		commands.NewSecretsCommand(remote),
		commands.NewMasterCommand(remote),
		commands.NewMeteredCommand(remote),
		commands.NewCompletionCommand(),
	)

	return rootCmd.Execute()
}
