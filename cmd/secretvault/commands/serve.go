package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systmms/secretvault/internal/api"
	"github.com/systmms/secretvault/internal/authz"
	"github.com/systmms/secretvault/internal/config"
	"github.com/systmms/secretvault/internal/health"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/metering"
	"github.com/systmms/secretvault/internal/store"
	"github.com/systmms/secretvault/internal/validation"
	"github.com/systmms/secretvault/internal/vault"
)

// NewServeCommand runs the HTTP service.
func NewServeCommand(cfg *config.Config) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault HTTP service",
		Long: `Serve POST /v1/integration-secrets, /healthz and (optionally) /metrics.

Settings come from the config file with SECRETVAULT_DATABASE_DSN,
SECRETVAULT_JWT_SECRET and SECRETVAULT_LISTEN taking precedence. The file
may be omitted when the environment provides everything required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply schema migrations before serving")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	def, err := loadServerConfig(cfg)
	if err != nil {
		return err
	}
	logger := serverLogger(cfg, def)

	st, err := openStore(ctx, def)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if migrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Schema is up to date")
	}

	srv, err := buildServer(st, def, logger)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, def.Server.Listen, def.Server.ReadTimeout.Std(), def.Server.WriteTimeout.Std())
}

// buildServer wires the vault service and its HTTP surface onto st.
func buildServer(st *store.SQLStore, def *config.Definition, logger *logging.Logger) (*api.Server, error) {
	gate, err := authz.NewGate(authConfig(def), st, logger)
	if err != nil {
		return nil, err
	}
	meter := metering.New(st, def.MeteredKey.Provider, def.MeteredKey.UsageLimit, logger)
	keys := validation.NewKeyValidator(def.MeteredKey.MinLength, logger)
	svc := vault.NewService(st, meter, keys, def.MeteredKey.Name, logger)
	checker := health.NewSQLHealthChecker(st.DB(), health.DefaultSQLHealthConfig())

	return api.NewServer(svc, gate, checker, api.Options{
		AllowedOrigins: def.Server.AllowedOrigins,
		RequestTimeout: def.Server.RequestTimeout.Std(),
		MetricsEnabled: def.Metrics.Enabled,
		MetricsPath:    def.Metrics.Path,
	}, logger), nil
}

func loadServerConfig(cfg *config.Config) (*config.Definition, error) {
	cfg.AllowMissing = true
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if err := cfg.Definition.Validate(); err != nil {
		return nil, err
	}
	return cfg.Definition, nil
}

// serverLogger honours log settings from the file on top of the CLI flags.
func serverLogger(cfg *config.Config, def *config.Definition) *logging.Logger {
	if !def.Log.Debug && !def.Log.NoColor {
		return cfg.Logger
	}
	return logging.New(cfg.Debug || def.Log.Debug, cfg.NoColor || def.Log.NoColor)
}

func openStore(ctx context.Context, def *config.Definition) (*store.SQLStore, error) {
	st, err := store.Open(ctx, def.Database.Driver, def.Database.DSN, store.PoolConfig{
		MaxOpenConns:    def.Database.MaxOpenConns,
		MaxIdleConns:    def.Database.MaxIdleConns,
		ConnMaxLifetime: def.Database.ConnMaxLifetime.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", def.Database.Driver, err)
	}
	return st, nil
}

func authConfig(def *config.Definition) authz.Config {
	return authz.Config{
		Secret:         def.Auth.JWTSecret,
		Issuer:         def.Auth.Issuer,
		Audience:       def.Auth.Audience,
		SuperAdminRole: def.Auth.SuperAdminRole,
	}
}
