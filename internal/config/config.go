package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
)

// Environment variables that override file values.
const (
	EnvDatabaseDSN = "SECRETVAULT_DATABASE_DSN"
	EnvJWTSecret   = "SECRETVAULT_JWT_SECRET"
	EnvListen      = "SECRETVAULT_LISTEN"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "secretvault.yaml"

//go:embed schema.json
var schemaJSON []byte

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger
	// AllowMissing makes a missing file equivalent to an empty one, so a
	// deployment can be configured from the environment alone.
	AllowMissing bool
	// Debug and NoColor carry the CLI flags so file log settings can be
	// merged with them.
	Debug      bool
	NoColor    bool
	Definition *Definition
}

// Definition represents the secretvault.yaml structure
type Definition struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	MeteredKey MeteredKeyConfig `yaml:"metered_key"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	RequestTimeout Duration `yaml:"request_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the record store connection
type DatabaseConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	SuperAdminRole string `yaml:"super_admin_role"`
}

// MeteredKeyConfig identifies the plain, usage-metered provider key
type MeteredKeyConfig struct {
	Provider   string `yaml:"provider"`
	Name       string `yaml:"name"`
	UsageLimit int    `yaml:"usage_limit"`
	MinLength  int    `yaml:"min_length"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls logger output
type LogConfig struct {
	Debug   bool `yaml:"debug"`
	NoColor bool `yaml:"no_color"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used for every field the file omits.
func Default() Definition {
	return Definition{
		Server: ServerConfig{
			Listen:         ":8080",
			RequestTimeout: Duration(5 * time.Second),
			ReadTimeout:    Duration(10 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		Auth: AuthConfig{
			SuperAdminRole: "super_admin",
		},
		MeteredKey: MeteredKeyConfig{
			Provider:   "whoisxml",
			Name:       "api_key",
			UsageLimit: 250,
			MinLength:  16,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads, schema-checks and parses the configuration file, then applies
// environment overrides.
func (c *Config) Load() error {
	def := Default()

	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		if err := validateSchema(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return verrors.ConfigError{
				Message:    "invalid configuration value: " + err.Error(),
				Suggestion: "Durations use Go syntax such as '5s' or '1m'",
			}
		}
	case os.IsNotExist(err) && c.AllowMissing:
		c.Logger.Debug("No configuration file at %s, using defaults and environment", c.Path)
	case os.IsNotExist(err):
		return verrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    "configuration file not found",
			Suggestion: "Create secretvault.yaml or pass --config with the path to your configuration",
		}
	default:
		return verrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if def.Version != 0 {
		return verrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your secretvault.yaml file",
		}
	}

	applyEnv(&def)
	c.Definition = &def
	return nil
}

func applyEnv(def *Definition) {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		def.Database.DSN = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		def.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		def.Server.Listen = v
	}
}

// validateSchema checks the raw YAML document against the embedded schema.
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return verrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if doc == nil {
		return nil
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return verrors.ConfigError{
			Message:    "schema validation failed:\n  - " + strings.Join(errorMessages, "\n  - "),
			Suggestion: "Compare your file with the documented secretvault.yaml layout",
		}
	}
	return nil
}

// Validate checks the settings needed to serve requests.
func (d *Definition) Validate() error {
	switch strings.ToLower(d.Database.Driver) {
	case "postgres", "postgresql", "mysql", "mariadb":
	default:
		return verrors.ConfigError{
			Field:      "database.driver",
			Value:      d.Database.Driver,
			Message:    "unsupported database driver",
			Suggestion: "Use 'postgres' or 'mysql'",
		}
	}
	if d.Database.DSN == "" {
		return verrors.ConfigError{
			Field:      "database.dsn",
			Message:    "database DSN is required",
			Suggestion: "Set database.dsn or " + EnvDatabaseDSN,
		}
	}
	if d.Auth.JWTSecret == "" {
		return verrors.ConfigError{
			Field:      "auth.jwt_secret",
			Message:    "JWT signing secret is required",
			Suggestion: "Set auth.jwt_secret or " + EnvJWTSecret,
		}
	}
	if d.Auth.SuperAdminRole == "" {
		return verrors.ConfigError{
			Field:   "auth.super_admin_role",
			Message: "super-admin role must not be empty",
		}
	}
	if d.Server.RequestTimeout <= 0 {
		return verrors.ConfigError{
			Field:      "server.request_timeout",
			Value:      d.Server.RequestTimeout.Std(),
			Message:    "request timeout must be positive",
			Suggestion: "A few seconds is enough; the default is 5s",
		}
	}
	if d.MeteredKey.Provider == "" || d.MeteredKey.Name == "" {
		return verrors.ConfigError{
			Field:   "metered_key",
			Message: "metered key provider and name are required",
		}
	}
	if d.MeteredKey.Provider == "system" {
		return verrors.ConfigError{
			Field:   "metered_key.provider",
			Value:   d.MeteredKey.Provider,
			Message: "provider 'system' is reserved for the master key",
		}
	}
	if d.MeteredKey.UsageLimit <= 0 {
		return verrors.ConfigError{
			Field:   "metered_key.usage_limit",
			Value:   d.MeteredKey.UsageLimit,
			Message: "usage limit must be positive",
		}
	}
	if d.Metrics.Enabled && !strings.HasPrefix(d.Metrics.Path, "/") {
		return verrors.ConfigError{
			Field:      "metrics.path",
			Value:      d.Metrics.Path,
			Message:    "metrics path must start with '/'",
			Suggestion: "Use the default '/metrics'",
		}
	}
	return nil
}
