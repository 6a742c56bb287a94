package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL
)

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name       string
	driver     string
	positional bool // $1, $2 ... instead of ?

	upsertSecret string
	upsertUsage  string
	migrations   []string
}

var driverAliases = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

func dialectFor(name string) (*dialect, error) {
	switch driverAliases[strings.ToLower(name)] {
	case "postgres":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", name)
	}
}

// NormalizeDSN adjusts a DSN so the driver returns values the store can scan.
// MySQL needs parseTime for DATETIME columns to arrive as time.Time.
func NormalizeDSN(driver, dsn string) (string, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return "", err
	}
	if d.driver != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// rebind rewrites ? placeholders for dialects that use positional markers.
func (d *dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var postgresDialect = &dialect{
	name:       "postgres",
	driver:     "postgres",
	positional: true,
	upsertSecret: `INSERT INTO integration_secrets (provider, name, ciphertext, iv, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (provider, name) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, iv = EXCLUDED.iv, updated_at = EXCLUDED.updated_at`,
	upsertUsage: `INSERT INTO api_usage_counters (key_hash, provider, used_count, usage_limit, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key_hash) DO UPDATE SET provider = EXCLUDED.provider, used_count = EXCLUDED.used_count, usage_limit = EXCLUDED.usage_limit, updated_at = EXCLUDED.updated_at`,
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS integration_secrets (
	provider   TEXT NOT NULL,
	name       TEXT NOT NULL,
	ciphertext TEXT NOT NULL,
	iv         TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, name)
)`,
		`CREATE INDEX IF NOT EXISTS integration_secrets_updated_at_idx ON integration_secrets (updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS api_usage_counters (
	key_hash    TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	used_count  INTEGER NOT NULL DEFAULT 0,
	usage_limit INTEGER NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	actor_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	provider   TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
)`,
		`CREATE TABLE IF NOT EXISTS vault_locks (name TEXT PRIMARY KEY)`,
		`INSERT INTO vault_locks (name) VALUES ('` + lockName + `') ON CONFLICT (name) DO NOTHING`,
	},
}

var mysqlDialect = &dialect{
	name:   "mysql",
	driver: "mysql",
	upsertSecret: `INSERT INTO integration_secrets (provider, name, ciphertext, iv, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE ciphertext = VALUES(ciphertext), iv = VALUES(iv), updated_at = VALUES(updated_at)`,
	upsertUsage: `INSERT INTO api_usage_counters (key_hash, provider, used_count, usage_limit, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE provider = VALUES(provider), used_count = VALUES(used_count), usage_limit = VALUES(usage_limit), updated_at = VALUES(updated_at)`,
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS integration_secrets (
	provider   VARCHAR(191) NOT NULL,
	name       VARCHAR(191) NOT NULL,
	ciphertext TEXT NOT NULL,
	iv         VARCHAR(64) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	PRIMARY KEY (provider, name),
	INDEX integration_secrets_updated_at_idx (updated_at)
)`,
		`CREATE TABLE IF NOT EXISTS api_usage_counters (
	key_hash    CHAR(64) PRIMARY KEY,
	provider    VARCHAR(191) NOT NULL,
	used_count  INT NOT NULL DEFAULT 0,
	usage_limit INT NOT NULL,
	updated_at  DATETIME(6) NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
	id         CHAR(36) PRIMARY KEY,
	actor_id   VARCHAR(191) NOT NULL,
	action     VARCHAR(64) NOT NULL,
	provider   VARCHAR(191) NOT NULL,
	metadata   TEXT NOT NULL,
	created_at DATETIME(6) NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
	user_id VARCHAR(191) NOT NULL,
	role    VARCHAR(64) NOT NULL,
	PRIMARY KEY (user_id, role)
)`,
		`CREATE TABLE IF NOT EXISTS vault_locks (name VARCHAR(64) PRIMARY KEY)`,
		`INSERT IGNORE INTO vault_locks (name) VALUES ('` + lockName + `')`,
	},
}
