// Package health reports whether the vault's database is usable.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLHealthConfig holds configuration for SQL health checks.
type SQLHealthConfig struct {
	// PingEnabled enables basic ping check.
	PingEnabled bool

	// QueryLatencyThreshold is the maximum acceptable ping latency. Zero disables the check.
	QueryLatencyThreshold time.Duration

	// ConnectionPoolEnabled enables connection pool monitoring.
	ConnectionPoolEnabled bool

	// ConnectionPoolWarnPct is the percentage threshold for connection pool warning.
	ConnectionPoolWarnPct int

	// MaxConnections is used when the pool reports no limit.
	MaxConnections int
}

// DefaultSQLHealthConfig returns the default SQL health configuration.
func DefaultSQLHealthConfig() SQLHealthConfig {
	return SQLHealthConfig{
		PingEnabled:           true,
		ConnectionPoolEnabled: true,
		QueryLatencyThreshold: 500 * time.Millisecond,
		ConnectionPoolWarnPct: 80,
		MaxConnections:        100,
	}
}

// SQLPinger is the interface for pinging a database. *sql.DB satisfies it.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// Result is the outcome of one check.
type Result struct {
	Healthy   bool                   `json:"healthy"`
	Degraded  bool                   `json:"degraded,omitempty"`
	Message   string                 `json:"message"`
	Duration  time.Duration          `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SQLHealthChecker performs health checks on the vault database.
type SQLHealthChecker struct {
	config SQLHealthConfig
	db     SQLPinger
}

// NewSQLHealthChecker creates a checker for db. db may be nil, in which case
// every check fails.
func NewSQLHealthChecker(db SQLPinger, config SQLHealthConfig) *SQLHealthChecker {
	return &SQLHealthChecker{
		config: config,
		db:     db,
	}
}

// Check performs a health check on the SQL database.
func (c *SQLHealthChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{
		Healthy:   true,
		Timestamp: start,
		Metadata:  make(map[string]interface{}),
	}

	if c.db == nil {
		result.Healthy = false
		result.Message = "no database connection configured"
		result.Duration = time.Since(start)
		return result
	}

	var messages []string

	if c.config.PingEnabled {
		pingStart := time.Now()
		if err := c.db.PingContext(ctx); err != nil {
			result.Healthy = false
			messages = append(messages, fmt.Sprintf("ping failed: %v", err))
		} else {
			pingLatency := time.Since(pingStart)
			result.Metadata["ping_latency_ms"] = pingLatency.Milliseconds()

			if c.config.QueryLatencyThreshold > 0 && pingLatency > c.config.QueryLatencyThreshold {
				result.Healthy = false
				messages = append(messages, fmt.Sprintf("query latency %v exceeds threshold %v",
					pingLatency, c.config.QueryLatencyThreshold))
			}
		}
	}

	if c.config.ConnectionPoolEnabled {
		stats := c.db.Stats()
		result.Metadata["open_connections"] = stats.OpenConnections
		result.Metadata["in_use_connections"] = stats.InUse
		result.Metadata["max_open_connections"] = stats.MaxOpenConnections

		maxConns := c.config.MaxConnections
		if stats.MaxOpenConnections > 0 {
			maxConns = stats.MaxOpenConnections
		}

		if maxConns > 0 {
			usagePct := (stats.InUse * 100) / maxConns
			result.Metadata["pool_usage_pct"] = usagePct

			switch {
			case stats.InUse >= maxConns:
				result.Healthy = false
				result.Metadata["pool_status"] = "exhausted"
				messages = append(messages, fmt.Sprintf("connection pool exhausted: %d/%d", stats.InUse, maxConns))
			case usagePct >= c.config.ConnectionPoolWarnPct:
				// Degraded but not unhealthy
				result.Degraded = true
				result.Metadata["pool_status"] = "degraded"
				messages = append(messages, fmt.Sprintf("connection pool at %d%% usage", usagePct))
			default:
				result.Metadata["pool_status"] = "healthy"
			}
		}
	}

	result.Duration = time.Since(start)

	switch {
	case len(messages) > 0:
		result.Message = strings.Join(messages, "; ")
	case result.Healthy:
		result.Message = "all checks passed"
	}
	return result
}
