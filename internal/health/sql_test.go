package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDB implements SQLPinger for testing.
type mockDB struct {
	pingErr      error
	pingLatency  time.Duration
	maxOpenConns int
	openConns    int
	inUseConns   int
}

func (m *mockDB) PingContext(ctx context.Context) error {
	if m.pingLatency > 0 {
		time.Sleep(m.pingLatency)
	}
	return m.pingErr
}

func (m *mockDB) Stats() sql.DBStats {
	return sql.DBStats{
		MaxOpenConnections: m.maxOpenConns,
		OpenConnections:    m.openConns,
		InUse:              m.inUseConns,
	}
}

func TestDefaultSQLHealthConfig(t *testing.T) {
	t.Parallel()

	config := DefaultSQLHealthConfig()

	assert.True(t, config.PingEnabled)
	assert.True(t, config.ConnectionPoolEnabled)
	assert.Equal(t, 500*time.Millisecond, config.QueryLatencyThreshold)
	assert.Equal(t, 80, config.ConnectionPoolWarnPct)
	assert.Equal(t, 100, config.MaxConnections)
}

func TestSQLHealthChecker_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		db          SQLPinger
		config      SQLHealthConfig
		wantHealthy bool
		wantDegrade bool
		wantMessage string
		wantStatus  string
	}{
		{
			name:        "no_connection",
			db:          nil,
			config:      DefaultSQLHealthConfig(),
			wantHealthy: false,
			wantMessage: "no database connection configured",
		},
		{
			name:        "healthy",
			db:          &mockDB{maxOpenConns: 10, openConns: 2, inUseConns: 1},
			config:      DefaultSQLHealthConfig(),
			wantHealthy: true,
			wantMessage: "all checks passed",
			wantStatus:  "healthy",
		},
		{
			name:        "ping_failure",
			db:          &mockDB{pingErr: errors.New("connection refused"), maxOpenConns: 10},
			config:      DefaultSQLHealthConfig(),
			wantHealthy: false,
			wantMessage: "ping failed: connection refused",
		},
		{
			name: "slow_ping",
			db:   &mockDB{pingLatency: 20 * time.Millisecond, maxOpenConns: 10},
			config: SQLHealthConfig{
				PingEnabled:           true,
				QueryLatencyThreshold: time.Millisecond,
			},
			wantHealthy: false,
			wantMessage: "exceeds threshold",
		},
		{
			name:        "pool_exhausted",
			db:          &mockDB{maxOpenConns: 10, openConns: 10, inUseConns: 10},
			config:      DefaultSQLHealthConfig(),
			wantHealthy: false,
			wantMessage: "connection pool exhausted: 10/10",
			wantStatus:  "exhausted",
		},
		{
			name:        "pool_degraded",
			db:          &mockDB{maxOpenConns: 10, openConns: 9, inUseConns: 9},
			config:      DefaultSQLHealthConfig(),
			wantHealthy: true,
			wantDegrade: true,
			wantMessage: "connection pool at 90% usage",
			wantStatus:  "degraded",
		},
		{
			name:        "unlimited_pool_uses_configured_max",
			db:          &mockDB{inUseConns: 100},
			config:      DefaultSQLHealthConfig(),
			wantHealthy: false,
			wantMessage: "connection pool exhausted: 100/100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := NewSQLHealthChecker(tt.db, tt.config).Check(context.Background())

			assert.Equal(t, tt.wantHealthy, result.Healthy)
			assert.Equal(t, tt.wantDegrade, result.Degraded)
			assert.Contains(t, result.Message, tt.wantMessage)
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, result.Metadata["pool_status"])
			}
		})
	}
}

func TestSQLHealthChecker_WithSQLMock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectPing()

	result := NewSQLHealthChecker(db, DefaultSQLHealthConfig()).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Metadata, "ping_latency_ms")
	assert.NoError(t, mock.ExpectationsWereMet())
}
