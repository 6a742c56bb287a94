package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// lockName is the vault_locks row every write transaction locks first.
const lockName = "secrets"

// PoolConfig bounds the database connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements Store on PostgreSQL or MySQL.
type SQLStore struct {
	db *sql.DB
	sqlQueries
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database named by driver ("postgres", "mysql" or an
// alias) and verifies the connection.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	dsn, err = NormalizeDSN(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLStore{db: db, sqlQueries: sqlQueries{x: db, d: d, now: time.Now}}, nil
}

// NewSQLStoreFromDB wraps an existing connection. dialectName selects the
// SQL flavour ("postgres" or "mysql").
func NewSQLStoreFromDB(db *sql.DB, dialectName string) (*SQLStore, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, sqlQueries: sqlQueries{x: db, d: d, now: time.Now}}, nil
}

// DB exposes the underlying connection for health checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// SetClock overrides the time source used for updated_at stamps.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate creates the schema if it does not exist. Statements are applied
// one at a time because neither driver accepts multi-statement Exec by
// default.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range s.d.migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Atomically runs fn inside a transaction holding the vault lock row.
func (s *SQLStore) Atomically(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT name FROM vault_locks WHERE name = ? FOR UPDATE`), lockName).Scan(&locked); err != nil {
		return fmt.Errorf("acquire vault lock: %w", err)
	}

	if err = fn(&sqlQueries{x: tx, d: s.d, now: s.now}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RolesFor returns every role assigned to userID.
func (s *SQLStore) RolesFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT role FROM user_roles WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlQueries implements Queries against either the pool or a transaction.
type sqlQueries struct {
	x   execer
	d   *dialect
	now func() time.Time
}

func (q *sqlQueries) GetSecret(ctx context.Context, provider, name string) (Record, error) {
	rec := Record{Provider: provider, Name: name}
	err := q.x.QueryRowContext(ctx,
		q.d.rebind(`SELECT ciphertext, iv, updated_at FROM integration_secrets WHERE provider = ? AND name = ?`),
		provider, name,
	).Scan(&rec.Ciphertext, &rec.IV, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query secret %s/%s: %w", provider, name, err)
	}
	return rec, nil
}

func (q *sqlQueries) ListSecrets(ctx context.Context) ([]Metadata, error) {
	rows, err := q.x.QueryContext(ctx, `SELECT provider, name, updated_at FROM integration_secrets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Metadata{}
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.Provider, &m.Name, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan secret metadata: %w", err)
		}
		m.IsMasterKey = IsMasterKey(m.Provider, m.Name)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *sqlQueries) SecretsExcept(ctx context.Context, provider string) ([]Record, error) {
	rows, err := q.x.QueryContext(ctx,
		q.d.rebind(`SELECT provider, name, ciphertext, iv, updated_at FROM integration_secrets WHERE provider <> ? ORDER BY provider, name`),
		provider)
	if err != nil {
		return nil, fmt.Errorf("query secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Provider, &r.Name, &r.Ciphertext, &r.IV, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *sqlQueries) UpsertSecret(ctx context.Context, rec Record) error {
	_, err := q.x.ExecContext(ctx, q.d.rebind(q.d.upsertSecret),
		rec.Provider, rec.Name, rec.Ciphertext, rec.IV, q.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert secret %s/%s: %w", rec.Provider, rec.Name, err)
	}
	return nil
}

func (q *sqlQueries) DeleteSecret(ctx context.Context, provider, name string) error {
	_, err := q.x.ExecContext(ctx,
		q.d.rebind(`DELETE FROM integration_secrets WHERE provider = ? AND name = ?`), provider, name)
	if err != nil {
		return fmt.Errorf("delete secret %s/%s: %w", provider, name, err)
	}
	return nil
}

func (q *sqlQueries) GetUsage(ctx context.Context, keyHash string) (UsageCounter, error) {
	c := UsageCounter{KeyHash: keyHash}
	err := q.x.QueryRowContext(ctx,
		q.d.rebind(`SELECT provider, used_count, usage_limit, updated_at FROM api_usage_counters WHERE key_hash = ?`),
		keyHash,
	).Scan(&c.Provider, &c.Used, &c.Limit, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageCounter{}, ErrNotFound
	}
	if err != nil {
		return UsageCounter{}, fmt.Errorf("query usage counter: %w", err)
	}
	return c, nil
}

func (q *sqlQueries) PutUsage(ctx context.Context, c UsageCounter) error {
	_, err := q.x.ExecContext(ctx, q.d.rebind(q.d.upsertUsage),
		c.KeyHash, c.Provider, c.Used, c.Limit, q.now().UTC())
	if err != nil {
		return fmt.Errorf("put usage counter: %w", err)
	}
	return nil
}

func (q *sqlQueries) DeleteUsage(ctx context.Context, keyHash string) error {
	_, err := q.x.ExecContext(ctx, q.d.rebind(`DELETE FROM api_usage_counters WHERE key_hash = ?`), keyHash)
	if err != nil {
		return fmt.Errorf("delete usage counter: %w", err)
	}
	return nil
}

func (q *sqlQueries) IncrementUsage(ctx context.Context, keyHash string) (bool, error) {
	res, err := q.x.ExecContext(ctx,
		q.d.rebind(`UPDATE api_usage_counters SET used_count = used_count + 1, updated_at = ? WHERE key_hash = ? AND used_count < usage_limit`),
		q.now().UTC(), keyHash)
	if err != nil {
		return false, fmt.Errorf("increment usage counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment usage counter: %w", err)
	}
	return n == 1, nil
}

func (q *sqlQueries) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now().UTC()
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = q.x.ExecContext(ctx,
		q.d.rebind(`INSERT INTO audit_log (id, actor_id, action, provider, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.ActorID, e.Action, e.Provider, string(raw), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
