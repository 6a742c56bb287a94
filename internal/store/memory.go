package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type secretKey struct{ provider, name string }

type memState struct {
	secrets map[secretKey]Record
	usage   map[string]UsageCounter
	audit   []AuditEntry
}

func (s *memState) clone() *memState {
	c := &memState{
		secrets: make(map[secretKey]Record, len(s.secrets)),
		usage:   make(map[string]UsageCounter, len(s.usage)),
		audit:   make([]AuditEntry, len(s.audit)),
	}
	for k, v := range s.secrets {
		c.secrets[k] = v
	}
	for k, v := range s.usage {
		c.usage[k] = v
	}
	copy(c.audit, s.audit)
	return c
}

// MemoryStore is an in-process Store used by tests and local development.
// Atomically works on a copy of the state and swaps it in on success.
type MemoryStore struct {
	writeMu sync.Mutex // serializes writers, including Atomically
	mu      sync.RWMutex
	state   *memState
	roles   map[string][]string

	now        func() time.Time
	failUpsert func(Record) error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			secrets: map[secretKey]Record{},
			usage:   map[string]UsageCounter{},
		},
		roles: map[string][]string{},
		now:   time.Now,
	}
}

// SetRoles replaces the roles assigned to userID.
func (m *MemoryStore) SetRoles(userID string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = append([]string(nil), roles...)
}

// SetClock overrides the time source used for updated_at stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailUpsertWhen installs a hook consulted before every secret write. A
// non-nil return aborts the write with that error. Pass nil to clear it.
func (m *MemoryStore) FailUpsertWhen(fn func(Record) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpsert = fn
}

// AuditEntries returns a copy of the committed audit log.
func (m *MemoryStore) AuditEntries() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.state.audit...)
}

func (m *MemoryStore) Atomically(ctx context.Context, fn func(q Queries) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	draft := m.state.clone()
	q := m.queries(draft)
	m.mu.RUnlock()

	if err := fn(q); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = draft
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) RolesFor(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.roles[userID]...), nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) queries(st *memState) *memQueries {
	return &memQueries{st: st, now: m.now, failUpsert: m.failUpsert}
}

func (m *MemoryStore) read(fn func(q *memQueries) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.queries(m.state))
}

func (m *MemoryStore) write(fn func(q *memQueries) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.queries(m.state))
}

func (m *MemoryStore) GetSecret(ctx context.Context, provider, name string) (rec Record, err error) {
	err = m.read(func(q *memQueries) error {
		rec, err = q.GetSecret(ctx, provider, name)
		return err
	})
	return rec, err
}

func (m *MemoryStore) ListSecrets(ctx context.Context) (out []Metadata, err error) {
	err = m.read(func(q *memQueries) error {
		out, err = q.ListSecrets(ctx)
		return err
	})
	return out, err
}

func (m *MemoryStore) SecretsExcept(ctx context.Context, provider string) (out []Record, err error) {
	err = m.read(func(q *memQueries) error {
		out, err = q.SecretsExcept(ctx, provider)
		return err
	})
	return out, err
}

func (m *MemoryStore) UpsertSecret(ctx context.Context, rec Record) error {
	return m.write(func(q *memQueries) error { return q.UpsertSecret(ctx, rec) })
}

func (m *MemoryStore) DeleteSecret(ctx context.Context, provider, name string) error {
	return m.write(func(q *memQueries) error { return q.DeleteSecret(ctx, provider, name) })
}

func (m *MemoryStore) GetUsage(ctx context.Context, keyHash string) (c UsageCounter, err error) {
	err = m.read(func(q *memQueries) error {
		c, err = q.GetUsage(ctx, keyHash)
		return err
	})
	return c, err
}

func (m *MemoryStore) PutUsage(ctx context.Context, c UsageCounter) error {
	return m.write(func(q *memQueries) error { return q.PutUsage(ctx, c) })
}

func (m *MemoryStore) DeleteUsage(ctx context.Context, keyHash string) error {
	return m.write(func(q *memQueries) error { return q.DeleteUsage(ctx, keyHash) })
}

func (m *MemoryStore) IncrementUsage(ctx context.Context, keyHash string) (ok bool, err error) {
	err = m.write(func(q *memQueries) error {
		ok, err = q.IncrementUsage(ctx, keyHash)
		return err
	})
	return ok, err
}

func (m *MemoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	return m.write(func(q *memQueries) error { return q.AppendAudit(ctx, e) })
}

// memQueries operates on one memState without locking; callers hold the
// appropriate MemoryStore locks or own the state exclusively.
type memQueries struct {
	st         *memState
	now        func() time.Time
	failUpsert func(Record) error
}

func (q *memQueries) GetSecret(_ context.Context, provider, name string) (Record, error) {
	rec, ok := q.st.secrets[secretKey{provider, name}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (q *memQueries) ListSecrets(_ context.Context) ([]Metadata, error) {
	out := make([]Metadata, 0, len(q.st.secrets))
	for _, r := range q.st.secrets {
		out = append(out, Metadata{
			Provider:    r.Provider,
			Name:        r.Name,
			UpdatedAt:   r.UpdatedAt,
			IsMasterKey: r.IsMasterKey(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (q *memQueries) SecretsExcept(_ context.Context, provider string) ([]Record, error) {
	var out []Record
	for _, r := range q.st.secrets {
		if r.Provider != provider {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (q *memQueries) UpsertSecret(_ context.Context, rec Record) error {
	if q.failUpsert != nil {
		if err := q.failUpsert(rec); err != nil {
			return err
		}
	}
	rec.UpdatedAt = q.now().UTC()
	q.st.secrets[secretKey{rec.Provider, rec.Name}] = rec
	return nil
}

func (q *memQueries) DeleteSecret(_ context.Context, provider, name string) error {
	delete(q.st.secrets, secretKey{provider, name})
	return nil
}

func (q *memQueries) GetUsage(_ context.Context, keyHash string) (UsageCounter, error) {
	c, ok := q.st.usage[keyHash]
	if !ok {
		return UsageCounter{}, ErrNotFound
	}
	return c, nil
}

func (q *memQueries) PutUsage(_ context.Context, c UsageCounter) error {
	c.UpdatedAt = q.now().UTC()
	q.st.usage[c.KeyHash] = c
	return nil
}

func (q *memQueries) DeleteUsage(_ context.Context, keyHash string) error {
	delete(q.st.usage, keyHash)
	return nil
}

func (q *memQueries) IncrementUsage(_ context.Context, keyHash string) (bool, error) {
	c, ok := q.st.usage[keyHash]
	if !ok || c.Used >= c.Limit {
		return false, nil
	}
	c.Used++
	c.UpdatedAt = q.now().UTC()
	q.st.usage[keyHash] = c
	return true, nil
}

func (q *memQueries) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now().UTC()
	}
	meta := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	q.st.audit = append(q.st.audit, e)
	return nil
}
