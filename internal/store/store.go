// Package store persists integration secrets, usage counters, audit entries
// and role assignments. It owns no policy: encryption, authorization and
// validation happen in the callers.
package store

import (
	"context"
	"errors"
	"time"
)

const (
	// SystemProvider is the namespace reserved for the master key.
	SystemProvider = "system"
	// MasterKeyName names the master key record inside SystemProvider.
	MasterKeyName = "INTEGRATIONS_MASTER_KEY"
	// PlainIV marks a record whose ciphertext column holds the raw value.
	PlainIV = "plain"
)

// ErrNotFound is returned when a secret or usage counter does not exist.
var ErrNotFound = errors.New("store: not found")

// Record is one row of the secret table. (Provider, Name) is the natural key.
type Record struct {
	Provider   string
	Name       string
	Ciphertext string
	IV         string
	UpdatedAt  time.Time
}

// IsPlain reports whether the record is stored unencrypted by policy.
func (r Record) IsPlain() bool {
	return r.IV == PlainIV
}

// IsMasterKey reports whether the record is the master key record.
func (r Record) IsMasterKey() bool {
	return IsMasterKey(r.Provider, r.Name)
}

// Payload is the stored value of a record: either Plaintext or Encrypted.
type Payload interface {
	isPayload()
}

// Plaintext is a value stored without encryption.
type Plaintext struct {
	Value string
}

// Encrypted is a value sealed under a key derived from the master key.
type Encrypted struct {
	Ciphertext string
	IV         string
}

func (Plaintext) isPayload() {}
func (Encrypted) isPayload() {}

// Payload classifies the record by its IV sentinel.
func (r Record) Payload() Payload {
	if r.IsPlain() {
		return Plaintext{Value: r.Ciphertext}
	}
	return Encrypted{Ciphertext: r.Ciphertext, IV: r.IV}
}

// PlainRecord builds a record that stores value verbatim.
func PlainRecord(provider, name, value string) Record {
	return Record{Provider: provider, Name: name, Ciphertext: value, IV: PlainIV}
}

// IsMasterKey reports whether (provider, name) addresses the master key.
func IsMasterKey(provider, name string) bool {
	return provider == SystemProvider && name == MasterKeyName
}

// Metadata is the inventory view of a record. It never carries ciphertext.
type Metadata struct {
	Provider    string    `json:"provider"`
	Name        string    `json:"name"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsMasterKey bool      `json:"is_master_key"`
}

// UsageCounter meters calls made with one specific key value, identified by
// the hash of that value.
type UsageCounter struct {
	KeyHash   string
	Provider  string
	Used      int
	Limit     int
	UpdatedAt time.Time
}

// AuditEntry is an append-only audit log row.
type AuditEntry struct {
	ID        string
	ActorID   string
	Action    string
	Provider  string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Queries is the set of operations available both directly on a Store and
// inside Atomically.
type Queries interface {
	// GetSecret returns ErrNotFound when no record exists.
	GetSecret(ctx context.Context, provider, name string) (Record, error)
	// ListSecrets returns metadata ordered by updated_at descending.
	ListSecrets(ctx context.Context) ([]Metadata, error)
	// SecretsExcept returns full records for every provider but the given one.
	SecretsExcept(ctx context.Context, provider string) ([]Record, error)
	// UpsertSecret inserts or replaces by (provider, name) and stamps updated_at.
	UpsertSecret(ctx context.Context, rec Record) error
	DeleteSecret(ctx context.Context, provider, name string) error

	// GetUsage returns ErrNotFound when no counter exists for keyHash.
	GetUsage(ctx context.Context, keyHash string) (UsageCounter, error)
	// PutUsage inserts or replaces the counter for c.KeyHash.
	PutUsage(ctx context.Context, c UsageCounter) error
	DeleteUsage(ctx context.Context, keyHash string) error
	// IncrementUsage adds one call if the counter exists and is below its
	// limit, reporting whether it did.
	IncrementUsage(ctx context.Context, keyHash string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
}

// RoleLookup resolves the roles assigned to a user.
type RoleLookup interface {
	RolesFor(ctx context.Context, userID string) ([]string, error)
}

// Store is the persistence boundary of the vault.
type Store interface {
	Queries
	RoleLookup

	// Atomically runs fn with exclusive write access. Either every write made
	// through q is committed or none is. Concurrent Atomically calls, on this
	// process or any other sharing the database, are serialized.
	Atomically(ctx context.Context, fn func(q Queries) error) error

	Close() error
}
