package secure

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/systmms/secretvault/internal/cipher"
)

var (
	// ErrEmpty is returned when a buffer would hold no data.
	ErrEmpty = errors.New("secure: empty secret")
	// ErrDestroyed is returned when a destroyed buffer is used.
	ErrDestroyed = errors.New("secure: buffer destroyed")
)

// SecureBuffer keeps a secret encrypted in protected memory between uses.
// It wraps memguard.Enclave; the plaintext only exists inside a
// memguard.LockedBuffer for the duration of a single call.
type SecureBuffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewSecureBuffer moves data into a protected enclave. memguard wipes the
// source slice, so callers that still need the value must pass a copy.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// NewSecureString is NewSecureBuffer for a string value such as a master key
// read from the record store.
func NewSecureString(s string) (*SecureBuffer, error) {
	return NewSecureBuffer([]byte(s))
}

// Open decrypts the enclave into a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	return s.enclave.Open()
}

// Equal reports whether candidate matches the protected value, in constant time.
func (s *SecureBuffer) Equal(candidate string) (bool, error) {
	locked, err := s.Open()
	if err != nil {
		return false, err
	}
	defer locked.Destroy()

	return subtle.ConstantTimeCompare(locked.Bytes(), []byte(candidate)) == 1, nil
}

// DeriveKey derives the AEAD key for the protected passphrase without copying
// it out of locked memory.
func (s *SecureBuffer) DeriveKey() (*cipher.Key, error) {
	locked, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	return cipher.DeriveKeyBytes(locked.Bytes())
}

// Destroy drops the enclave. It is idempotent; later calls to Open fail
// with ErrDestroyed. Call memguard.Purge() at process exit for a full wipe.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}
