// Package cipher derives AES-256-GCM keys from passphrases and seals short
// secret strings. Ciphertext and nonce travel base64-encoded so they can be
// stored in text columns.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// NonceSize is the GCM nonce length in bytes (96 bits).
const NonceSize = 12

var (
	// ErrAuthentication is returned when ciphertext, nonce or key do not match.
	ErrAuthentication = errors.New("cipher: message authentication failed")
	// ErrEmptyPassphrase is returned by DeriveKey for an empty passphrase.
	ErrEmptyPassphrase = errors.New("cipher: empty passphrase")
)

// Key is an AEAD key derived from a passphrase.
type Key struct {
	aead stdcipher.AEAD
}

// Sealed is the encoded output of Encrypt.
type Sealed struct {
	Ciphertext string
	IV         string
}

// DeriveKey hashes the UTF-8 bytes of passphrase with SHA-256 and uses the
// digest as an AES-256 key. The same passphrase always yields the same key.
func DeriveKey(passphrase string) (*Key, error) {
	return DeriveKeyBytes([]byte(passphrase))
}

// DeriveKeyBytes is DeriveKey for a passphrase held in a byte slice, such as
// an opened memguard buffer. The slice is not retained.
func DeriveKeyBytes(passphrase []byte) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	digest := sha256.Sum256(passphrase)
	defer memguard.WipeBytes(digest[:])

	block, err := aes.NewCipher(digest[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := stdcipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Key{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (k *Key) Encrypt(plaintext string) (Sealed, error) {
	return k.seal([]byte(plaintext))
}

// Decrypt opens a value produced by Encrypt. Any tampering with ciphertext or
// iv, or a key derived from a different passphrase, yields ErrAuthentication.
func (k *Key) Decrypt(ciphertext, iv string) (string, error) {
	pt, err := k.open(ciphertext, iv)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Reseal decrypts a sealed value under from and encrypts it under to. The
// intermediate plaintext is wiped before returning.
func Reseal(from, to *Key, ciphertext, iv string) (Sealed, error) {
	pt, err := from.open(ciphertext, iv)
	if err != nil {
		return Sealed{}, err
	}
	defer memguard.WipeBytes(pt)
	return to.seal(pt)
}

func (k *Key) seal(plaintext []byte) (Sealed, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	ct := k.aead.Seal(nil, nonce, plaintext, nil)
	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

func (k *Key) open(ciphertext, iv string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", NonceSize, len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}
