package cipher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		passphrase string
		plaintext  string
	}{
		{"ascii", "m1", "s3cr3t"},
		{"empty plaintext", "m1", ""},
		{"unicode", "päss-фраза", "ключ-🔑"},
		{"long", "a-much-longer-master-passphrase-used-in-production", string(make([]byte, 4096))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveKey(tt.passphrase)
			require.NoError(t, err)

			sealed, err := key.Encrypt(tt.plaintext)
			require.NoError(t, err)

			again, err := DeriveKey(tt.passphrase)
			require.NoError(t, err)
			got, err := again.Decrypt(sealed.Ciphertext, sealed.IV)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	t.Parallel()

	key, err := DeriveKey("m1")
	require.NoError(t, err)

	a, err := key.Encrypt("same value")
	require.NoError(t, err)
	b, err := key.Encrypt("same value")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

	nonce, err := base64.StdEncoding.DecodeString(a.IV)
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	t.Parallel()

	k1, err := DeriveKey("m1")
	require.NoError(t, err)
	k2, err := DeriveKey("m2")
	require.NoError(t, err)

	sealed, err := k1.Encrypt("s3cr3t")
	require.NoError(t, err)

	_, err = k2.Decrypt(sealed.Ciphertext, sealed.IV)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecryptDetectsTampering(t *testing.T) {
	t.Parallel()

	key, err := DeriveKey("m1")
	require.NoError(t, err)
	sealed, err := key.Encrypt("s3cr3t")
	require.NoError(t, err)

	ct, _ := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	ct[0] ^= 0xff
	_, err = key.Decrypt(base64.StdEncoding.EncodeToString(ct), sealed.IV)
	assert.ErrorIs(t, err, ErrAuthentication)

	iv, _ := base64.StdEncoding.DecodeString(sealed.IV)
	iv[0] ^= 0xff
	_, err = key.Decrypt(sealed.Ciphertext, base64.StdEncoding.EncodeToString(iv))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	key, err := DeriveKey("m1")
	require.NoError(t, err)

	_, err = key.Decrypt("not base64!", "AAAAAAAAAAAAAAAA")
	assert.Error(t, err)

	_, err = key.Decrypt("AAAA", "plain")
	assert.Error(t, err)

	_, err = key.Decrypt("AAAA", base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestDeriveKeyRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()

	_, err := DeriveKey("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestReseal(t *testing.T) {
	t.Parallel()

	k1, err := DeriveKey("m1")
	require.NoError(t, err)
	k2, err := DeriveKey("m2")
	require.NoError(t, err)

	sealed, err := k1.Encrypt("s3cr3t")
	require.NoError(t, err)

	moved, err := Reseal(k1, k2, sealed.Ciphertext, sealed.IV)
	require.NoError(t, err)
	assert.NotEqual(t, sealed.IV, moved.IV)

	got, err := k2.Decrypt(moved.Ciphertext, moved.IV)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	_, err = k1.Decrypt(moved.Ciphertext, moved.IV)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = Reseal(k2, k1, sealed.Ciphertext, sealed.IV)
	assert.ErrorIs(t, err, ErrAuthentication)
}
