package secure

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretvault/internal/cipher"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "creates enclave from bytes", data: []byte("my-secret-password")},
		{name: "handles binary data", data: []byte{0x00, 0xFF, 0x10, 0x20}},
		{name: "rejects empty data", data: []byte{}, wantErr: ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf, err := NewSecureBuffer(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, buf)
			buf.Destroy()
		})
	}
}

func TestSecureBuffer_Open(t *testing.T) {
	t.Parallel()

	// memguard wipes the source slice, so compare against a separate copy
	secret := []byte("super-secret-data")
	expected := []byte("super-secret-data")

	buf, err := NewSecureBuffer(secret)
	require.NoError(t, err)
	defer buf.Destroy()

	for i := 0; i < 3; i++ {
		locked, err := buf.Open()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(locked.Bytes(), expected), "iteration %d", i)
		locked.Destroy()
	}
}

func TestSecureBuffer_Equal(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureString("m1")
	require.NoError(t, err)
	defer buf.Destroy()

	ok, err := buf.Equal("m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = buf.Equal("m2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = buf.Equal("m1 ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecureBuffer_DeriveKeyMatchesCipher(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureString("m1")
	require.NoError(t, err)
	defer buf.Destroy()

	protected, err := buf.DeriveKey()
	require.NoError(t, err)
	direct, err := cipher.DeriveKey("m1")
	require.NoError(t, err)

	sealed, err := protected.Encrypt("s3cr3t")
	require.NoError(t, err)
	got, err := direct.Decrypt(sealed.Ciphertext, sealed.IV)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestSecureBuffer_Destroy(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureString("secret-to-destroy")
	require.NoError(t, err)

	buf.Destroy()
	buf.Destroy() // idempotent

	_, err = buf.Open()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = buf.DeriveKey()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestSecureBuffer_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureString("concurrent-secret")
	require.NoError(t, err)
	defer buf.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := buf.Equal("concurrent-secret")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
