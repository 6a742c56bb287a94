// Package secure holds short-lived secrets, such as the master key of a
// single request, in memguard-protected memory.
//
// A SecureBuffer keeps its value encrypted (XSalsa20Poly1305) in an enclave.
// Plaintext only appears in a mlocked, guard-paged memguard.LockedBuffer for
// the span of one Open call, and is wiped when that buffer is destroyed.
//
//	buf, err := secure.NewSecureString(masterKey)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	key, err := buf.DeriveKey()
//
// # Platform Behavior
//
// Linux requires RLIMIT_MEMLOCK to allow the locked pages. When mlock is
// unavailable memguard falls back to ordinary memory.
//
// It does NOT protect against attackers with root access to the running
// process or against hardware-level attacks.
package secure
