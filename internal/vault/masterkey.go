package vault

import (
	"context"
	"errors"
	"strconv"

	"github.com/systmms/secretvault/internal/cipher"
	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/secure"
	"github.com/systmms/secretvault/internal/store"
)

// RotationResult summarizes a committed rotation.
type RotationResult struct {
	Reencrypted int `json:"reencrypted"`
	Plain       int `json:"plain"`
}

// SetMasterKey stores key as the master key, replacing any existing one.
// Existing encrypted records are not touched; use RotateMasterKey to change
// the key of a populated vault.
func (s *Service) SetMasterKey(ctx context.Context, c Caller, key string) error {
	if err := c.check(); err != nil {
		return err
	}
	if key == "" {
		return verrors.Validation("master_key is required")
	}

	err := s.store.Atomically(ctx, func(q store.Queries) error {
		if _, err := q.GetSecret(ctx, store.SystemProvider, store.MasterKeyName); err == nil {
			s.logger.Warn("Overwriting existing master key; records encrypted under it will no longer decrypt")
		} else if !errors.Is(err, store.ErrNotFound) {
			return verrors.Internal(err, "read master key")
		}

		if err := q.UpsertSecret(ctx, store.PlainRecord(store.SystemProvider, store.MasterKeyName, key)); err != nil {
			return verrors.Internal(err, "store master key")
		}
		if err := q.AppendAudit(ctx, c.audit(ActionSetMasterKey, store.SystemProvider, nil)); err != nil {
			return verrors.Internal(err, "write audit entry")
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "set master key")
	}
	s.logger.Info("Master key set by %s", c.Principal.Identity().UserID)
	return nil
}

// RotateMasterKey re-encrypts every encrypted record from oldKey to newKey
// and then replaces the master key. The whole rotation is one atomic write:
// if any record fails to re-encrypt, nothing is committed and the master key
// stays oldKey.
func (s *Service) RotateMasterKey(ctx context.Context, c Caller, oldKey, newKey string) (RotationResult, error) {
	if err := c.check(); err != nil {
		return RotationResult{}, err
	}
	if oldKey == "" || newKey == "" {
		return RotationResult{}, verrors.Validation("old_master_key and new_master_key are required")
	}

	var result RotationResult
	err := s.store.Atomically(ctx, func(q store.Queries) error {
		result = RotationResult{}

		rec, err := q.GetSecret(ctx, store.SystemProvider, store.MasterKeyName)
		if errors.Is(err, store.ErrNotFound) {
			return verrors.Validation("master key is not set")
		}
		if err != nil {
			return verrors.Internal(err, "read master key")
		}

		from, to, err := rotationKeys(rec, oldKey, newKey)
		if err != nil {
			return err
		}

		records, err := q.SecretsExcept(ctx, store.SystemProvider)
		if err != nil {
			return verrors.Internal(err, "load secrets")
		}
		for _, r := range records {
			enc, ok := r.Payload().(store.Encrypted)
			if !ok {
				result.Plain++
				continue
			}
			sealed, err := cipher.Reseal(from, to, enc.Ciphertext, enc.IV)
			if err != nil {
				s.logger.Error("Rotation aborted: cannot re-encrypt %s/%s: %v", r.Provider, r.Name, err)
				return verrors.Internal(err, "re-encrypt %s/%s", r.Provider, r.Name)
			}
			r.Ciphertext, r.IV = sealed.Ciphertext, sealed.IV
			if err := q.UpsertSecret(ctx, r); err != nil {
				return verrors.Internal(err, "store %s/%s", r.Provider, r.Name)
			}
			result.Reencrypted++
		}

		if err := q.UpsertSecret(ctx, store.PlainRecord(store.SystemProvider, store.MasterKeyName, newKey)); err != nil {
			return verrors.Internal(err, "store master key")
		}
		return q.AppendAudit(ctx, c.audit(ActionRotateMasterKey, store.SystemProvider, map[string]string{
			"reencrypted": strconv.Itoa(result.Reencrypted),
		}))
	})
	if err != nil {
		s.metrics.RecordRotation(false, 0)
		return RotationResult{}, s.wrap(err, "rotate master key")
	}

	s.metrics.RecordRotation(true, result.Reencrypted)
	s.logger.Info("Master key rotated by %s: %d records re-encrypted, %d plain left unchanged",
		c.Principal.Identity().UserID, result.Reencrypted, result.Plain)
	return result, nil
}

// rotationKeys checks oldKey against the stored master key by constant-time
// comparison and derives both cipher keys.
func rotationKeys(master store.Record, oldKey, newKey string) (*cipher.Key, *cipher.Key, error) {
	stored, err := secure.NewSecureString(master.Ciphertext)
	if err != nil {
		return nil, nil, verrors.Internal(err, "load master key")
	}
	defer stored.Destroy()

	match, err := stored.Equal(oldKey)
	if err != nil {
		return nil, nil, verrors.Internal(err, "compare master key")
	}
	if !match {
		return nil, nil, verrors.Validation("old master key does not match")
	}

	from, err := stored.DeriveKey()
	if err != nil {
		return nil, nil, verrors.Internal(err, "derive key")
	}

	next, err := secure.NewSecureString(newKey)
	if err != nil {
		return nil, nil, verrors.Internal(err, "load new master key")
	}
	defer next.Destroy()

	to, err := next.DeriveKey()
	if err != nil {
		return nil, nil, verrors.Internal(err, "derive key")
	}
	return from, to, nil
}
