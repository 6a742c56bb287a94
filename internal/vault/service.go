// Package vault implements the integration-secrets operations: master key
// lifecycle, encrypted upsert, audited reveal and the plain metered key.
// Every operation takes an authz.Principal and refuses callers the gate did
// not admit. The master key is read from the store on every call.
package vault

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/secretvault/internal/authz"
	"github.com/systmms/secretvault/internal/cipher"
	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/metering"
	"github.com/systmms/secretvault/internal/secure"
	"github.com/systmms/secretvault/internal/store"
	"github.com/systmms/secretvault/internal/telemetry"
	"github.com/systmms/secretvault/internal/validation"
)

// Audit actions.
const (
	ActionRevealSecret    = "reveal_secret"
	ActionSetMasterKey    = "set_master_key"
	ActionRotateMasterKey = "rotate_master_key"
	ActionUpsertSecret    = "upsert_secret"
	ActionSetAPIKey       = "set_api_key"
	ActionClearAPIKey     = "clear_api_key"
)

// DefaultMeteredName is the record name of the metered provider key.
const DefaultMeteredName = "api_key"

// Caller is the admitted principal plus request details recorded in audit entries.
type Caller struct {
	Principal authz.Principal
	UserAgent string
	RequestID string
}

func (c Caller) check() error {
	if !c.Principal.Admitted() {
		return verrors.Forbidden("forbidden")
	}
	return nil
}

func (c Caller) audit(action, provider string, meta map[string]string) store.AuditEntry {
	if meta == nil {
		meta = map[string]string{}
	}
	if c.UserAgent != "" {
		meta["user_agent"] = c.UserAgent
	}
	if c.RequestID != "" {
		meta["request_id"] = c.RequestID
	}
	return store.AuditEntry{
		ActorID:  c.Principal.Identity().UserID,
		Action:   action,
		Provider: provider,
		Metadata: meta,
	}
}

// Status describes whether a secret is configured, without its value.
type Status struct {
	Configured   bool            `json:"configured"`
	UpdatedAt    *time.Time      `json:"updated_at"`
	Usage        *metering.Usage `json:"usage,omitempty"`
	APIKeyMasked string          `json:"api_key_masked,omitempty"`
}

// Revealed is the result of an audited reveal.
type Revealed struct {
	Value     string    `json:"value"`
	Masked    string    `json:"masked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service implements the vault operations.
type Service struct {
	store       store.Store
	meter       *metering.Meter
	keys        *validation.KeyValidator
	meteredName string
	metrics     *telemetry.Metrics
	logger      *logging.Logger
}

// NewService wires a service. meteredName is the record name of the metered
// provider's key; empty selects DefaultMeteredName.
func NewService(s store.Store, meter *metering.Meter, keys *validation.KeyValidator, meteredName string, logger *logging.Logger) *Service {
	if meteredName == "" {
		meteredName = DefaultMeteredName
	}
	return &Service{
		store:       s,
		meter:       meter,
		keys:        keys,
		meteredName: meteredName,
		metrics:     telemetry.NewMetrics(),
		logger:      logger,
	}
}

// MeteredKey returns the (provider, name) of the metered key.
func (s *Service) MeteredKey() (string, string) {
	return s.meter.Provider(), s.meteredName
}

func (s *Service) isMetered(provider, name string) bool {
	return provider == s.meter.Provider() && name == s.meteredName
}

// target fills in the metered key when neither provider nor name is given.
func (s *Service) target(provider, name string) (string, string, error) {
	if provider == "" && name == "" {
		p, n := s.MeteredKey()
		return p, n, nil
	}
	if provider == "" || name == "" {
		return "", "", verrors.Validation("provider and name must be given together")
	}
	return provider, name, nil
}

// List returns metadata for every record, newest first.
func (s *Service) List(ctx context.Context, c Caller) ([]store.Metadata, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	items, err := s.store.ListSecrets(ctx)
	if err != nil {
		return nil, verrors.Internal(err, "list secrets")
	}
	return items, nil
}

// UpsertSecret encrypts value under the current master key and stores it.
func (s *Service) UpsertSecret(ctx context.Context, c Caller, provider, name, value string) error {
	if err := c.check(); err != nil {
		return err
	}
	if provider == "" || name == "" || value == "" {
		return verrors.Validation("provider, name and value are required")
	}
	if provider == store.SystemProvider {
		return verrors.Validation("provider %q is reserved", store.SystemProvider)
	}
	if s.isMetered(provider, name) {
		return verrors.Validation("%s/%s is stored in plain form; use set", provider, name)
	}

	err := s.store.Atomically(ctx, func(q store.Queries) error {
		key, err := s.currentKey(ctx, q)
		if err != nil {
			return err
		}
		sealed, err := key.Encrypt(value)
		if err != nil {
			return verrors.Internal(err, "encrypt secret")
		}
		if err := q.UpsertSecret(ctx, store.Record{
			Provider:   provider,
			Name:       name,
			Ciphertext: sealed.Ciphertext,
			IV:         sealed.IV,
		}); err != nil {
			return verrors.Internal(err, "store secret")
		}
		if err := q.AppendAudit(ctx, c.audit(ActionUpsertSecret, provider, map[string]string{"name": name})); err != nil {
			return verrors.Internal(err, "write audit entry")
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "upsert secret")
	}
	s.logger.Info("Stored secret %s/%s", provider, name)
	return nil
}

// GetSecretStatus reports whether a secret exists. For the metered key it
// also reports usage and the masked key.
func (s *Service) GetSecretStatus(ctx context.Context, c Caller, provider, name string) (Status, error) {
	if err := c.check(); err != nil {
		return Status{}, err
	}
	provider, name, err := s.target(provider, name)
	if err != nil {
		return Status{}, err
	}

	rec, err := s.store.GetSecret(ctx, provider, name)
	if errors.Is(err, store.ErrNotFound) {
		return Status{Configured: false}, nil
	}
	if err != nil {
		return Status{}, verrors.Internal(err, "read secret")
	}

	updated := rec.UpdatedAt
	status := Status{Configured: true, UpdatedAt: &updated}
	if plain, ok := rec.Payload().(store.Plaintext); ok && s.isMetered(provider, name) {
		usage, err := s.meter.Usage(ctx, plain.Value)
		if err != nil {
			return Status{}, verrors.Internal(err, "read usage")
		}
		status.Usage = &usage
		status.APIKeyMasked = validation.MaskKey(plain.Value)
	}
	return status, nil
}

// RevealSecret returns a secret's value. The reveal is written to the audit
// log before the value is returned; if the audit write fails the value is
// withheld.
func (s *Service) RevealSecret(ctx context.Context, c Caller, provider, name string) (Revealed, error) {
	if err := c.check(); err != nil {
		return Revealed{}, err
	}
	provider, name, err := s.target(provider, name)
	if err != nil {
		return Revealed{}, err
	}

	// Record and master key must come from the same snapshot.
	var (
		rec   store.Record
		value string
	)
	err = s.store.Atomically(ctx, func(q store.Queries) error {
		r, err := q.GetSecret(ctx, provider, name)
		if errors.Is(err, store.ErrNotFound) {
			return verrors.NotFound("secret %s/%s is not configured", provider, name)
		}
		if err != nil {
			return verrors.Internal(err, "read secret")
		}
		rec = r

		switch p := r.Payload().(type) {
		case store.Plaintext:
			value = p.Value
		case store.Encrypted:
			key, err := s.currentKey(ctx, q)
			if err != nil {
				return err
			}
			value, err = key.Decrypt(p.Ciphertext, p.IV)
			if err != nil {
				s.logger.Error("Failed to decrypt %s/%s: %v", provider, name, err)
				return verrors.Internal(err, "decrypt secret")
			}
		}
		return nil
	})
	if err != nil {
		return Revealed{}, s.wrap(err, "reveal secret")
	}

	if err := s.store.AppendAudit(ctx, c.audit(ActionRevealSecret, provider, map[string]string{"name": name})); err != nil {
		return Revealed{}, verrors.Internal(err, "write audit entry")
	}
	s.metrics.RecordReveal(provider)
	s.logger.Info("Revealed secret %s/%s to %s", provider, name, c.Principal.Identity().UserID)

	return Revealed{
		Value:     value,
		Masked:    validation.MaskKey(value),
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// SetAPIKey validates and stores the metered provider key in plain form,
// starting a fresh usage counter for it.
func (s *Service) SetAPIKey(ctx context.Context, c Caller, apiKey string) (metering.Usage, error) {
	if err := c.check(); err != nil {
		return metering.Usage{}, err
	}
	if err := s.keys.ValidateAPIKey(apiKey).Err(); err != nil {
		return metering.Usage{}, verrors.Validation("%s", err.Error())
	}
	provider, name := s.MeteredKey()
	return s.SetPlainSecret(ctx, c, provider, name, apiKey)
}

// SetPlainSecret stores value without encryption. For the metered key the
// usage counter follows the new value: the old key's counter is removed and
// the new one starts at zero. Re-setting the same value keeps its counter.
func (s *Service) SetPlainSecret(ctx context.Context, c Caller, provider, name, value string) (metering.Usage, error) {
	if err := c.check(); err != nil {
		return metering.Usage{}, err
	}
	if provider == "" || name == "" || value == "" {
		return metering.Usage{}, verrors.Validation("provider, name and value are required")
	}
	if provider == store.SystemProvider {
		return metering.Usage{}, verrors.Validation("provider %q is reserved", store.SystemProvider)
	}

	var usage metering.Usage
	err := s.store.Atomically(ctx, func(q store.Queries) error {
		var previous string
		old, err := q.GetSecret(ctx, provider, name)
		switch {
		case err == nil:
			if p, ok := old.Payload().(store.Plaintext); ok {
				previous = p.Value
			}
		case !errors.Is(err, store.ErrNotFound):
			return verrors.Internal(err, "read secret")
		}

		if err := q.UpsertSecret(ctx, store.PlainRecord(provider, name, value)); err != nil {
			return verrors.Internal(err, "store secret")
		}

		if s.isMetered(provider, name) {
			if previous == value {
				usage, err = s.meter.UsageByHash(ctx, q, metering.KeyHash(value))
			} else {
				usage, err = s.meter.ResetForNewKey(ctx, q, previous, value)
			}
			if err != nil {
				return verrors.Internal(err, "reset usage")
			}
		}

		if err := q.AppendAudit(ctx, c.audit(ActionSetAPIKey, provider, map[string]string{"name": name})); err != nil {
			return verrors.Internal(err, "write audit entry")
		}
		return nil
	})
	if err != nil {
		return metering.Usage{}, s.wrap(err, "set plain secret")
	}
	if s.isMetered(provider, name) {
		s.metrics.SetMeteredUsage(provider, usage.Used)
	}
	s.logger.Info("Stored plain secret %s/%s", provider, name)
	return usage, nil
}

// ClearSecret deletes a secret. Clearing a plain metered key also deletes
// its usage counter. Empty provider and name select the metered key.
func (s *Service) ClearSecret(ctx context.Context, c Caller, provider, name string) error {
	if err := c.check(); err != nil {
		return err
	}
	provider, name, err := s.target(provider, name)
	if err != nil {
		return err
	}
	if store.IsMasterKey(provider, name) {
		return verrors.Validation("the master key cannot be cleared")
	}

	err = s.store.Atomically(ctx, func(q store.Queries) error {
		rec, err := q.GetSecret(ctx, provider, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return verrors.Internal(err, "read secret")
		}
		if p, ok := rec.Payload().(store.Plaintext); ok && s.isMetered(provider, name) {
			if err := s.meter.Forget(ctx, q, p.Value); err != nil {
				return verrors.Internal(err, "delete usage")
			}
		}
		if err := q.DeleteSecret(ctx, provider, name); err != nil {
			return verrors.Internal(err, "delete secret")
		}
		if err := q.AppendAudit(ctx, c.audit(ActionClearAPIKey, provider, map[string]string{"name": name})); err != nil {
			return verrors.Internal(err, "write audit entry")
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "clear secret")
	}
	s.logger.Info("Cleared secret %s/%s", provider, name)
	return nil
}

// currentKey derives the encryption key from the stored master key.
func (s *Service) currentKey(ctx context.Context, q store.Queries) (*cipher.Key, error) {
	rec, err := q.GetSecret(ctx, store.SystemProvider, store.MasterKeyName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, verrors.PreconditionFailed("master key is not set")
	}
	if err != nil {
		return nil, verrors.Internal(err, "read master key")
	}
	return deriveFromRecord(rec)
}

func deriveFromRecord(rec store.Record) (*cipher.Key, error) {
	buf, err := secure.NewSecureString(rec.Ciphertext)
	if err != nil {
		return nil, verrors.Internal(err, "load master key")
	}
	defer buf.Destroy()

	key, err := buf.DeriveKey()
	if err != nil {
		return nil, verrors.Internal(err, "derive key")
	}
	return key, nil
}

// wrap keeps classified errors and marks anything else internal.
func (s *Service) wrap(err error, op string) error {
	var ve *verrors.VaultError
	if errors.As(err, &ve) {
		return err
	}
	return verrors.Internal(err, "%s", op)
}
