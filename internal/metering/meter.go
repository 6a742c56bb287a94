// Package metering tracks call quotas for metered provider keys. Counters are
// keyed by a hash of the key value, so replacing a key starts a fresh quota
// even though its provider and name stay the same.
package metering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/store"
	"github.com/systmms/secretvault/internal/telemetry"
)

// DefaultLimit is the quota given to a key with no stored counter.
const DefaultLimit = 250

// ErrQuotaExhausted is returned by Consume once a key has used its limit.
var ErrQuotaExhausted = errors.New("metering: usage limit reached")

// Usage is the read view of a counter.
type Usage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Exhausted bool `json:"exhausted"`
}

func usageOf(c store.UsageCounter) Usage {
	return Usage{Used: c.Used, Limit: c.Limit, Exhausted: c.Used >= c.Limit}
}

// KeyHash returns the hex SHA-256 of rawKey, the metering identity of a key.
func KeyHash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Meter reads and updates counters for one metered provider.
type Meter struct {
	store    store.Store
	provider string
	limit    int
	metrics  *telemetry.Metrics
	logger   *logging.Logger
}

// New creates a meter for provider. A non-positive limit selects DefaultLimit.
func New(s store.Store, provider string, limit int, logger *logging.Logger) *Meter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Meter{
		store:    s,
		provider: provider,
		limit:    limit,
		metrics:  telemetry.NewMetrics(),
		logger:   logger,
	}
}

// Provider returns the provider whose key this meter tracks.
func (m *Meter) Provider() string { return m.provider }

// Limit returns the quota assigned to new counters.
func (m *Meter) Limit() int { return m.limit }

// Usage returns the counter for rawKey. A missing counter is reported as
// unused at the default limit.
func (m *Meter) Usage(ctx context.Context, rawKey string) (Usage, error) {
	return m.UsageByHash(ctx, m.store, KeyHash(rawKey))
}

// UsageByHash reads a counter through q.
func (m *Meter) UsageByHash(ctx context.Context, q store.Queries, keyHash string) (Usage, error) {
	c, err := q.GetUsage(ctx, keyHash)
	if errors.Is(err, store.ErrNotFound) {
		return Usage{Used: 0, Limit: m.limit}, nil
	}
	if err != nil {
		return Usage{}, err
	}
	return usageOf(c), nil
}

// ResetForNewKey drops the counter of oldRawKey, if any, and starts newRawKey
// at zero. It runs through q so callers can make it part of the write that
// replaces the key.
func (m *Meter) ResetForNewKey(ctx context.Context, q store.Queries, oldRawKey, newRawKey string) (Usage, error) {
	if oldRawKey != "" {
		if err := q.DeleteUsage(ctx, KeyHash(oldRawKey)); err != nil {
			return Usage{}, fmt.Errorf("delete old usage counter: %w", err)
		}
	}
	c := store.UsageCounter{
		KeyHash:  KeyHash(newRawKey),
		Provider: m.provider,
		Used:     0,
		Limit:    m.limit,
	}
	if err := q.PutUsage(ctx, c); err != nil {
		return Usage{}, fmt.Errorf("create usage counter: %w", err)
	}
	m.logger.Debug("Reset usage counter for %s key", m.provider)
	return usageOf(c), nil
}

// Forget deletes the counter of rawKey through q.
func (m *Meter) Forget(ctx context.Context, q store.Queries, rawKey string) error {
	if err := q.DeleteUsage(ctx, KeyHash(rawKey)); err != nil {
		return fmt.Errorf("delete usage counter: %w", err)
	}
	return nil
}

// Consume records one metered call made with rawKey. Callers invoke it
// before contacting the provider and skip the call on ErrQuotaExhausted.
// A key without a counter gets one at the default limit.
func (m *Meter) Consume(ctx context.Context, rawKey string) (Usage, error) {
	hash := KeyHash(rawKey)

	ok, err := m.store.IncrementUsage(ctx, hash)
	if err != nil {
		return Usage{}, err
	}
	if !ok {
		err = m.store.Atomically(ctx, func(q store.Queries) error {
			_, getErr := q.GetUsage(ctx, hash)
			if getErr == nil {
				ok, err = q.IncrementUsage(ctx, hash)
				return err
			}
			if !errors.Is(getErr, store.ErrNotFound) {
				return getErr
			}
			if err := q.PutUsage(ctx, store.UsageCounter{KeyHash: hash, Provider: m.provider, Limit: m.limit}); err != nil {
				return err
			}
			ok, err = q.IncrementUsage(ctx, hash)
			return err
		})
		if err != nil {
			return Usage{}, err
		}
	}

	usage, err := m.UsageByHash(ctx, m.store, hash)
	if err != nil {
		return Usage{}, err
	}
	m.metrics.SetMeteredUsage(m.provider, usage.Used)
	if !ok {
		m.logger.Warn("Usage limit reached for %s key (%d/%d)", m.provider, usage.Used, usage.Limit)
		return usage, ErrQuotaExhausted
	}
	return usage, nil
}
