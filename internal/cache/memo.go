// Package cache memoizes expensive, deterministic computations in a TTL
// key-value backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/shopgeo/internal/db"
)

// Memo is a get-or-compute cache for values of type V. Values are stored as
// JSON, so V must round-trip through encoding/json.
//
// A nil store disables caching: every call computes.
type Memo[V any] struct {
	name       string
	prefix     string
	store      db.KVStore
	group      singleflight.Group
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a memo. cacheTotal is a counter vec with labels "cache" and
// "result" ("hit"/"miss"), passed explicitly; it may be nil.
func New[V any](
	name string,
	store db.KVStore,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Memo[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memo[V]{
		name:       name,
		store:      store,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// WithKeyPrefix namespaces every key written by this memo.
func (m *Memo[V]) WithKeyPrefix(prefix string) *Memo[V] {
	m.prefix = prefix
	return m
}

// Name returns the memo name used in keys and metrics.
func (m *Memo[V]) Name() string { return m.name }

// GetOrCompute returns the live value stored under key, or runs compute,
// stores its result for ttl and returns it. Concurrent misses on one key share
// a single compute call. Errors from compute are returned and not cached.
// Backend failures are logged and treated as misses. A non-positive ttl
// computes without storing.
func (m *Memo[V]) GetOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) (V, error),
) (V, error) {
	if m.store == nil || ttl <= 0 {
		return compute(ctx)
	}

	full := m.storeKey(key)
	if v, ok := m.load(ctx, full); ok {
		m.inc("hit")
		return v, nil
	}

	res, err, _ := m.group.Do(full, func() (any, error) {
		// A flight that finished between our miss and Do has already stored it.
		if v, ok := m.load(ctx, full); ok {
			m.inc("hit")
			return v, nil
		}
		m.inc("miss")

		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		m.save(ctx, full, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("%s: %w", m.name, err)
	}
	return res.(V), nil
}

// Forget drops the value stored under key.
func (m *Memo[V]) Forget(ctx context.Context, key string) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Del(ctx, m.storeKey(key)); err != nil {
		return fmt.Errorf("forget %s: %w", m.name, err)
	}
	return nil
}

func (m *Memo[V]) storeKey(key string) string {
	return m.prefix + m.name + ":" + key
}

func (m *Memo[V]) load(ctx context.Context, key string) (V, bool) {
	var v V
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			m.logger.Warn("Failed to read cache", zap.String("key", key), zap.Error(err))
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		m.logger.Warn("Failed to decode cached value", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

func (m *Memo[V]) save(ctx context.Context, key string, v V, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("Failed to encode value for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := m.store.SetWithTTL(ctx, key, data, ttl); err != nil {
		m.logger.Warn("Failed to write cache", zap.String("key", key), zap.Error(err))
	}
}

func (m *Memo[V]) inc(result string) {
	if m.cacheTotal != nil {
		m.cacheTotal.WithLabelValues(m.name, result).Inc()
	}
}

// Fingerprint derives a fixed-length key from parts. Parts are length-framed,
// so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
