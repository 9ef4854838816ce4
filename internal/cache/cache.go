// Package cache provides the TTL caches used in front of the data provider.
// Reads are two-phase: TryRead with an explicit maximum age, then
// ComputeAndStore on a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/metrics"
)

// ErrMiss is returned by a Store when a key has no entry
var ErrMiss = errors.New("cache miss")

// Freshness limits per data kind
const (
	OddsTTL      = 15 * time.Minute
	FormTTL      = 12 * time.Hour
	StandingsTTL = 6 * time.Hour
)

// Entry is a stored value and the time it was computed
type Entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is the storage backend of a Cache
type Store interface {
	Load(ctx context.Context, key string) (Entry, error)
	Save(ctx context.Context, key string, e Entry) error
}

// Cache is a named TTL cache on top of a Store
type Cache struct {
	name    string
	store   Store
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits and misses
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache; name is used in logs and metrics
func New(name string, store Store, opts ...Option) *Cache {
	c := &Cache{name: name, store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cache name
func (c *Cache) Name() string {
	return c.name
}

// TryRead returns the value for key if it is younger than maxAge. Backend
// errors are logged and reported as a miss.
func (c *Cache) TryRead(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
	e, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			logrus.WithFields(logrus.Fields{
				"cache": c.name,
				"key":   key,
				"error": err,
			}).Warn("Cache read failed")
		}
		c.metrics.CacheLookup(c.name, false)
		return nil, false
	}

	if c.now().Sub(e.StoredAt) > maxAge {
		c.metrics.CacheLookup(c.name, false)
		return nil, false
	}
	c.metrics.CacheLookup(c.name, true)
	return e.Value, true
}

// ComputeAndStore runs compute and stores its result. A failed store is
// logged; the computed value is still returned.
func (c *Cache) ComputeAndStore(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.Save(ctx, key, Entry{Value: v, StoredAt: c.now()}); err != nil {
		logrus.WithFields(logrus.Fields{
			"cache": c.name,
			"key":   key,
			"error": err,
		}).Warn("Cache write failed")
	}
	return v, nil
}

// GetOrCompute reads a JSON value through the cache, computing it on a miss
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, maxAge time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var out T
	if raw, ok := c.TryRead(ctx, key, maxAge); ok {
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		logrus.WithFields(logrus.Fields{"cache": c.name, "key": key}).Warn("Discarding undecodable cache entry")
	}

	var computed T
	_, err := c.ComputeAndStore(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computed = v
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache value: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return out, err
	}
	return computed, nil
}
