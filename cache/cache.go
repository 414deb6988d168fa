// Package cache stores node results keyed by content so that a node run
// again with the same inputs can reuse its earlier output.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/graflow/serde"
)

// FullKey addresses one cache entry. Namespace is the canonical JSON array
// form of the namespace labels.
type FullKey struct {
	Namespace string
	Key       string
}

// NewFullKey builds a FullKey from namespace labels.
func NewFullKey(ns []string, key string) FullKey {
	return FullKey{Namespace: EncodeNamespace(ns), Key: key}
}

// EncodeNamespace renders namespace labels in their stored form.
func EncodeNamespace(ns []string) string {
	labels := make([]any, len(ns))
	for i, l := range ns {
		labels[i] = l
	}
	return string(serde.CanonicalJSON(labels))
}

// Labels decodes the namespace labels of k.
func (k FullKey) Labels() []string {
	var ns []string
	if err := json.Unmarshal([]byte(k.Namespace), &ns); err != nil {
		return nil
	}
	return ns
}

// Entry is a stored cache value.
type Entry struct {
	FullKey
	Encoding  string
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Stats summarizes the cache contents.
type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"`
}

// Store defines the persistence contract for cache entries.
type Store interface {
	// GetCacheEntries returns the entries present for keys, expired or not.
	GetCacheEntries(ctx context.Context, keys []FullKey) ([]*Entry, error)

	// SetCacheEntries upserts entries.
	SetCacheEntries(ctx context.Context, entries []*Entry) error

	// DeleteExpiredCacheEntries hard-deletes entries expired at now.
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)

	// DeleteCacheNamespaces deletes every entry in the given namespaces.
	DeleteCacheNamespaces(ctx context.Context, namespaces []string) (int64, error)

	// DeleteAllCacheEntries empties the cache.
	DeleteAllCacheEntries(ctx context.Context) (int64, error)

	// CacheStats counts entries relative to now.
	CacheStats(ctx context.Context, now time.Time) (Stats, error)
}

// Item is a value to cache with an optional TTL. A zero TTL never expires.
type Item struct {
	Value any
	TTL   time.Duration
}

// Cache is the result cache used by the execution engine. One mutex
// serializes sweeps, reads, writes and clears of a Cache instance.
type Cache struct {
	mu     sync.Mutex
	store  Store
	serde  serde.Serializer
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithSerializer replaces the default msgpack serializer.
func WithSerializer(s serde.Serializer) Option {
	return func(c *Cache) { c.serde = s }
}

// WithLogger sets the logger for the cache.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		serde:  serde.New(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live values for keys. Expired entries are swept first
// and never returned.
func (c *Cache) Get(ctx context.Context, keys []FullKey) (map[FullKey]any, error) {
	out := map[FullKey]any{}
	if len(keys) == 0 {
		return out, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, err := c.store.DeleteExpiredCacheEntries(ctx, now); err != nil {
		return nil, fmt.Errorf("cache: sweep: %w", err)
	}
	entries, err := c.store.GetCacheEntries(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		v, err := c.serde.LoadsTyped(e.Encoding, e.Data)
		if err != nil {
			c.logger.Warn("cache: dropping undecodable entry",
				slog.String("namespace", e.Namespace),
				slog.String("key", e.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[e.FullKey] = v
	}
	return out, nil
}

// Set stores values. Existing entries are replaced.
func (c *Cache) Set(ctx context.Context, items map[FullKey]Item) error {
	if len(items) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entries := make([]*Entry, 0, len(items))
	for k, it := range items {
		enc, data, err := c.serde.DumpsTyped(it.Value)
		if err != nil {
			return fmt.Errorf("cache: serialize %s: %w", k.Key, err)
		}
		e := &Entry{FullKey: k, Encoding: enc, Data: data, CreatedAt: now}
		if it.TTL > 0 {
			at := now.Add(it.TTL)
			e.ExpiresAt = &at
		}
		entries = append(entries, e)
	}
	if err := c.store.SetCacheEntries(ctx, entries); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// Clear deletes the given namespaces, or everything when none are given.
func (c *Cache) Clear(ctx context.Context, namespaces ...[]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if len(namespaces) == 0 {
		_, err = c.store.DeleteAllCacheEntries(ctx)
	} else {
		encoded := make([]string, len(namespaces))
		for i, ns := range namespaces {
			encoded[i] = EncodeNamespace(ns)
		}
		_, err = c.store.DeleteCacheNamespaces(ctx, encoded)
	}
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Stats reports total, active and expired entry counts.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	return c.store.CacheStats(ctx, c.now())
}

// Cleanup deletes expired entries and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DeleteExpiredCacheEntries(ctx, c.now())
}
