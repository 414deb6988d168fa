package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/graflow/cache"
)

// GetCacheEntries returns the entries present for keys, expired or not.
func (s *Store) GetCacheEntries(ctx context.Context, keys []cache.FullKey) ([]*cache.Entry, error) {
	if len(keys) == 0 {
		return []*cache.Entry{}, nil
	}
	namespaces := make([]string, len(keys))
	ks := make([]string, len(keys))
	for i, k := range keys {
		namespaces[i] = k.Namespace
		ks[i] = k.Key
	}

	rows, err := s.pool.Query(ctx, `
		SELECT e.namespace, e.key, e.encoding, e.data, e.created_at, e.expires_at
		FROM graflow_cache_entries e
		JOIN unnest($1::text[], $2::text[]) AS want(namespace, key)
		  ON e.namespace = want.namespace AND e.key = want.key`,
		namespaces, ks)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: get cache entries: %w", err)
	}
	defer rows.Close()

	result := make([]*cache.Entry, 0, len(keys))
	for rows.Next() {
		e := &cache.Entry{}
		if err := rows.Scan(&e.Namespace, &e.Key, &e.Encoding, &e.Data, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("graflow/postgres: scan cache entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if e.ExpiresAt != nil {
			t := e.ExpiresAt.UTC()
			e.ExpiresAt = &t
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// SetCacheEntries upserts entries.
func (s *Store) SetCacheEntries(ctx context.Context, entries []*cache.Entry) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO graflow_cache_entries (namespace, key, encoding, data, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (namespace, key) DO UPDATE SET
				encoding = EXCLUDED.encoding,
				data = EXCLUDED.data,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at`,
			e.Namespace, e.Key, e.Encoding, e.Data, e.CreatedAt, e.ExpiresAt)
		if err != nil {
			return fmt.Errorf("graflow/postgres: set cache entry: %w", err)
		}
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries expired at now.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM graflow_cache_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("graflow/postgres: delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCacheNamespaces removes every entry in namespaces.
func (s *Store) DeleteCacheNamespaces(ctx context.Context, namespaces []string) (int64, error) {
	if len(namespaces) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM graflow_cache_entries WHERE namespace = ANY($1)`, namespaces)
	if err != nil {
		return 0, fmt.Errorf("graflow/postgres: delete cache namespaces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllCacheEntries empties the cache.
func (s *Store) DeleteAllCacheEntries(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graflow_cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("graflow/postgres: delete cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CacheStats counts entries relative to now.
func (s *Store) CacheStats(ctx context.Context, now time.Time) (cache.Stats, error) {
	var st cache.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1)
		FROM graflow_cache_entries`, now).Scan(&st.Total, &st.Expired)
	if err != nil {
		return cache.Stats{}, fmt.Errorf("graflow/postgres: cache stats: %w", err)
	}
	st.Active = st.Total - st.Expired
	return st, nil
}
