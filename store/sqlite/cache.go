package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow/cache"
)

// GetCacheEntries returns the entries present for keys, expired or not.
func (s *Store) GetCacheEntries(ctx context.Context, keys []cache.FullKey) ([]*cache.Entry, error) {
	result := make([]*cache.Entry, 0, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	want := make(map[cache.FullKey]bool, len(keys))
	namespaces := make([]string, 0, len(keys))
	for _, k := range keys {
		want[k] = true
		namespaces = append(namespaces, k.Namespace)
	}

	var models []cacheEntryModel
	err := s.db.NewSelect().Model(&models).
		Where("namespace IN (?)", bun.In(namespaces)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: get cache entries: %w", err)
	}
	for i := range models {
		e := fromCacheEntryModel(&models[i])
		if want[e.FullKey] {
			result = append(result, e)
		}
	}
	return result, nil
}

// SetCacheEntries upserts entries.
func (s *Store) SetCacheEntries(ctx context.Context, entries []*cache.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]cacheEntryModel, len(entries))
	for i, e := range entries {
		models[i] = toCacheEntryModel(e)
	}
	_, err := s.db.NewInsert().Model(&models).
		On("CONFLICT (namespace, key) DO UPDATE").
		Set("encoding = EXCLUDED.encoding").
		Set("data = EXCLUDED.data").
		Set("created_at = EXCLUDED.created_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: set cache entries: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries expired at now.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteCache(ctx, "delete expired cache entries",
		"expires_at IS NOT NULL AND expires_at <= ?", toMillis(now))
}

// DeleteCacheNamespaces removes every entry in namespaces.
func (s *Store) DeleteCacheNamespaces(ctx context.Context, namespaces []string) (int64, error) {
	if len(namespaces) == 0 {
		return 0, nil
	}
	return s.deleteCache(ctx, "delete cache namespaces", "namespace IN (?)", bun.In(namespaces))
}

// DeleteAllCacheEntries empties the cache.
func (s *Store) DeleteAllCacheEntries(ctx context.Context) (int64, error) {
	return s.deleteCache(ctx, "delete cache entries", "1 = 1")
}

func (s *Store) deleteCache(ctx context.Context, op, where string, args ...any) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("graflow_cache_entries").
		Where(where, args...).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("graflow/sqlite: %s: %w", op, err)
	}
	return res.RowsAffected()
}

// CacheStats counts entries relative to now.
func (s *Store) CacheStats(ctx context.Context, now time.Time) (cache.Stats, error) {
	var st cache.Stats
	err := s.db.NewSelect().
		TableExpr("graflow_cache_entries").
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0)", toMillis(now)).
		Scan(ctx, &st.Total, &st.Expired)
	if err != nil {
		return cache.Stats{}, fmt.Errorf("graflow/sqlite: cache stats: %w", err)
	}
	st.Active = st.Total - st.Expired
	return st, nil
}
