package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/graflow/cache"
)

func entryToMap(e *cache.Entry) map[string]any {
	return map[string]any{
		"namespace":  e.Namespace,
		"key":        e.Key,
		"encoding":   e.Encoding,
		"data":       e.Data,
		"created_at": formatMillis(e.CreatedAt),
		"expires_at": formatMillisPtr(e.ExpiresAt),
	}
}

func entryFromMap(m map[string]string) (*cache.Entry, error) {
	created, err := parseMillis(m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expires, err := parseMillisPtr(m["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &cache.Entry{
		FullKey:   cache.FullKey{Namespace: m["namespace"], Key: m["key"]},
		Encoding:  m["encoding"],
		Data:      []byte(m["data"]),
		CreatedAt: created,
		ExpiresAt: expires,
	}, nil
}

// GetCacheEntries returns the entries present for keys, expired or not.
func (s *Store) GetCacheEntries(ctx context.Context, keys []cache.FullKey) ([]*cache.Entry, error) {
	result := make([]*cache.Entry, 0, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, cacheKey(k.Namespace, k.Key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("graflow/redis: get cache entries: %w", err)
	}

	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		e, err := entryFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("graflow/redis: decode cache entry: %w", err)
		}
		result = append(result, e)
	}
	return result, nil
}

// SetCacheEntries upserts entries.
func (s *Store) SetCacheEntries(ctx context.Context, entries []*cache.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, e := range entries {
		key := cacheKey(e.Namespace, e.Key)
		pipe.HSet(ctx, key, entryToMap(e))
		pipe.SAdd(ctx, cacheNamespaceKey(e.Namespace), key)
		pipe.SAdd(ctx, cacheNamespacesKey, e.Namespace)
		if e.ExpiresAt != nil {
			pipe.ZAdd(ctx, cacheExpiryKey, goredis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: key})
		} else {
			pipe.ZRem(ctx, cacheExpiryKey, key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("graflow/redis: set cache entries: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries expired at now.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, cacheExpiryKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore(now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("graflow/redis: scan expired cache entries: %w", err)
	}

	var removed int64
	for _, key := range keys {
		ns, err := s.client.HGet(ctx, key, "namespace").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return removed, fmt.Errorf("graflow/redis: read cache entry: %w", err)
		}
		pipe := s.client.TxPipeline()
		del := pipe.Del(ctx, key)
		pipe.ZRem(ctx, cacheExpiryKey, key)
		if ns != "" {
			pipe.SRem(ctx, cacheNamespaceKey(ns), key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("graflow/redis: delete expired cache entry: %w", err)
		}
		removed += del.Val()
	}
	return removed, nil
}

// DeleteCacheNamespaces removes every entry in namespaces.
func (s *Store) DeleteCacheNamespaces(ctx context.Context, namespaces []string) (int64, error) {
	var removed int64
	for _, ns := range namespaces {
		keys, err := s.client.SMembers(ctx, cacheNamespaceKey(ns)).Result()
		if err != nil {
			return removed, fmt.Errorf("graflow/redis: list cache namespace: %w", err)
		}

		pipe := s.client.TxPipeline()
		var del *goredis.IntCmd
		if len(keys) > 0 {
			del = pipe.Del(ctx, keys...)
			members := make([]any, len(keys))
			for i, k := range keys {
				members[i] = k
			}
			pipe.ZRem(ctx, cacheExpiryKey, members...)
		}
		pipe.Del(ctx, cacheNamespaceKey(ns))
		pipe.SRem(ctx, cacheNamespacesKey, ns)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("graflow/redis: delete cache namespace: %w", err)
		}
		if del != nil {
			removed += del.Val()
		}
	}
	return removed, nil
}

// DeleteAllCacheEntries empties the cache.
func (s *Store) DeleteAllCacheEntries(ctx context.Context) (int64, error) {
	namespaces, err := s.client.SMembers(ctx, cacheNamespacesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("graflow/redis: list cache namespaces: %w", err)
	}
	return s.DeleteCacheNamespaces(ctx, namespaces)
}

// CacheStats counts entries relative to now.
func (s *Store) CacheStats(ctx context.Context, now time.Time) (cache.Stats, error) {
	namespaces, err := s.client.SMembers(ctx, cacheNamespacesKey).Result()
	if err != nil {
		return cache.Stats{}, fmt.Errorf("graflow/redis: list cache namespaces: %w", err)
	}

	pipe := s.client.Pipeline()
	cards := make([]*goredis.IntCmd, len(namespaces))
	for i, ns := range namespaces {
		cards[i] = pipe.SCard(ctx, cacheNamespaceKey(ns))
	}
	expired := pipe.ZCount(ctx, cacheExpiryKey, "-inf", maxScore(now))
	if _, err := pipe.Exec(ctx); err != nil {
		return cache.Stats{}, fmt.Errorf("graflow/redis: cache stats: %w", err)
	}

	var st cache.Stats
	for _, c := range cards {
		st.Total += c.Val()
	}
	st.Expired = expired.Val()
	st.Active = st.Total - st.Expired
	return st, nil
}
