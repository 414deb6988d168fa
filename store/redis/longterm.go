package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/longterm"
	"github.com/xraph/graflow/serde"
)

var jsonSerde = serde.New(serde.WithJSON())

func itemToMap(it *longterm.Item) (map[string]any, error) {
	value := map[string]any{}
	if it.Value != nil {
		value = it.Value
	}
	_, data, err := jsonSerde.DumpsTyped(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	ttl := ""
	if it.TTLMinutes != nil {
		ttl = strconv.FormatFloat(*it.TTLMinutes, 'g', -1, 64)
	}
	return map[string]any{
		"prefix":      it.Prefix(),
		"key":         it.Key,
		"value":       data,
		"created_at":  formatMillis(it.CreatedAt),
		"updated_at":  formatMillis(it.UpdatedAt),
		"expires_at":  formatMillisPtr(it.ExpiresAt),
		"ttl_minutes": ttl,
	}, nil
}

func itemFromMap(m map[string]string) (*longterm.Item, error) {
	raw, err := jsonSerde.LoadsTyped(serde.EncodingJSON, []byte(m["value"]))
	if err != nil {
		return nil, err
	}
	value, err := serde.CanonicalMap(raw)
	if err != nil {
		return nil, err
	}
	created, err := parseMillis(m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := parseMillis(m["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	expires, err := parseMillisPtr(m["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	var ttl *float64
	if s := m["ttl_minutes"]; s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ttl_minutes: %w", err)
		}
		ttl = &f
	}
	return &longterm.Item{
		Namespace:  longterm.SplitPrefix(m["prefix"]),
		Key:        m["key"],
		Value:      value,
		CreatedAt:  created,
		UpdatedAt:  updated,
		ExpiresAt:  expires,
		TTLMinutes: ttl,
	}, nil
}

// GetItem returns a live item.
func (s *Store) GetItem(ctx context.Context, prefix, key string, now time.Time) (*longterm.Item, error) {
	m, err := s.client.HGetAll(ctx, itemKey(prefix, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("graflow/redis: get item: %w", err)
	}
	if len(m) == 0 {
		return nil, graflow.ErrItemNotFound
	}
	it, err := itemFromMap(m)
	if err != nil {
		return nil, fmt.Errorf("graflow/redis: decode item: %w", err)
	}
	if it.Expired(now) {
		return nil, graflow.ErrItemNotFound
	}
	return it, nil
}

// PutItem inserts or replaces an item, keeping its creation time.
func (s *Store) PutItem(ctx context.Context, item *longterm.Item) error {
	key := itemKey(item.Prefix(), item.Key)
	fields, err := itemToMap(item)
	if err != nil {
		return fmt.Errorf("graflow/redis: put item: %w", err)
	}
	created, err := s.client.HGet(ctx, key, "created_at").Result()
	switch {
	case err == nil:
		fields["created_at"] = created
	case !errors.Is(err, goredis.Nil):
		return fmt.Errorf("graflow/redis: read item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, itemPrefixKey(item.Prefix()), key)
	pipe.SAdd(ctx, itemPrefixesKey, item.Prefix())
	if item.ExpiresAt != nil {
		pipe.ZAdd(ctx, itemExpiryKey, goredis.Z{Score: float64(item.ExpiresAt.UnixMilli()), Member: key})
	} else {
		pipe.ZRem(ctx, itemExpiryKey, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("graflow/redis: put item: %w", err)
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, prefix, key string) error {
	if _, err := s.removeItem(ctx, prefix, itemKey(prefix, key)); err != nil {
		return fmt.Errorf("graflow/redis: delete item: %w", err)
	}
	return nil
}

func (s *Store) removeItem(ctx context.Context, prefix, key string) (int64, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, key)
	pipe.ZRem(ctx, itemExpiryKey, key)
	pipe.SRem(ctx, itemPrefixKey(prefix), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return del.Val(), nil
}

// liveItems loads the live items stored under the given exact prefixes.
func (s *Store) liveItems(ctx context.Context, prefixes []string, now time.Time) ([]*longterm.Item, error) {
	var keys []string
	for _, p := range prefixes {
		members, err := s.client.SMembers(ctx, itemPrefixKey(p)).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, members...)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var items []*longterm.Item
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		it, err := itemFromMap(m)
		if err != nil {
			return nil, err
		}
		if !it.Expired(now) {
			items = append(items, it)
		}
	}
	return items, nil
}

// SearchItems returns live items under prefix, most recently updated first.
func (s *Store) SearchItems(ctx context.Context, prefix string, now time.Time) ([]*longterm.Item, error) {
	all, err := s.client.SMembers(ctx, itemPrefixesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("graflow/redis: list prefixes: %w", err)
	}
	var matched []string
	for _, p := range all {
		if longterm.HasPrefix(p, prefix) {
			matched = append(matched, p)
		}
	}

	items, err := s.liveItems(ctx, matched, now)
	if err != nil {
		return nil, fmt.Errorf("graflow/redis: search items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		if items[i].Prefix() != items[j].Prefix() {
			return items[i].Prefix() < items[j].Prefix()
		}
		return items[i].Key < items[j].Key
	})
	return items, nil
}

// ListItemPrefixes returns the distinct prefixes of live items.
func (s *Store) ListItemPrefixes(ctx context.Context, now time.Time) ([]string, error) {
	all, err := s.client.SMembers(ctx, itemPrefixesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("graflow/redis: list prefixes: %w", err)
	}
	var result []string
	for _, p := range all {
		items, err := s.liveItems(ctx, []string{p}, now)
		if err != nil {
			return nil, fmt.Errorf("graflow/redis: list prefixes: %w", err)
		}
		if len(items) > 0 {
			result = append(result, p)
		}
	}
	sort.Strings(result)
	return result, nil
}

// RefreshItemTTL pushes the expiry of TTL'd items forward from now.
func (s *Store) RefreshItemTTL(ctx context.Context, prefix string, keys []string, now time.Time) error {
	for _, k := range keys {
		key := itemKey(prefix, k)
		raw, err := s.client.HGet(ctx, key, "ttl_minutes").Result()
		if errors.Is(err, goredis.Nil) || raw == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("graflow/redis: read ttl: %w", err)
		}
		ttl, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("graflow/redis: parse ttl: %w", err)
		}
		exp := longterm.ExpiryFor(now, &ttl)

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, "expires_at", formatMillis(*exp))
		pipe.ZAdd(ctx, itemExpiryKey, goredis.Z{Score: float64(exp.UnixMilli()), Member: key})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("graflow/redis: refresh ttl: %w", err)
		}
	}
	return nil
}

// SweepExpiredItems deletes expired items.
func (s *Store) SweepExpiredItems(ctx context.Context, now time.Time) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, itemExpiryKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore(now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("graflow/redis: scan expired items: %w", err)
	}

	var removed int64
	for _, key := range keys {
		prefix, err := s.client.HGet(ctx, key, "prefix").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return removed, fmt.Errorf("graflow/redis: read item: %w", err)
		}
		n, err := s.removeItem(ctx, prefix, key)
		if err != nil {
			return removed, fmt.Errorf("graflow/redis: sweep item: %w", err)
		}
		removed += n
	}
	return removed, nil
}
