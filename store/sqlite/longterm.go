package sqlite

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/longterm"
)

const liveItem = "(expires_at IS NULL OR expires_at > ?)"

// GetItem returns a live item.
func (s *Store) GetItem(ctx context.Context, prefix, key string, now time.Time) (*longterm.Item, error) {
	m := new(itemModel)
	err := s.db.NewSelect().Model(m).
		Where("prefix = ? AND key = ?", prefix, key).
		Where(liveItem, toMillis(now)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrItemNotFound
		}
		return nil, fmt.Errorf("graflow/sqlite: get item: %w", err)
	}
	return fromItemModel(m)
}

// PutItem inserts or replaces an item, keeping its creation time.
func (s *Store) PutItem(ctx context.Context, item *longterm.Item) error {
	m, err := toItemModel(item)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: put item: %w", err)
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (prefix, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Set("expires_at = EXCLUDED.expires_at").
		Set("ttl_minutes = EXCLUDED.ttl_minutes").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: put item: %w", err)
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, prefix, key string) error {
	_, err := s.db.NewDelete().
		TableExpr("store").
		Where("prefix = ? AND key = ?", prefix, key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: delete item: %w", err)
	}
	return nil
}

// SearchItems returns live items under prefix, most recently updated first.
func (s *Store) SearchItems(ctx context.Context, prefix string, now time.Time) ([]*longterm.Item, error) {
	var models []itemModel
	q := s.db.NewSelect().Model(&models).Where(liveItem, toMillis(now))
	if prefix != "" {
		child := prefix + "."
		q = q.Where("(prefix = ? OR substr(prefix, 1, ?) = ?)", prefix, utf8.RuneCountInString(child), child)
	}
	if err := q.OrderExpr("updated_at DESC, prefix, key").Scan(ctx); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: search items: %w", err)
	}

	result := make([]*longterm.Item, 0, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, nil
}

// ListItemPrefixes returns the distinct prefixes of live items.
func (s *Store) ListItemPrefixes(ctx context.Context, now time.Time) ([]string, error) {
	var prefixes []string
	err := s.db.NewSelect().
		TableExpr("store").
		ColumnExpr("DISTINCT prefix").
		Where(liveItem, toMillis(now)).
		OrderExpr("prefix").
		Scan(ctx, &prefixes)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: list prefixes: %w", err)
	}
	return prefixes, nil
}

// RefreshItemTTL pushes the expiry of TTL'd items forward from now.
func (s *Store) RefreshItemTTL(ctx context.Context, prefix string, keys []string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		TableExpr("store").
		Set("expires_at = ? + CAST(ttl_minutes * 60000 AS INTEGER)", toMillis(now)).
		Where("prefix = ?", prefix).
		Where("key IN (?)", bun.In(keys)).
		Where("ttl_minutes IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: refresh ttl: %w", err)
	}
	return nil
}

// SweepExpiredItems deletes expired items.
func (s *Store) SweepExpiredItems(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("store").
		Where("expires_at IS NOT NULL AND expires_at <= ?", toMillis(now)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("graflow/sqlite: sweep items: %w", err)
	}
	return res.RowsAffected()
}
