package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/longterm"
)

const itemColumns = `prefix, key, value, created_at, updated_at, expires_at, ttl_minutes`

// GetItem returns a live item.
func (s *Store) GetItem(ctx context.Context, prefix, key string, now time.Time) (*longterm.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM store
		WHERE prefix = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > $3)`,
		prefix, key, now)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrItemNotFound
		}
		return nil, fmt.Errorf("graflow/postgres: get item: %w", err)
	}
	return it, nil
}

// PutItem inserts or replaces an item, keeping its creation time.
func (s *Store) PutItem(ctx context.Context, item *longterm.Item) error {
	value, err := encodeMap(item.Value)
	if err != nil {
		return fmt.Errorf("graflow/postgres: encode item: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO store (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prefix, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at,
			ttl_minutes = EXCLUDED.ttl_minutes`,
		item.Prefix(), item.Key, value, item.CreatedAt, item.UpdatedAt, item.ExpiresAt, item.TTLMinutes)
	if err != nil {
		return fmt.Errorf("graflow/postgres: put item: %w", err)
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, prefix, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM store WHERE prefix = $1 AND key = $2`, prefix, key); err != nil {
		return fmt.Errorf("graflow/postgres: delete item: %w", err)
	}
	return nil
}

// SearchItems returns live items under prefix, most recently updated first.
func (s *Store) SearchItems(ctx context.Context, prefix string, now time.Time) ([]*longterm.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM store
		WHERE (expires_at IS NULL OR expires_at > $1)`
	args := []any{now}
	if prefix != "" {
		query += ` AND (prefix = $2 OR prefix LIKE $3 ESCAPE '\')`
		args = append(args, prefix, likePrefix(prefix))
	}
	query += ` ORDER BY updated_at DESC, prefix, key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: search items: %w", err)
	}
	defer rows.Close()

	var result []*longterm.Item
	for rows.Next() {
		it, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("graflow/postgres: scan item: %w", scanErr)
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// ListItemPrefixes returns the distinct prefixes of live items.
func (s *Store) ListItemPrefixes(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT prefix FROM store
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY prefix`, now)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: list prefixes: %w", err)
	}
	prefixes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: scan prefixes: %w", err)
	}
	return prefixes, nil
}

// RefreshItemTTL pushes the expiry of TTL'd items forward from now.
func (s *Store) RefreshItemTTL(ctx context.Context, prefix string, keys []string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE store
		SET expires_at = $3::timestamptz + ttl_minutes * INTERVAL '1 minute'
		WHERE prefix = $1 AND key = ANY($2) AND ttl_minutes IS NOT NULL`,
		prefix, keys, now)
	if err != nil {
		return fmt.Errorf("graflow/postgres: refresh ttl: %w", err)
	}
	return nil
}

// SweepExpiredItems deletes expired items.
func (s *Store) SweepExpiredItems(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM store WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("graflow/postgres: sweep items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanItem(row pgx.Row) (*longterm.Item, error) {
	var (
		it     longterm.Item
		prefix string
		value  []byte
	)
	err := row.Scan(&prefix, &it.Key, &value, &it.CreatedAt, &it.UpdatedAt, &it.ExpiresAt, &it.TTLMinutes)
	if err != nil {
		return nil, err
	}
	it.Namespace = longterm.SplitPrefix(prefix)
	if it.Value, err = decodeMap(value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	if it.ExpiresAt != nil {
		t := it.ExpiresAt.UTC()
		it.ExpiresAt = &t
	}
	return &it, nil
}
