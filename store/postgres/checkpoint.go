package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/checkpoint"
)

const checkpointColumns = `thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type,
	channel_versions, next_nodes, metadata, created_at`

// PutCheckpoint stores a checkpoint and its blobs in one transaction.
// Existing rows win.
func (s *Store) PutCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint, blobs []*checkpoint.Blob) error {
	versions, err := encodeJSON(nonNilVersions(cp.ChannelVersions))
	if err != nil {
		return fmt.Errorf("graflow/postgres: put checkpoint: %w", err)
	}
	next, err := encodeJSON(nonNilStrings(cp.Next))
	if err != nil {
		return fmt.Errorf("graflow/postgres: put checkpoint: %w", err)
	}
	meta, err := encodeMap(cp.Metadata)
	if err != nil {
		return fmt.Errorf("graflow/postgres: encode metadata: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range blobs {
			batch.Queue(`
				INSERT INTO checkpoint_blobs (thread_id, checkpoint_ns, channel, version, type, blob)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (thread_id, checkpoint_ns, channel, version) DO NOTHING`,
				b.ThreadID, b.NS, b.Channel, b.Version, b.Encoding, b.Data)
		}
		batch.Queue(`
			INSERT INTO checkpoints (`+checkpointColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO NOTHING`,
			cp.ThreadID, cp.NS, cp.ID, cp.ParentID, nullIfEmpty(cp.Kind), versions, next, meta, cp.CreatedAt)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("graflow/postgres: put checkpoint: %w", err)
		}
		return nil
	})
}

// GetCheckpoint retrieves a checkpoint by key.
func (s *Store) GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3`,
		threadID, ns, checkpointID)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("graflow/postgres: get checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint returns the newest checkpoint of a thread, or nil.
func (s *Store) LatestCheckpoint(ctx context.Context, threadID, ns string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2
		ORDER BY checkpoint_id DESC LIMIT 1`,
		threadID, ns)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("graflow/postgres: latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns checkpoints newest first.
func (s *Store) ListCheckpoints(ctx context.Context, threadID, ns string, opts checkpoint.ListOpts) ([]*checkpoint.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2`
	args := []any{threadID, ns}
	if opts.Before != "" {
		args = append(args, opts.Before)
		query += fmt.Sprintf(" AND checkpoint_id < $%d", len(args))
	}
	query += " ORDER BY checkpoint_id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*checkpoint.Checkpoint
	for rows.Next() {
		cp, scanErr := scanCheckpoint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("graflow/postgres: scan checkpoint: %w", scanErr)
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

// GetBlobs returns the blobs named by versions. Missing blobs are skipped.
func (s *Store) GetBlobs(ctx context.Context, threadID, ns string, versions map[string]string) ([]*checkpoint.Blob, error) {
	if len(versions) == 0 {
		return []*checkpoint.Blob{}, nil
	}
	channels := make([]string, 0, len(versions))
	vs := make([]string, 0, len(versions))
	for ch, v := range versions {
		channels = append(channels, ch)
		vs = append(vs, v)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT b.channel, b.version, b.type, b.blob
		FROM checkpoint_blobs b
		JOIN unnest($3::text[], $4::text[]) AS want(channel, version)
		  ON b.channel = want.channel AND b.version = want.version
		WHERE b.thread_id = $1 AND b.checkpoint_ns = $2`,
		threadID, ns, channels, vs)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: get blobs: %w", err)
	}
	defer rows.Close()

	result := make([]*checkpoint.Blob, 0, len(versions))
	for rows.Next() {
		b := &checkpoint.Blob{ThreadID: threadID, NS: ns}
		if err := rows.Scan(&b.Channel, &b.Version, &b.Encoding, &b.Data); err != nil {
			return nil, fmt.Errorf("graflow/postgres: scan blob: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// PutWrites upserts pending writes.
func (s *Store) PutWrites(ctx context.Context, writes []*checkpoint.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, w := range writes {
		batch.Queue(`
			INSERT INTO checkpoint_writes
				(thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob, task_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx) DO UPDATE SET
				channel = EXCLUDED.channel,
				type = EXCLUDED.type,
				blob = EXCLUDED.blob,
				task_path = EXCLUDED.task_path`,
			w.ThreadID, w.NS, w.CheckpointID, w.TaskID, w.Idx, w.Channel, w.Encoding, w.Data, w.TaskPath)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("graflow/postgres: put writes: %w", err)
	}
	return nil
}

// ListWrites returns the pending writes of a checkpoint.
func (s *Store) ListWrites(ctx context.Context, threadID, ns, checkpointID string) ([]*checkpoint.PendingWrite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, task_path, idx, channel, type, blob
		FROM checkpoint_writes
		WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3
		ORDER BY task_id, idx`,
		threadID, ns, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: list writes: %w", err)
	}
	defer rows.Close()

	var result []*checkpoint.PendingWrite
	for rows.Next() {
		w := &checkpoint.PendingWrite{ThreadID: threadID, NS: ns, CheckpointID: checkpointID}
		if err := rows.Scan(&w.TaskID, &w.TaskPath, &w.Idx, &w.Channel, &w.Encoding, &w.Data); err != nil {
			return nil, fmt.Errorf("graflow/postgres: scan write: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// DeleteThread removes all checkpoint data of a thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"checkpoints", "checkpoint_blobs", "checkpoint_writes"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE thread_id = $1`, threadID); err != nil {
				return fmt.Errorf("graflow/postgres: delete thread from %s: %w", table, err)
			}
		}
		return nil
	})
}

func scanCheckpoint(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var (
		cp                   checkpoint.Checkpoint
		kind                 *string
		versions, next, meta []byte
	)
	err := row.Scan(&cp.ThreadID, &cp.NS, &cp.ID, &cp.ParentID, &kind, &versions, &next, &meta, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if kind != nil {
		cp.Kind = *kind
	}
	if err := json.Unmarshal(versions, &cp.ChannelVersions); err != nil {
		return nil, fmt.Errorf("decode channel versions: %w", err)
	}
	if err := json.Unmarshal(next, &cp.Next); err != nil {
		return nil, fmt.Errorf("decode next nodes: %w", err)
	}
	if cp.Metadata, err = decodeMap(meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	cp.CreatedAt = cp.CreatedAt.UTC()
	return &cp, nil
}

func nonNilVersions(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
