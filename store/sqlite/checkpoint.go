package sqlite

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/checkpoint"
)

// PutCheckpoint stores a checkpoint and its blobs in one transaction.
// Existing rows win.
func (s *Store) PutCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint, blobs []*checkpoint.Blob) error {
	m, err := toCheckpointModel(cp)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: put checkpoint: %w", err)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(blobs) > 0 {
			models := make([]blobModel, len(blobs))
			for i, b := range blobs {
				models[i] = toBlobModel(b)
			}
			if _, err := tx.NewInsert().Model(&models).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("graflow/sqlite: put blobs: %w", err)
			}
		}
		if _, err := tx.NewInsert().Model(m).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("graflow/sqlite: put checkpoint: %w", err)
		}
		return nil
	})
}

// GetCheckpoint retrieves a checkpoint by key.
func (s *Store) GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (*checkpoint.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?", threadID, ns, checkpointID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("graflow/sqlite: get checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// LatestCheckpoint returns the newest checkpoint of a thread, or nil.
func (s *Store) LatestCheckpoint(ctx context.Context, threadID, ns string) (*checkpoint.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("thread_id = ? AND checkpoint_ns = ?", threadID, ns).
		OrderExpr("checkpoint_id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("graflow/sqlite: latest checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// ListCheckpoints returns checkpoints newest first.
func (s *Store) ListCheckpoints(ctx context.Context, threadID, ns string, opts checkpoint.ListOpts) ([]*checkpoint.Checkpoint, error) {
	var models []checkpointModel
	q := s.db.NewSelect().Model(&models).
		Where("thread_id = ? AND checkpoint_ns = ?", threadID, ns)
	if opts.Before != "" {
		q = q.Where("checkpoint_id < ?", opts.Before)
	}
	q = q.OrderExpr("checkpoint_id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: list checkpoints: %w", err)
	}

	result := make([]*checkpoint.Checkpoint, 0, len(models))
	for i := range models {
		cp, err := fromCheckpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// GetBlobs returns the blobs named by versions. Missing blobs are skipped.
func (s *Store) GetBlobs(ctx context.Context, threadID, ns string, versions map[string]string) ([]*checkpoint.Blob, error) {
	result := make([]*checkpoint.Blob, 0, len(versions))
	if len(versions) == 0 {
		return result, nil
	}
	channels := make([]string, 0, len(versions))
	for ch := range versions {
		channels = append(channels, ch)
	}

	var models []blobModel
	err := s.db.NewSelect().Model(&models).
		Where("thread_id = ? AND checkpoint_ns = ?", threadID, ns).
		Where("channel IN (?)", bun.In(channels)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: get blobs: %w", err)
	}
	for i := range models {
		if versions[models[i].Channel] != models[i].Version {
			continue
		}
		result = append(result, fromBlobModel(&models[i]))
	}
	return result, nil
}

// PutWrites upserts pending writes.
func (s *Store) PutWrites(ctx context.Context, writes []*checkpoint.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	models := make([]writeModel, len(writes))
	for i, w := range writes {
		models[i] = toWriteModel(w)
	}
	_, err := s.db.NewInsert().Model(&models).
		On("CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx) DO UPDATE").
		Set("channel = EXCLUDED.channel").
		Set("type = EXCLUDED.type").
		Set("blob = EXCLUDED.blob").
		Set("task_path = EXCLUDED.task_path").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: put writes: %w", err)
	}
	return nil
}

// ListWrites returns the pending writes of a checkpoint.
func (s *Store) ListWrites(ctx context.Context, threadID, ns, checkpointID string) ([]*checkpoint.PendingWrite, error) {
	var models []writeModel
	err := s.db.NewSelect().Model(&models).
		Where("thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?", threadID, ns, checkpointID).
		OrderExpr("task_id, idx").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: list writes: %w", err)
	}
	result := make([]*checkpoint.PendingWrite, 0, len(models))
	for i := range models {
		result = append(result, fromWriteModel(&models[i]))
	}
	return result, nil
}

// DeleteThread removes all checkpoint data of a thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, table := range []string{"checkpoints", "checkpoint_blobs", "checkpoint_writes"} {
			if _, err := tx.NewDelete().TableExpr(table).Where("thread_id = ?", threadID).Exec(ctx); err != nil {
				return fmt.Errorf("graflow/sqlite: delete thread from %s: %w", table, err)
			}
		}
		return nil
	})
}
