package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/flowtype"
)

// otherLatest reports whether a version other than version is the latest
// of (namespace, flowType).
func otherLatest(ctx context.Context, db bun.IDB, namespace, flowType, version string) (bool, error) {
	return db.NewSelect().
		Model((*flowTypeModel)(nil)).
		Where("namespace = ? AND flow_type = ? AND version <> ? AND is_latest = 1", namespace, flowType, version).
		Exists(ctx)
}

func versionExists(ctx context.Context, db bun.IDB, namespace, flowType, version string) (bool, error) {
	return db.NewSelect().
		Model((*flowTypeModel)(nil)).
		Where("namespace = ? AND flow_type = ? AND version = ?", namespace, flowType, version).
		Exists(ctx)
}

// CreateFlowType persists a new flow type version.
func (s *Store) CreateFlowType(ctx context.Context, ft *flowtype.FlowType) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := versionExists(ctx, tx, ft.Namespace, ft.Type, ft.Version)
		if err != nil {
			return fmt.Errorf("graflow/sqlite: create flow type: %w", err)
		}
		if exists {
			return graflow.ErrFlowTypeExists
		}
		if ft.IsLatest {
			conflict, err := otherLatest(ctx, tx, ft.Namespace, ft.Type, ft.Version)
			if err != nil {
				return fmt.Errorf("graflow/sqlite: create flow type: %w", err)
			}
			if conflict {
				return graflow.ErrLatestConflict
			}
		}
		if _, err := tx.NewInsert().Model(toFlowTypeModel(ft)).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return graflow.ErrFlowTypeExists
			}
			return fmt.Errorf("graflow/sqlite: create flow type: %w", err)
		}
		return nil
	})
}

// GetFlowType retrieves one version.
func (s *Store) GetFlowType(ctx context.Context, namespace, flowType, version string) (*flowtype.FlowType, error) {
	m := new(flowTypeModel)
	err := s.db.NewSelect().Model(m).
		Where("namespace = ? AND flow_type = ? AND version = ?", namespace, flowType, version).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrFlowTypeNotFound
		}
		return nil, fmt.Errorf("graflow/sqlite: get flow type: %w", err)
	}
	return fromFlowTypeModel(m)
}

// GetLatestFlowType returns the active latest version.
func (s *Store) GetLatestFlowType(ctx context.Context, namespace, flowType string) (*flowtype.FlowType, error) {
	m := new(flowTypeModel)
	err := s.db.NewSelect().Model(m).
		Where("namespace = ? AND flow_type = ? AND is_latest = 1 AND is_active = 1", namespace, flowType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrFlowTypeNotFound
		}
		return nil, fmt.Errorf("graflow/sqlite: get latest flow type: %w", err)
	}
	return fromFlowTypeModel(m)
}

// UpdateFlowType replaces a stored version, keeping its ID and creation
// time.
func (s *Store) UpdateFlowType(ctx context.Context, ft *flowtype.FlowType) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := versionExists(ctx, tx, ft.Namespace, ft.Type, ft.Version)
		if err != nil {
			return fmt.Errorf("graflow/sqlite: update flow type: %w", err)
		}
		if !exists {
			return graflow.ErrFlowTypeNotFound
		}
		if ft.IsLatest {
			conflict, err := otherLatest(ctx, tx, ft.Namespace, ft.Type, ft.Version)
			if err != nil {
				return fmt.Errorf("graflow/sqlite: update flow type: %w", err)
			}
			if conflict {
				return graflow.ErrLatestConflict
			}
		}
		_, err = tx.NewUpdate().
			Model(toFlowTypeModel(ft)).
			ExcludeColumn("id", "created_at").
			Where("namespace = ? AND flow_type = ? AND version = ?", ft.Namespace, ft.Type, ft.Version).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("graflow/sqlite: update flow type: %w", err)
		}
		return nil
	})
}

// SetLatestFlowType moves the latest mark to version.
func (s *Store) SetLatestFlowType(ctx context.Context, namespace, flowType, version string) error {
	now := toMillis(time.Now())
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := versionExists(ctx, tx, namespace, flowType, version)
		if err != nil {
			return fmt.Errorf("graflow/sqlite: set latest flow type: %w", err)
		}
		if !exists {
			return graflow.ErrFlowTypeNotFound
		}
		if _, err := tx.NewUpdate().
			TableExpr("graflow_flow_types").
			Set("is_latest = 0").
			Set("updated_at = ?", now).
			Where("namespace = ? AND flow_type = ? AND version <> ? AND is_latest = 1", namespace, flowType, version).
			Exec(ctx); err != nil {
			return fmt.Errorf("graflow/sqlite: clear latest flow type: %w", err)
		}
		if _, err := tx.NewUpdate().
			TableExpr("graflow_flow_types").
			Set("is_latest = 1").
			Set("updated_at = ?", now).
			Where("namespace = ? AND flow_type = ? AND version = ?", namespace, flowType, version).
			Exec(ctx); err != nil {
			return fmt.Errorf("graflow/sqlite: set latest flow type: %w", err)
		}
		return nil
	})
}

// ListFlowTypes returns versions matching opts ordered by key.
func (s *Store) ListFlowTypes(ctx context.Context, opts flowtype.ListOpts) ([]*flowtype.FlowType, error) {
	var models []flowTypeModel
	q := s.db.NewSelect().Model(&models)
	if opts.Namespace != "" {
		q = q.Where("namespace = ?", opts.Namespace)
	}
	if opts.Type != "" {
		q = q.Where("flow_type = ?", opts.Type)
	}
	if opts.ActiveOnly {
		q = q.Where("is_active = 1")
	}
	if opts.LatestOnly {
		q = q.Where("is_latest = 1")
	}
	if err := q.OrderExpr("namespace, flow_type, version").Scan(ctx); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: list flow types: %w", err)
	}

	result := make([]*flowtype.FlowType, 0, len(models))
	for i := range models {
		ft, err := fromFlowTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, ft)
	}
	return result, nil
}
