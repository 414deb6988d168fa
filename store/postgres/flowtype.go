package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
)

const flowTypeColumns = `id, namespace, flow_type, version, is_latest, is_active,
	executable, schema_name, mutate_policy, resume_policy, mutate_throttle,
	resume_throttle, display_name, description, created_at, updated_at`

// flowTypeError maps unique violations to the catalog sentinels.
func flowTypeError(op string, err error) error {
	if constraint, dup := uniqueViolation(err); dup {
		if constraint == latestIndex {
			return graflow.ErrLatestConflict
		}
		return graflow.ErrFlowTypeExists
	}
	return fmt.Errorf("graflow/postgres: %s: %w", op, err)
}

// CreateFlowType persists a new flow type version.
func (s *Store) CreateFlowType(ctx context.Context, ft *flowtype.FlowType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graflow_flow_types (`+flowTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		ft.ID.String(), ft.Namespace, ft.Type, ft.Version, ft.IsLatest, ft.IsActive,
		ft.Executable, ft.Schema, ft.MutatePolicy, ft.ResumePolicy, ft.MutateThrottle,
		ft.ResumeThrottle, ft.DisplayName, ft.Description, ft.CreatedAt, ft.UpdatedAt,
	)
	if err != nil {
		return flowTypeError("create flow type", err)
	}
	return nil
}

// GetFlowType retrieves one version.
func (s *Store) GetFlowType(ctx context.Context, namespace, flowType, version string) (*flowtype.FlowType, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flowTypeColumns+` FROM graflow_flow_types
		WHERE namespace = $1 AND flow_type = $2 AND version = $3`,
		namespace, flowType, version)
	return s.oneFlowType(row, "get flow type")
}

// GetLatestFlowType returns the active latest version.
func (s *Store) GetLatestFlowType(ctx context.Context, namespace, flowType string) (*flowtype.FlowType, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flowTypeColumns+` FROM graflow_flow_types
		WHERE namespace = $1 AND flow_type = $2 AND is_latest AND is_active`,
		namespace, flowType)
	return s.oneFlowType(row, "get latest flow type")
}

func (s *Store) oneFlowType(row pgx.Row, op string) (*flowtype.FlowType, error) {
	ft, err := scanFlowType(row)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrFlowTypeNotFound
		}
		return nil, fmt.Errorf("graflow/postgres: %s: %w", op, err)
	}
	return ft, nil
}

// UpdateFlowType replaces the mutable fields of a stored version.
func (s *Store) UpdateFlowType(ctx context.Context, ft *flowtype.FlowType) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE graflow_flow_types SET
			is_latest = $4, is_active = $5, executable = $6, schema_name = $7,
			mutate_policy = $8, resume_policy = $9, mutate_throttle = $10,
			resume_throttle = $11, display_name = $12, description = $13, updated_at = $14
		WHERE namespace = $1 AND flow_type = $2 AND version = $3`,
		ft.Namespace, ft.Type, ft.Version, ft.IsLatest, ft.IsActive, ft.Executable, ft.Schema,
		ft.MutatePolicy, ft.ResumePolicy, ft.MutateThrottle, ft.ResumeThrottle,
		ft.DisplayName, ft.Description, ft.UpdatedAt,
	)
	if err != nil {
		return flowTypeError("update flow type", err)
	}
	if tag.RowsAffected() == 0 {
		return graflow.ErrFlowTypeNotFound
	}
	return nil
}

// SetLatestFlowType moves the latest mark to version in one transaction.
func (s *Store) SetLatestFlowType(ctx context.Context, namespace, flowType, version string) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM graflow_flow_types
			WHERE namespace = $1 AND flow_type = $2 AND version = $3)`,
			namespace, flowType, version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("graflow/postgres: set latest flow type: %w", err)
		}
		if !exists {
			return graflow.ErrFlowTypeNotFound
		}

		if _, err = tx.Exec(ctx, `
			UPDATE graflow_flow_types SET is_latest = FALSE, updated_at = $4
			WHERE namespace = $1 AND flow_type = $2 AND version <> $3 AND is_latest`,
			namespace, flowType, version, now); err != nil {
			return fmt.Errorf("graflow/postgres: clear latest flow type: %w", err)
		}
		if _, err = tx.Exec(ctx, `
			UPDATE graflow_flow_types SET is_latest = TRUE, updated_at = $4
			WHERE namespace = $1 AND flow_type = $2 AND version = $3`,
			namespace, flowType, version, now); err != nil {
			return flowTypeError("set latest flow type", err)
		}
		return nil
	})
}

// ListFlowTypes returns versions matching opts ordered by key.
func (s *Store) ListFlowTypes(ctx context.Context, opts flowtype.ListOpts) ([]*flowtype.FlowType, error) {
	var (
		where []string
		args  []any
	)
	if opts.Namespace != "" {
		args = append(args, opts.Namespace)
		where = append(where, fmt.Sprintf("namespace = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		where = append(where, fmt.Sprintf("flow_type = $%d", len(args)))
	}
	if opts.ActiveOnly {
		where = append(where, "is_active")
	}
	if opts.LatestOnly {
		where = append(where, "is_latest")
	}

	query := `SELECT ` + flowTypeColumns + ` FROM graflow_flow_types`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY namespace COLLATE "C", flow_type COLLATE "C", version COLLATE "C"`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: list flow types: %w", err)
	}
	defer rows.Close()

	var result []*flowtype.FlowType
	for rows.Next() {
		ft, scanErr := scanFlowType(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("graflow/postgres: scan flow type: %w", scanErr)
		}
		result = append(result, ft)
	}
	return result, rows.Err()
}

func scanFlowType(row pgx.Row) (*flowtype.FlowType, error) {
	var (
		ft    flowtype.FlowType
		rawID string
	)
	err := row.Scan(&rawID, &ft.Namespace, &ft.Type, &ft.Version, &ft.IsLatest, &ft.IsActive,
		&ft.Executable, &ft.Schema, &ft.MutatePolicy, &ft.ResumePolicy, &ft.MutateThrottle,
		&ft.ResumeThrottle, &ft.DisplayName, &ft.Description, &ft.CreatedAt, &ft.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ftID, err := id.ParseFlowTypeID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse flow type id %q: %w", rawID, err)
	}
	ft.ID = ftID
	ft.CreatedAt = ft.CreatedAt.UTC()
	ft.UpdatedAt = ft.UpdatedAt.UTC()
	return &ft, nil
}
