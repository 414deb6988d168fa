package sqlite

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *flow.Run) error {
	_, err := s.db.NewInsert().Model(toRunModel(r)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return graflow.ErrRunAlreadyExists
		}
		return fmt.Errorf("graflow/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.FlowID) (*flow.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", runID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("graflow/sqlite: get run: %w", err)
	}
	return fromRunModel(m)
}

// ListRuns returns runs matching opts, most recently active first.
func (s *Store) ListRuns(ctx context.Context, opts flow.ListOpts) ([]*flow.Run, error) {
	var models []runModel
	q := s.db.NewSelect().Model(&models)

	if opts.OwnerID != "" {
		q = q.Where("owner_id = ?", opts.OwnerID)
	}
	if opts.Namespace != "" {
		q = q.Where("namespace = ?", opts.Namespace)
	}
	if opts.Type != "" {
		q = q.Where("flow_type = ?", opts.Type)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statusStrings(opts.Statuses)))
	}
	if opts.ExcludeCancelled {
		q = q.Where("status <> ?", string(flow.StatusCancelled))
	}

	q = q.OrderExpr("COALESCE(last_resumed_at, created_at) DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	} else if opts.Offset > 0 {
		q = q.Limit(-1)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: list runs: %w", err)
	}

	runs := make([]*flow.Run, 0, len(models))
	for i := range models {
		r, err := fromRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// TransitionRun reads the prior status and conditionally updates it in
// one transaction.
func (s *Store) TransitionRun(ctx context.Context, runID id.FlowID, from []flow.Status, to flow.Status, at time.Time) (flow.Status, bool, error) {
	var (
		prior   flow.Status
		updated bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var status string
		err := tx.NewSelect().
			TableExpr("graflow_flows").
			Column("status").
			Where("id = ?", runID.String()).
			Scan(ctx, &status)
		if err != nil {
			if isNoRows(err) {
				return graflow.ErrRunNotFound
			}
			return fmt.Errorf("graflow/sqlite: read run status: %w", err)
		}
		prior = flow.Status(status)
		if !slices.Contains(from, prior) {
			return nil
		}

		q := tx.NewUpdate().
			TableExpr("graflow_flows").
			Set("status = ?", string(to)).
			Where("id = ? AND status = ?", runID.String(), status)
		if to == flow.StatusRunning {
			q = q.Set("last_resumed_at = ?", toMillis(at))
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("graflow/sqlite: transition run: %w", err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
		updated = n == 1
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return prior, updated, nil
}

// FinishRun moves a running run to a final or paused status.
func (s *Store) FinishRun(ctx context.Context, runID id.FlowID, to flow.Status, errMsg string) (bool, error) {
	res, err := s.db.NewUpdate().
		TableExpr("graflow_flows").
		Set("status = ?", string(to)).
		Set("error_message = ?", errMsg).
		Where("id = ? AND status = ?", runID.String(), string(flow.StatusRunning)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("graflow/sqlite: finish run: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if n == 1 {
		return true, nil
	}
	exists, err := s.db.NewSelect().
		TableExpr("graflow_flows").
		Where("id = ?", runID.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("graflow/sqlite: finish run: %w", err)
	}
	if !exists {
		return false, graflow.ErrRunNotFound
	}
	return false, nil
}

// SetRunStatus sets the status and error message of a run.
func (s *Store) SetRunStatus(ctx context.Context, runID id.FlowID, status flow.Status, errMsg string) error {
	res, err := s.db.NewUpdate().
		TableExpr("graflow_flows").
		Set("status = ?", string(status)).
		Set("error_message = ?", errMsg).
		Where("id = ?", runID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("graflow/sqlite: set run status: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if n == 0 {
		return graflow.ErrRunNotFound
	}
	return nil
}

func statusStrings(statuses []flow.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
