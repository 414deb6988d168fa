package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
)

const runColumns = `id, owner_id, namespace, flow_type, version, display_name,
	cover_image_url, status, error_message, created_at, last_resumed_at`

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *flow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graflow_flows (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID.String(), r.OwnerID, r.Namespace, r.Type, r.Version, r.DisplayName,
		r.CoverImageURL, string(r.Status), r.ErrorMessage, r.CreatedAt, r.LastResumedAt,
	)
	if err != nil {
		if _, dup := uniqueViolation(err); dup {
			return graflow.ErrRunAlreadyExists
		}
		return fmt.Errorf("graflow/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.FlowID) (*flow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM graflow_flows WHERE id = $1`, runID.String())
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, graflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("graflow/postgres: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs matching opts, most recently active first.
func (s *Store) ListRuns(ctx context.Context, opts flow.ListOpts) ([]*flow.Run, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.OwnerID != "" {
		where = append(where, "owner_id = "+arg(opts.OwnerID))
	}
	if opts.Namespace != "" {
		where = append(where, "namespace = "+arg(opts.Namespace))
	}
	if opts.Type != "" {
		where = append(where, "flow_type = "+arg(opts.Type))
	}
	if len(opts.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(opts.Statuses))+")")
	}
	if opts.ExcludeCancelled {
		where = append(where, "status <> "+arg(string(flow.StatusCancelled)))
	}

	query := `SELECT ` + runColumns + ` FROM graflow_flows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(last_resumed_at, created_at) DESC, id COLLATE \"C\" DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graflow/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*flow.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("graflow/postgres: scan run: %w", scanErr)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TransitionRun moves a run between statuses in one statement. The row
// lock taken by the prior CTE serializes concurrent transitions.
func (s *Store) TransitionRun(ctx context.Context, runID id.FlowID, from []flow.Status, to flow.Status, at time.Time) (flow.Status, bool, error) {
	var (
		prior   string
		updated bool
	)
	err := s.pool.QueryRow(ctx, `
		WITH prior AS (
			SELECT id, status FROM graflow_flows WHERE id = $1 FOR UPDATE
		), upd AS (
			UPDATE graflow_flows f
			SET status = $3::text,
			    last_resumed_at = CASE WHEN $3::text = 'running' THEN $4 ELSE f.last_resumed_at END
			FROM prior
			WHERE f.id = prior.id AND prior.status = ANY($2)
			RETURNING f.id
		)
		SELECT prior.status, EXISTS(SELECT 1 FROM upd) FROM prior`,
		runID.String(), statusStrings(from), string(to), at,
	).Scan(&prior, &updated)
	if err != nil {
		if isNoRows(err) {
			return "", false, graflow.ErrRunNotFound
		}
		return "", false, fmt.Errorf("graflow/postgres: transition run: %w", err)
	}
	return flow.Status(prior), updated, nil
}

// FinishRun moves a running run to a final or paused status.
func (s *Store) FinishRun(ctx context.Context, runID id.FlowID, to flow.Status, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE graflow_flows SET status = $2, error_message = $3 WHERE id = $1 AND status = $4`,
		runID.String(), string(to), errMsg, string(flow.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("graflow/postgres: finish run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM graflow_flows WHERE id = $1)`, runID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("graflow/postgres: finish run: %w", err)
	}
	if !exists {
		return false, graflow.ErrRunNotFound
	}
	return false, nil
}

// SetRunStatus sets the status and error message of a run.
func (s *Store) SetRunStatus(ctx context.Context, runID id.FlowID, status flow.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE graflow_flows SET status = $2, error_message = $3 WHERE id = $1`,
		runID.String(), string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("graflow/postgres: set run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graflow.ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*flow.Run, error) {
	var (
		r      flow.Run
		rawID  string
		status string
	)
	err := row.Scan(&rawID, &r.OwnerID, &r.Namespace, &r.Type, &r.Version, &r.DisplayName,
		&r.CoverImageURL, &status, &r.ErrorMessage, &r.CreatedAt, &r.LastResumedAt)
	if err != nil {
		return nil, err
	}
	runID, err := id.ParseFlowID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", rawID, err)
	}
	r.ID = runID
	r.Status = flow.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	if r.LastResumedAt != nil {
		t := r.LastResumedAt.UTC()
		r.LastResumedAt = &t
	}
	return &r, nil
}

func statusStrings(statuses []flow.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
