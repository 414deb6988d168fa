package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/scope"
	"github.com/xraph/graflow/serde"
)

// Resolver resolves flow type versions to executables and schemas.
type Resolver interface {
	// LatestVersion returns the active latest version of a flow type.
	LatestVersion(ctx context.Context, namespace, flowType string) (string, error)

	// Executable returns the compiled flow for a version.
	Executable(ctx context.Context, namespace, flowType, version string) (Executable, error)

	// Validate checks submitted data against the version's schema.
	Validate(ctx context.Context, namespace, flowType, version string, raw map[string]any) (map[string]any, error)
}

// Emitter receives run lifecycle notifications.
type Emitter interface {
	EmitRunCreated(ctx context.Context, run *Run)
	EmitRunResumed(ctx context.Context, run *Run)
	EmitRunInterrupted(ctx context.Context, run *Run, pausePoint string)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunCancelled(ctx context.Context, run *Run)
}

// Handler runs one engine invocation.
type Handler func(ctx context.Context) error

// Middleware wraps an engine invocation for a run.
type Middleware func(ctx context.Context, run *Run, next Handler) error

// CreateParams describes a new run.
type CreateParams struct {
	Namespace     string
	Type          string
	Version       string
	OwnerID       string
	DisplayName   string
	CoverImageURL string
}

// Result is the outcome of a resume.
type Result struct {
	Run        *Run
	State      map[string]any
	PausePoint string
}

// Paused reports whether the run stopped at an interrupt.
func (r *Result) Paused() bool { return r.Run.Status == StatusInterrupted }

// Inspection is the caller-facing view of a run's latest checkpoint.
type Inspection struct {
	Run        *Run
	State      map[string]any
	PausePoint string
}

// Service drives runs through their lifecycle.
type Service struct {
	store          Store
	resolver       Resolver
	emitter        Emitter
	middleware     []Middleware
	recursionLimit int
	logger         *slog.Logger
	now            func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) ServiceOption {
	return func(s *Service) { s.emitter = e }
}

// WithMiddleware appends invocation middleware. The first one is the
// outermost.
func WithMiddleware(mws ...Middleware) ServiceOption {
	return func(s *Service) { s.middleware = append(s.middleware, mws...) }
}

// WithRecursionLimit bounds the steps of one invocation.
func WithRecursionLimit(n int) ServiceOption {
	return func(s *Service) { s.recursionLimit = n }
}

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service.
func NewService(store Store, resolver Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:          store,
		resolver:       resolver,
		emitter:        nopEmitter{},
		recursionLimit: 100,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a pending run. An empty version selects the latest
// active version; an empty owner falls back to the identity on ctx.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Run, error) {
	if p.Version == "" {
		v, err := s.resolver.LatestVersion(ctx, p.Namespace, p.Type)
		if err != nil {
			return nil, err
		}
		p.Version = v
	}
	if p.OwnerID == "" {
		p.OwnerID = scope.Capture(ctx)
	}

	run := &Run{
		ID:            id.NewFlowID(),
		Namespace:     p.Namespace,
		Type:          p.Type,
		Version:       p.Version,
		DisplayName:   p.DisplayName,
		CoverImageURL: p.CoverImageURL,
		Status:        StatusPending,
		CreatedAt:     s.now(),
	}
	if p.OwnerID != "" {
		owner := p.OwnerID
		run.OwnerID = &owner
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("flow run created",
		slog.String("flow_id", run.ID.String()),
		slog.String("run_name", run.RunName()),
	)
	s.emitter.EmitRunCreated(ctx, run)
	return run, nil
}

// Start creates a run, executes it up to its first pause and, when
// initial data is given and the run paused, submits that data.
func (s *Service) Start(ctx context.Context, p CreateParams, initial map[string]any) (*Result, error) {
	run, err := s.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := s.Resume(ctx, run.ID, nil)
	if err != nil {
		return nil, err
	}
	if len(initial) == 0 || !res.Paused() {
		return res, nil
	}
	return s.Submit(ctx, run.ID, initial)
}

// Submit validates raw against the run's schema and resumes with it.
// Invalid data leaves the run untouched.
func (s *Service) Submit(ctx context.Context, runID id.FlowID, raw map[string]any) (*Result, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	valid, err := s.resolver.Validate(ctx, run.Namespace, run.Type, run.Version, raw)
	if err != nil {
		return nil, err
	}
	return s.Resume(ctx, runID, valid)
}

// Resume moves a pending or interrupted run to running and invokes its
// flow: a pending run starts with its identity injected into submitted, an
// interrupted run continues with submitted as the interrupt's answer.
func (s *Service) Resume(ctx context.Context, runID id.FlowID, submitted map[string]any) (*Result, error) {
	started := s.now()
	prior, ok, err := s.store.TransitionRun(ctx, runID, []Status{StatusPending, StatusInterrupted}, StatusRunning, started)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, runID, "resume")
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitRunResumed(ctx, run)

	exe, err := s.resolver.Executable(ctx, run.Namespace, run.Type, run.Version)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	cfg := RunConfig{
		ThreadID:       run.ID.String(),
		RunName:        run.RunName(),
		RecursionLimit: s.recursionLimit,
	}
	var inv Invocation
	if prior == StatusInterrupted {
		if submitted == nil {
			submitted = map[string]any{}
		}
		inv = Continue(submitted)
	} else {
		input := make(map[string]any, len(submitted)+2)
		for k, v := range submitted {
			input[k] = v
		}
		input["flow_id"] = run.ID.String()
		if owner := run.Owner(); owner != "" {
			input["user_id"] = owner
		}
		inv = Start(input)
	}

	var out map[string]any
	err = s.chain(run, func(ctx context.Context) error {
		var invokeErr error
		out, invokeErr = exe.Invoke(ctx, inv, cfg)
		return invokeErr
	})(ctx)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	res := &Result{Run: run}
	if ins := Interrupts(out[InterruptKey]); len(ins) > 0 {
		finished, err := s.store.FinishRun(ctx, run.ID, StatusInterrupted, "")
		if err != nil {
			return nil, err
		}
		if !finished {
			return s.superseded(ctx, run, out)
		}
		run.Status = StatusInterrupted
		if m, isMap := serde.Canonicalize(ins[0].Value).(map[string]any); isMap {
			res.State = CleanState(m)
		} else {
			res.State = CleanState(out)
		}
		snap, err := exe.GetState(ctx, cfg)
		if err != nil {
			s.logger.Warn("flow: read pause point",
				slog.String("flow_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			_, res.PausePoint = inspect(snap)
		}
		s.emitter.EmitRunInterrupted(ctx, run, res.PausePoint)
		return res, nil
	}

	finished, err := s.store.FinishRun(ctx, run.ID, StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	if !finished {
		return s.superseded(ctx, run, out)
	}
	run.Status = StatusCompleted
	res.State = CleanState(out)
	s.emitter.EmitRunCompleted(ctx, run, s.now().Sub(started))
	return res, nil
}

// superseded builds the result of an invocation whose run left running
// while it executed. The stored status, typically cancelled, is kept.
func (s *Service) superseded(ctx context.Context, run *Run, out map[string]any) (*Result, error) {
	current, err := s.store.GetRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("flow: run changed during invocation",
		slog.String("flow_id", run.ID.String()),
		slog.String("status", string(current.Status)),
	)
	return &Result{Run: current, State: CleanState(out)}, nil
}

// Cancel moves a non-terminal run to cancelled.
func (s *Service) Cancel(ctx context.Context, runID id.FlowID) (*Run, error) {
	_, ok, err := s.store.TransitionRun(ctx, runID, InProgressStatuses, StatusCancelled, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, runID, "cancel")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitRunCancelled(ctx, run)
	return run, nil
}

// MarkCancelled soft-deletes a run. It is a no-op for a cancelled run and
// otherwise sets cancelled whatever the current status.
func (s *Service) MarkCancelled(ctx context.Context, runID id.FlowID) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == StatusCancelled {
		return nil
	}
	if err := s.store.SetRunStatus(ctx, runID, StatusCancelled, run.ErrorMessage); err != nil {
		return err
	}
	run.Status = StatusCancelled
	s.emitter.EmitRunCancelled(ctx, run)
	return nil
}

// Inspect reads the latest checkpoint of a run.
func (s *Service) Inspect(ctx context.Context, runID id.FlowID) (*Inspection, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	exe, err := s.resolver.Executable(ctx, run.Namespace, run.Type, run.Version)
	if err != nil {
		return nil, err
	}
	snap, err := exe.GetState(ctx, RunConfig{
		ThreadID:       run.ID.String(),
		RunName:        run.RunName(),
		RecursionLimit: s.recursionLimit,
	})
	if err != nil {
		return nil, err
	}
	state, pause := inspect(snap)
	return &Inspection{Run: run, State: state, PausePoint: pause}, nil
}

// Get returns a run.
func (s *Service) Get(ctx context.Context, runID id.FlowID) (*Run, error) {
	return s.store.GetRun(ctx, runID)
}

// List returns runs matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Run, error) {
	return s.store.ListRuns(ctx, opts)
}

// FilterByState keeps the runs whose inspected state matches filters. A run
// whose state cannot be read does not match.
func (s *Service) FilterByState(ctx context.Context, runs []*Run, filters map[string]any) []*Run {
	if len(filters) == 0 {
		return runs
	}
	out := make([]*Run, 0, len(runs))
	for _, run := range runs {
		insp, err := s.Inspect(ctx, run.ID)
		if err != nil {
			s.logger.Debug("flow: skip run in state filter",
				slog.String("flow_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if MatchState(insp.State, filters) {
			out = append(out, run)
		}
	}
	return out
}

func (s *Service) chain(run *Run, final Handler) Handler {
	h := final
	for i := len(s.middleware) - 1; i >= 0; i-- {
		mw, next := s.middleware[i], h
		h = func(ctx context.Context) error { return mw(ctx, run, next) }
	}
	return h
}

// conflict builds the error for a rejected conditional transition from
// the run's current status.
func (s *Service) conflict(ctx context.Context, runID id.FlowID, op string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return &StateConflictError{RunID: runID, Op: op, Status: run.Status}
}

// fail records err on the run. The returned error is an *ExecutionError
// unless err is already a configuration error, which is returned as is.
func (s *Service) fail(ctx context.Context, run *Run, err error) error {
	finished, setErr := s.store.FinishRun(ctx, run.ID, StatusFailed, err.Error())
	switch {
	case setErr != nil:
		s.logger.Error("flow: record failure",
			slog.String("flow_id", run.ID.String()),
			slog.String("error", setErr.Error()),
		)
	case !finished:
		// Cancelled while running; the failure is reported but not recorded.
		if current, getErr := s.store.GetRun(ctx, run.ID); getErr == nil {
			*run = *current
		}
	default:
		run.Status = StatusFailed
		run.ErrorMessage = err.Error()
	}
	s.logger.Error("flow run failed",
		slog.String("flow_id", run.ID.String()),
		slog.String("error", err.Error()),
	)
	if finished {
		s.emitter.EmitRunFailed(ctx, run, err)
	}
	if errors.Is(err, graflow.ErrConfiguration) {
		return err
	}
	return &ExecutionError{RunID: run.ID, Err: err}
}

type nopEmitter struct{}

func (nopEmitter) EmitRunCreated(context.Context, *Run) {}
func (nopEmitter) EmitRunResumed(context.Context, *Run) {}
func (nopEmitter) EmitRunInterrupted(context.Context, *Run, string) {}
func (nopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration) {}
func (nopEmitter) EmitRunFailed(context.Context, *Run, error) {}
func (nopEmitter) EmitRunCancelled(context.Context, *Run) {}
