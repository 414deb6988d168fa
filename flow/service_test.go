package flow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/scope"
	"github.com/xraph/graflow/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutable records invocations and returns scripted results.
type fakeExecutable struct {
	mu     sync.Mutex
	calls  []flow.Invocation
	invoke func(inv flow.Invocation) (map[string]any, error)
	snap   *flow.Snapshot
}

func (f *fakeExecutable) Invoke(_ context.Context, inv flow.Invocation, _ flow.RunConfig) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	return f.invoke(inv)
}

func (f *fakeExecutable) GetState(context.Context, flow.RunConfig) (*flow.Snapshot, error) {
	return f.snap, nil
}

type fakeResolver struct {
	exe         flow.Executable
	exeErr      error
	validateErr error
}

func (r *fakeResolver) LatestVersion(context.Context, string, string) (string, error) {
	return "v2", nil
}

func (r *fakeResolver) Executable(context.Context, string, string, string) (flow.Executable, error) {
	return r.exe, r.exeErr
}

func (r *fakeResolver) Validate(_ context.Context, _, _, _ string, raw map[string]any) (map[string]any, error) {
	if r.validateErr != nil {
		return nil, r.validateErr
	}
	return raw, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) EmitRunCreated(context.Context, *flow.Run) { r.add("created") }
func (r *recorder) EmitRunResumed(context.Context, *flow.Run) { r.add("resumed") }
func (r *recorder) EmitRunInterrupted(context.Context, *flow.Run, string) { r.add("interrupted") }
func (r *recorder) EmitRunCompleted(context.Context, *flow.Run, time.Duration) { r.add("completed") }
func (r *recorder) EmitRunFailed(context.Context, *flow.Run, error) { r.add("failed") }
func (r *recorder) EmitRunCancelled(context.Context, *flow.Run) { r.add("cancelled") }

func paused(value any, node string) map[string]any {
	return map[string]any{
		"step": 1,
		flow.InterruptKey: []flow.Interrupt{
			{ID: "i1", Value: value, NS: []string{node + ":task"}},
		},
	}
}

func newService(t *testing.T, exe *fakeExecutable, opts ...flow.ServiceOption) (*flow.Service, *memory.Store, *fakeResolver) {
	t.Helper()
	st := memory.New()
	res := &fakeResolver{exe: exe}
	opts = append([]flow.ServiceOption{flow.WithLogger(testLogger())}, opts...)
	return flow.NewService(st, res, opts...), st, res
}

var params = flow.CreateParams{Namespace: "demo", Type: "chat"}

func TestCreate(t *testing.T) {
	svc, _, _ := newService(t, &fakeExecutable{})
	ctx := scope.WithRequest(context.Background(), policy.Request{Subject: "alice", Authenticated: true})

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusPending, run.Status)
	assert.Equal(t, "v2", run.Version, "empty version selects latest")
	assert.Equal(t, "alice", run.Owner())
	assert.Equal(t, "demo_chat_v2", run.RunName())

	anon, err := svc.Create(context.Background(), flow.CreateParams{Namespace: "demo", Type: "chat", Version: "v1"})
	require.NoError(t, err)
	assert.Nil(t, anon.OwnerID)
	assert.Equal(t, "v1", anon.Version)
}

func TestResume_PendingStartsWithIdentity(t *testing.T) {
	exe := &fakeExecutable{invoke: func(inv flow.Invocation) (map[string]any, error) {
		out := map[string]any{"answer": 42, "branch:to:x": nil, "_private": 1}
		for k, v := range inv.Input() {
			out[k] = v
		}
		return out, nil
	}}
	events := &recorder{}
	svc, _, _ := newService(t, exe, flow.WithEmitter(events))
	ctx := scope.WithRequest(context.Background(), policy.Request{Subject: "alice", Authenticated: true})

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)

	res, err := svc.Resume(ctx, run.ID, map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCompleted, res.Run.Status)
	assert.False(t, res.Paused())
	assert.Equal(t, map[string]any{"answer": 42, "topic": "go"}, res.State)

	require.Len(t, exe.calls, 1)
	inv := exe.calls[0]
	assert.False(t, inv.IsResume())
	assert.Equal(t, run.ID.String(), inv.Input()["flow_id"])
	assert.Equal(t, "alice", inv.Input()["user_id"])

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCompleted, got.Status)
	assert.NotNil(t, got.LastResumedAt)
	assert.Equal(t, []string{"created", "resumed", "completed"}, events.events)
}

func TestResume_InterruptThenContinue(t *testing.T) {
	var n atomic.Int32
	exe := &fakeExecutable{
		invoke: func(inv flow.Invocation) (map[string]any, error) {
			if n.Add(1) == 1 {
				return paused(map[string]any{"required_data": []any{"topic"}, "user_id": "x"}, "ask"), nil
			}
			return map[string]any{"done": true}, nil
		},
		snap: &flow.Snapshot{Values: map[string]any{"a": 1}, Next: []string{"ask"}},
	}
	svc, _, _ := newService(t, exe)
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)

	res, err := svc.Resume(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Paused())
	assert.Equal(t, "ask", res.PausePoint)
	assert.Equal(t, map[string]any{"required_data": []any{"topic"}}, res.State,
		"a map interrupt value is the state, cleaned")

	res, err = svc.Submit(ctx, run.ID, map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCompleted, res.Run.Status)

	require.Len(t, exe.calls, 2)
	assert.True(t, exe.calls[1].IsResume())
	assert.Equal(t, map[string]any{"topic": "go"}, exe.calls[1].ResumeValue())
}

func TestResume_NonMapInterruptUsesOutput(t *testing.T) {
	exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
		return paused("confirm?", "ask"), nil
	}}
	svc, _, _ := newService(t, exe)
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	res, err := svc.Resume(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": 1}, res.State)
}

func TestResume_ContinueWithNilSubmitsEmptyMap(t *testing.T) {
	var n atomic.Int32
	exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
		if n.Add(1) == 1 {
			return paused("x", "ask"), nil
		}
		return map[string]any{}, nil
	}}
	svc, _, _ := newService(t, exe)
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	_, err = svc.Resume(ctx, run.ID, nil)
	require.NoError(t, err)
	_, err = svc.Resume(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, exe.calls[1].ResumeValue())
}

func TestResume_Failure(t *testing.T) {
	boom := errors.New("node exploded")
	exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) { return nil, boom }}
	events := &recorder{}
	svc, _, _ := newService(t, exe, flow.WithEmitter(events))
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)

	_, err = svc.Resume(ctx, run.ID, nil)
	var execErr *flow.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, graflow.ErrExecutionFailed)

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusFailed, got.Status)
	assert.Equal(t, "node exploded", got.ErrorMessage)
	assert.Contains(t, events.events, "failed")
}

func TestResume_ConfigurationErrorReturnedAsIs(t *testing.T) {
	svc, _, res := newService(t, &fakeExecutable{})
	cfgErr := errors.Join(graflow.ErrConfiguration, errors.New("Error building graph demo:chat:v2"))
	res.exeErr = cfgErr
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	_, err = svc.Resume(ctx, run.ID, nil)
	assert.Same(t, cfgErr, err)

	var execErr *flow.ExecutionError
	assert.False(t, errors.As(err, &execErr))

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusFailed, got.Status)
}

func TestResume_CancelDuringInvocationStaysCancelled(t *testing.T) {
	tests := []struct {
		name    string
		result  func() (map[string]any, error)
		wantErr bool
	}{
		{"completes", func() (map[string]any, error) { return map[string]any{"done": true}, nil }, false},
		{"pauses", func() (map[string]any, error) { return paused(map[string]any{"q": "?"}, "ask"), nil }, false},
		{"fails", func() (map[string]any, error) { return nil, errors.New("node exploded") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				svc   *flow.Service
				runID id.FlowID
			)
			ctx := context.Background()
			exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
				_, err := svc.Cancel(ctx, runID)
				require.NoError(t, err)
				return tt.result()
			}}
			events := &recorder{}
			svc, _, _ = newService(t, exe, flow.WithEmitter(events))

			run, err := svc.Create(ctx, params)
			require.NoError(t, err)
			runID = run.ID

			res, err := svc.Resume(ctx, run.ID, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, graflow.ErrExecutionFailed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, flow.StatusCancelled, res.Run.Status)
				assert.Empty(t, res.PausePoint)
			}

			got, err := svc.Get(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, flow.StatusCancelled, got.Status)
			assert.Empty(t, got.ErrorMessage)
			assert.NotContains(t, events.events, "completed")
			assert.NotContains(t, events.events, "interrupted")
			assert.NotContains(t, events.events, "failed")
		})
	}
}

type topicRequest struct {
	RequiredData []string `json:"required_data"`
}

type promptPayload struct{ prompt string }

func (p promptPayload) ToJSON() map[string]any { return map[string]any{"prompt": p.prompt} }

func TestResume_TypedInterruptPayload(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  map[string]any
	}{
		{"struct", topicRequest{RequiredData: []string{"topic"}}, map[string]any{"required_data": []any{"topic"}}},
		{"jsoner", promptPayload{prompt: "topic?"}, map[string]any{"prompt": "topic?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
				out := paused(tt.value, "ask")
				out["secret_state"] = "x"
				return out, nil
			}}
			svc, _, _ := newService(t, exe)
			ctx := context.Background()

			run, err := svc.Create(ctx, params)
			require.NoError(t, err)
			res, err := svc.Resume(ctx, run.ID, nil)
			require.NoError(t, err)
			require.True(t, res.Paused())
			assert.Equal(t, tt.want, res.State)
		})
	}
}

func TestResume_Conflicts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		status  flow.Status
		wantMsg string
	}{
		{name: "completed", status: flow.StatusCompleted, wantMsg: "Cannot resume flow in terminal state: completed"},
		{name: "failed", status: flow.StatusFailed, wantMsg: "Cannot resume flow in terminal state: failed"},
		{name: "cancelled", status: flow.StatusCancelled, wantMsg: "Cannot resume flow in terminal state: cancelled"},
		{name: "running", status: flow.StatusRunning, wantMsg: "Cannot resume flow while it is running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := newService(t, &fakeExecutable{})
			run, err := svc.Create(ctx, params)
			require.NoError(t, err)
			require.NoError(t, st.SetRunStatus(ctx, run.ID, tt.status, ""))

			_, err = svc.Resume(ctx, run.ID, nil)
			var conflict *flow.StateConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.ErrorIs(t, err, graflow.ErrStateConflict)

			got, err := svc.Get(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status, "a rejected resume leaves the run untouched")
		})
	}
}

func TestResume_UnknownRun(t *testing.T) {
	svc, _, _ := newService(t, &fakeExecutable{})
	_, err := svc.Resume(context.Background(), id.NewFlowID(), nil)
	assert.ErrorIs(t, err, graflow.ErrRunNotFound)
}

func TestResume_ConcurrentCallersRunOnce(t *testing.T) {
	release := make(chan struct{})
	exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	}}
	svc, _, _ := newService(t, exe)
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)

	const callers = 8
	var (
		wins      atomic.Int32
		conflicts atomic.Int32
		started   sync.WaitGroup
	)
	started.Add(callers)
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			started.Done()
			_, err := svc.Resume(ctx, run.ID, nil)
			var conflict *flow.StateConflictError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &conflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	assert.Len(t, exe.calls, 1)
}

func TestSubmit_InvalidDataLeavesRunUntouched(t *testing.T) {
	svc, _, res := newService(t, &fakeExecutable{})
	invalid := errors.New("topic is required")
	res.validateErr = invalid
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, run.ID, map[string]any{})
	assert.ErrorIs(t, err, invalid)

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusPending, got.Status)
}

func TestStart(t *testing.T) {
	var n atomic.Int32
	exe := &fakeExecutable{invoke: func(inv flow.Invocation) (map[string]any, error) {
		if n.Add(1) == 1 {
			return paused(map[string]any{"required_data": []any{"topic"}}, "ask"), nil
		}
		return map[string]any{"topic": inv.ResumeValue().(map[string]any)["topic"]}, nil
	}}
	svc, _, _ := newService(t, exe)

	res, err := svc.Start(context.Background(), params, map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCompleted, res.Run.Status)
	assert.Equal(t, "go", res.State["topic"])
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	events := &recorder{}
	svc, st, _ := newService(t, &fakeExecutable{}, flow.WithEmitter(events))

	for _, status := range []flow.Status{flow.StatusPending, flow.StatusRunning, flow.StatusInterrupted} {
		run, err := svc.Create(ctx, params)
		require.NoError(t, err)
		require.NoError(t, st.SetRunStatus(ctx, run.ID, status, ""))

		got, err := svc.Cancel(ctx, run.ID)
		require.NoError(t, err, status)
		assert.Equal(t, flow.StatusCancelled, got.Status)
	}

	for _, status := range []flow.Status{flow.StatusCompleted, flow.StatusFailed, flow.StatusCancelled} {
		run, err := svc.Create(ctx, params)
		require.NoError(t, err)
		require.NoError(t, st.SetRunStatus(ctx, run.ID, status, ""))

		_, err = svc.Cancel(ctx, run.ID)
		require.Error(t, err)
		assert.Equal(t, "Cannot cancel flow in terminal state: "+string(status), err.Error())
	}
}

func TestMarkCancelled(t *testing.T) {
	ctx := context.Background()
	events := &recorder{}
	svc, st, _ := newService(t, &fakeExecutable{}, flow.WithEmitter(events))

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, st.SetRunStatus(ctx, run.ID, flow.StatusFailed, "boom"))

	require.NoError(t, svc.MarkCancelled(ctx, run.ID))
	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCancelled, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	require.NoError(t, svc.MarkCancelled(ctx, run.ID))
	assert.Equal(t, []string{"created", "cancelled"}, events.events, "a second delete is a no-op")
}

func TestInspect_PausePoint(t *testing.T) {
	tests := []struct {
		name      string
		snap      *flow.Snapshot
		wantPause string
		wantState map[string]any
	}{
		{
			name:      "nil snapshot",
			snap:      nil,
			wantPause: "",
			wantState: nil,
		},
		{
			name:      "next wins",
			snap:      &flow.Snapshot{Values: map[string]any{"a": 1, "user_id": "u"}, Next: []string{"", "review"}},
			wantPause: "review",
			wantState: map[string]any{"a": int64(1)},
		},
		{
			name: "task name and first map interrupt merged",
			snap: &flow.Snapshot{
				Values: map[string]any{"a": 1},
				Tasks: []flow.Task{
					{Name: "idle"},
					{Name: "ask", Interrupts: []flow.Interrupt{
						{Value: "text"},
						{Value: map[string]any{"a": 2, "required_data": []any{"x"}}},
						{Value: map[string]any{"ignored": true}},
					}},
				},
			},
			wantPause: "ask",
			wantState: map[string]any{"a": int64(2), "required_data": []any{"x"}},
		},
		{
			name: "task path reversed",
			snap: &flow.Snapshot{
				Values: map[string]any{"a": 1},
				Tasks:  []flow.Task{{Path: []any{"__pregel_pull", "collect", 3}, Interrupts: []flow.Interrupt{{Value: "x"}}}},
			},
			wantPause: "collect",
			wantState: map[string]any{"a": int64(1)},
		},
		{
			name: "interrupt namespace",
			snap: &flow.Snapshot{
				Values: map[string]any{"a": 1},
				Tasks:  []flow.Task{{Interrupts: []flow.Interrupt{{Value: "x", NS: []string{"confirm:abc"}}}}},
			},
			wantPause: "confirm",
			wantState: map[string]any{"a": int64(1)},
		},
		{
			name: "values interrupt",
			snap: &flow.Snapshot{Values: map[string]any{
				"a":               1,
				flow.InterruptKey: []any{map[string]any{"value": "x", "ns": []any{"gate:1"}}},
			}},
			wantPause: "gate",
			wantState: map[string]any{"a": int64(1)},
		},
		{
			name: "branch marker",
			snap: &flow.Snapshot{Values: map[string]any{
				"a":                1,
				"branch:to:zeta":   nil,
				"branch:to:alpha":  nil,
				"branch:to:filled": "x",
			}},
			wantPause: "alpha",
			wantState: map[string]any{"a": int64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newService(t, &fakeExecutable{snap: tt.snap})
			ctx := context.Background()
			run, err := svc.Create(ctx, params)
			require.NoError(t, err)

			ins, err := svc.Inspect(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPause, ins.PausePoint)
			assert.Equal(t, tt.wantState, ins.State)
		})
	}
}

func TestFilterByState(t *testing.T) {
	exe := &fakeExecutable{snap: &flow.Snapshot{Values: map[string]any{
		"topic":  "go",
		"done":   true,
		"count":  3,
		"nested": map[string]any{"level": "deep"},
	}}}
	svc, _, _ := newService(t, exe)
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	runs := []*flow.Run{run}

	assert.Len(t, svc.FilterByState(ctx, runs, nil), 1)
	assert.Len(t, svc.FilterByState(ctx, runs, map[string]any{"topic": "go", "done": "True"}), 1)
	assert.Len(t, svc.FilterByState(ctx, runs, map[string]any{"count": "3"}), 1)
	assert.Len(t, svc.FilterByState(ctx, runs, map[string]any{"nested__level": "deep"}), 1)
	assert.Empty(t, svc.FilterByState(ctx, runs, map[string]any{"topic": "rust"}))
	assert.Empty(t, svc.FilterByState(ctx, runs, map[string]any{"missing": "x"}))
	assert.Empty(t, svc.FilterByState(ctx, runs, map[string]any{"topic__deeper": "x"}))
}

func TestMiddlewareWrapsInvocation(t *testing.T) {
	var order []string
	mw := func(name string) flow.Middleware {
		return func(ctx context.Context, run *flow.Run, next flow.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}
	exe := &fakeExecutable{invoke: func(flow.Invocation) (map[string]any, error) {
		order = append(order, "invoke")
		return map[string]any{}, nil
	}}
	svc, _, _ := newService(t, exe, flow.WithMiddleware(mw("outer"), mw("inner")))
	ctx := context.Background()

	run, err := svc.Create(ctx, params)
	require.NoError(t, err)
	_, err = svc.Resume(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "invoke", "inner:after", "outer:after"}, order)
}
