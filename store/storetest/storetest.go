// Package storetest is a conformance suite for graflow store backends.
// Every backend runs the same assertions so the memory store stays a
// faithful stand-in for postgres and sqlite in unit tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/longterm"
	"github.com/xraph/graflow/store"
)

// Factory returns a fresh, migrated store. Each call must return an
// isolated store.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
	t.Run("Runs", func(t *testing.T) { RunFlowStore(t, func(t *testing.T) flow.Store { return newStore(t) }) })
	t.Run("FlowTypes", func(t *testing.T) {
		RunFlowTypeStore(t, func(t *testing.T) flowtype.Store { return newStore(t) })
	})
	t.Run("Checkpoints", func(t *testing.T) {
		RunCheckpointStore(t, func(t *testing.T) checkpoint.Store { return newStore(t) })
	})
	t.Run("Items", func(t *testing.T) {
		RunLongtermStore(t, func(t *testing.T) longterm.Store { return newStore(t) })
	})
	t.Run("Cache", func(t *testing.T) { RunCacheStore(t, func(t *testing.T) cache.Store { return newStore(t) }) })
}

// now is truncated to the precision every backend keeps.
func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

func newRun(owner, namespace, flowType string, status flow.Status, created time.Time) *flow.Run {
	r := &flow.Run{
		ID:        id.NewFlowID(),
		Namespace: namespace,
		Type:      flowType,
		Version:   "v1",
		Status:    status,
		CreatedAt: created,
	}
	if owner != "" {
		r.OwnerID = &owner
	}
	return r
}

// RunFlowStore checks the flow.Store contract.
func RunFlowStore(t *testing.T, newStore func(t *testing.T) flow.Store) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := newRun("alice", "demo", "chat", flow.StatusPending, now())
		r.DisplayName = "My chat"

		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if err := s.CreateRun(ctx, r); !errors.Is(err, graflow.ErrRunAlreadyExists) {
			t.Fatalf("duplicate CreateRun: got %v, want ErrRunAlreadyExists", err)
		}

		got, err := s.GetRun(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.ID != r.ID || got.Owner() != "alice" || got.DisplayName != "My chat" || got.Status != flow.StatusPending {
			t.Fatalf("GetRun = %+v, want %+v", got, r)
		}
		if !got.CreatedAt.Equal(r.CreatedAt) {
			t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
		}
		if got.LastResumedAt != nil {
			t.Fatalf("LastResumedAt = %v, want nil", got.LastResumedAt)
		}

		anon := newRun("", "demo", "chat", flow.StatusPending, now())
		if err := s.CreateRun(ctx, anon); err != nil {
			t.Fatalf("CreateRun anonymous: %v", err)
		}
		got, err = s.GetRun(ctx, anon.ID)
		if err != nil {
			t.Fatalf("GetRun anonymous: %v", err)
		}
		if got.OwnerID != nil {
			t.Fatalf("OwnerID = %q, want nil", *got.OwnerID)
		}

		if _, err := s.GetRun(ctx, id.NewFlowID()); !errors.Is(err, graflow.ErrRunNotFound) {
			t.Fatalf("GetRun unknown: got %v, want ErrRunNotFound", err)
		}
	})

	t.Run("Transition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := newRun("alice", "demo", "chat", flow.StatusPending, now())
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}

		resumable := []flow.Status{flow.StatusPending, flow.StatusInterrupted}
		at := now().Add(time.Second)

		prior, ok, err := s.TransitionRun(ctx, r.ID, resumable, flow.StatusRunning, at)
		if err != nil || !ok || prior != flow.StatusPending {
			t.Fatalf("TransitionRun = (%q, %v, %v), want (pending, true, nil)", prior, ok, err)
		}
		prior, ok, err = s.TransitionRun(ctx, r.ID, resumable, flow.StatusRunning, at)
		if err != nil || ok || prior != flow.StatusRunning {
			t.Fatalf("second TransitionRun = (%q, %v, %v), want (running, false, nil)", prior, ok, err)
		}

		got, err := s.GetRun(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != flow.StatusRunning {
			t.Fatalf("Status = %q, want running", got.Status)
		}
		if got.LastResumedAt == nil || !got.LastResumedAt.Equal(at) {
			t.Fatalf("LastResumedAt = %v, want %v", got.LastResumedAt, at)
		}

		if _, _, err := s.TransitionRun(ctx, id.NewFlowID(), resumable, flow.StatusRunning, at); !errors.Is(err, graflow.ErrRunNotFound) {
			t.Fatalf("TransitionRun unknown: got %v, want ErrRunNotFound", err)
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := newRun("alice", "demo", "chat", flow.StatusRunning, now())
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if err := s.SetRunStatus(ctx, r.ID, flow.StatusFailed, "boom"); err != nil {
			t.Fatalf("SetRunStatus: %v", err)
		}
		got, err := s.GetRun(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != flow.StatusFailed || got.ErrorMessage != "boom" {
			t.Fatalf("got (%q, %q), want (failed, boom)", got.Status, got.ErrorMessage)
		}
		if err := s.SetRunStatus(ctx, id.NewFlowID(), flow.StatusFailed, ""); !errors.Is(err, graflow.ErrRunNotFound) {
			t.Fatalf("SetRunStatus unknown: got %v, want ErrRunNotFound", err)
		}
	})

	t.Run("Finish", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		running := newRun("alice", "demo", "chat", flow.StatusRunning, now())
		cancelled := newRun("alice", "demo", "chat", flow.StatusCancelled, now())
		for _, r := range []*flow.Run{running, cancelled} {
			if err := s.CreateRun(ctx, r); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
		}

		ok, err := s.FinishRun(ctx, running.ID, flow.StatusFailed, "boom")
		if err != nil || !ok {
			t.Fatalf("FinishRun running = (%v, %v), want (true, nil)", ok, err)
		}
		got, err := s.GetRun(ctx, running.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != flow.StatusFailed || got.ErrorMessage != "boom" {
			t.Fatalf("got (%q, %q), want (failed, boom)", got.Status, got.ErrorMessage)
		}

		ok, err = s.FinishRun(ctx, cancelled.ID, flow.StatusCompleted, "")
		if err != nil || ok {
			t.Fatalf("FinishRun cancelled = (%v, %v), want (false, nil)", ok, err)
		}
		got, err = s.GetRun(ctx, cancelled.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != flow.StatusCancelled {
			t.Fatalf("Status = %q, want cancelled", got.Status)
		}

		if _, err := s.FinishRun(ctx, id.NewFlowID(), flow.StatusCompleted, ""); !errors.Is(err, graflow.ErrRunNotFound) {
			t.Fatalf("FinishRun unknown: got %v, want ErrRunNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := now().Add(-time.Hour)

		r1 := newRun("alice", "demo", "chat", flow.StatusCompleted, base)
		r2 := newRun("alice", "demo", "quiz", flow.StatusInterrupted, base.Add(time.Minute))
		r3 := newRun("alice", "other", "chat", flow.StatusCancelled, base.Add(2*time.Minute))
		r4 := newRun("bob", "demo", "chat", flow.StatusPending, base.Add(3*time.Minute))
		for _, r := range []*flow.Run{r1, r2, r3, r4} {
			if err := s.CreateRun(ctx, r); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
		}
		// r1 was resumed last, so it is the most recently active.
		if _, _, err := s.TransitionRun(ctx, r1.ID, []flow.Status{flow.StatusCompleted}, flow.StatusRunning, base.Add(10*time.Minute)); err != nil {
			t.Fatalf("TransitionRun: %v", err)
		}

		tests := []struct {
			name string
			opts flow.ListOpts
			want []*flow.Run
		}{
			{name: "owner", opts: flow.ListOpts{OwnerID: "alice"}, want: []*flow.Run{r1, r3, r2}},
			{name: "exclude cancelled", opts: flow.ListOpts{OwnerID: "alice", ExcludeCancelled: true}, want: []*flow.Run{r1, r2}},
			{name: "namespace and type", opts: flow.ListOpts{Namespace: "demo", Type: "chat"}, want: []*flow.Run{r1, r4}},
			{name: "statuses", opts: flow.ListOpts{Statuses: []flow.Status{flow.StatusPending, flow.StatusInterrupted}}, want: []*flow.Run{r4, r2}},
			{name: "limit", opts: flow.ListOpts{Limit: 2}, want: []*flow.Run{r1, r4}},
			{name: "offset", opts: flow.ListOpts{Offset: 3, Limit: 2}, want: []*flow.Run{r2}},
			{name: "nobody", opts: flow.ListOpts{OwnerID: "carol"}, want: nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.ListRuns(ctx, tt.opts)
				if err != nil {
					t.Fatalf("ListRuns: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("got %d runs, want %d", len(got), len(tt.want))
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID {
						t.Fatalf("run %d = %s, want %s", i, got[i].ID, tt.want[i].ID)
					}
				}
			})
		}
	})
}

// ──────────────────────────────────────────────────
// Flow types
// ──────────────────────────────────────────────────

func newFlowType(namespace, flowType, version string, latest bool) *flowtype.FlowType {
	ts := now()
	return &flowtype.FlowType{
		ID:           id.NewFlowTypeID(),
		Namespace:    namespace,
		Type:         flowType,
		Version:      version,
		IsLatest:     latest,
		IsActive:     true,
		Executable:   flowType,
		MutatePolicy: "authenticated",
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

// RunFlowTypeStore checks the flowtype.Store contract.
func RunFlowTypeStore(t *testing.T, newStore func(t *testing.T) flowtype.Store) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		v1 := newFlowType("demo", "chat", "v1", true)

		if err := s.CreateFlowType(ctx, v1); err != nil {
			t.Fatalf("CreateFlowType: %v", err)
		}
		if err := s.CreateFlowType(ctx, newFlowType("demo", "chat", "v1", false)); !errors.Is(err, graflow.ErrFlowTypeExists) {
			t.Fatalf("duplicate: got %v, want ErrFlowTypeExists", err)
		}
		if err := s.CreateFlowType(ctx, newFlowType("demo", "chat", "v2", true)); !errors.Is(err, graflow.ErrLatestConflict) {
			t.Fatalf("second latest: got %v, want ErrLatestConflict", err)
		}

		got, err := s.GetFlowType(ctx, "demo", "chat", "v1")
		if err != nil {
			t.Fatalf("GetFlowType: %v", err)
		}
		if got.ID != v1.ID || got.Executable != "chat" || got.MutatePolicy != "authenticated" || !got.IsLatest {
			t.Fatalf("GetFlowType = %+v", got)
		}
		if _, err := s.GetFlowType(ctx, "demo", "chat", "v9"); !errors.Is(err, graflow.ErrFlowTypeNotFound) {
			t.Fatalf("unknown: got %v, want ErrFlowTypeNotFound", err)
		}

		latest, err := s.GetLatestFlowType(ctx, "demo", "chat")
		if err != nil {
			t.Fatalf("GetLatestFlowType: %v", err)
		}
		if latest.Version != "v1" {
			t.Fatalf("latest = %q, want v1", latest.Version)
		}
	})

	t.Run("LatestAndUpdate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, ft := range []*flowtype.FlowType{
			newFlowType("demo", "chat", "v1", true),
			newFlowType("demo", "chat", "v2", false),
			newFlowType("demo", "quiz", "v1", true),
		} {
			if err := s.CreateFlowType(ctx, ft); err != nil {
				t.Fatalf("CreateFlowType: %v", err)
			}
		}

		if err := s.SetLatestFlowType(ctx, "demo", "chat", "v2"); err != nil {
			t.Fatalf("SetLatestFlowType: %v", err)
		}
		if err := s.SetLatestFlowType(ctx, "demo", "chat", "v9"); !errors.Is(err, graflow.ErrFlowTypeNotFound) {
			t.Fatalf("SetLatestFlowType unknown: got %v, want ErrFlowTypeNotFound", err)
		}
		latest, err := s.ListFlowTypes(ctx, flowtype.ListOpts{LatestOnly: true})
		if err != nil {
			t.Fatalf("ListFlowTypes: %v", err)
		}
		if len(latest) != 2 || latest[0].Key() != "demo:chat:v2" || latest[1].Key() != "demo:quiz:v1" {
			t.Fatalf("latest versions = %v", keys(latest))
		}

		v2, err := s.GetFlowType(ctx, "demo", "chat", "v2")
		if err != nil {
			t.Fatalf("GetFlowType: %v", err)
		}
		v2.IsActive = false
		v2.DisplayName = "Chat"
		if err := s.UpdateFlowType(ctx, v2); err != nil {
			t.Fatalf("UpdateFlowType: %v", err)
		}
		if _, err := s.GetLatestFlowType(ctx, "demo", "chat"); !errors.Is(err, graflow.ErrFlowTypeNotFound) {
			t.Fatalf("inactive latest: got %v, want ErrFlowTypeNotFound", err)
		}
		active, err := s.ListFlowTypes(ctx, flowtype.ListOpts{Namespace: "demo", Type: "chat", ActiveOnly: true})
		if err != nil {
			t.Fatalf("ListFlowTypes: %v", err)
		}
		if len(active) != 1 || active[0].Version != "v1" {
			t.Fatalf("active versions = %v", keys(active))
		}

		v1 := active[0]
		v1.IsLatest = true
		if err := s.UpdateFlowType(ctx, v1); !errors.Is(err, graflow.ErrLatestConflict) {
			t.Fatalf("update to second latest: got %v, want ErrLatestConflict", err)
		}
		if err := s.UpdateFlowType(ctx, newFlowType("demo", "none", "v1", false)); !errors.Is(err, graflow.ErrFlowTypeNotFound) {
			t.Fatalf("update unknown: got %v, want ErrFlowTypeNotFound", err)
		}
	})
}

func keys(fts []*flowtype.FlowType) []string {
	out := make([]string, len(fts))
	for i, ft := range fts {
		out[i] = ft.Key()
	}
	return out
}

// ──────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────

// RunCheckpointStore checks the checkpoint.Store contract.
func RunCheckpointStore(t *testing.T, newStore func(t *testing.T) checkpoint.Store) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if cp, err := s.LatestCheckpoint(ctx, "t1", ""); err != nil || cp != nil {
			t.Fatalf("LatestCheckpoint on empty thread = (%v, %v), want (nil, nil)", cp, err)
		}

		first := &checkpoint.Checkpoint{
			ThreadID:        "t1",
			ID:              checkpoint.NewCheckpointID(),
			ChannelVersions: map[string]string{"topic": "1"},
			Next:            []string{"a"},
			Metadata:        map[string]any{"source": "input"},
			CreatedAt:       now(),
		}
		blob := &checkpoint.Blob{ThreadID: "t1", Channel: "topic", Version: "1", Encoding: "msgpack", Data: []byte{1, 2}}
		if err := s.PutCheckpoint(ctx, first, []*checkpoint.Blob{blob}); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}
		second := &checkpoint.Checkpoint{
			ThreadID:        "t1",
			ID:              checkpoint.NewCheckpointID(),
			ParentID:        first.ID,
			Kind:            "step",
			ChannelVersions: map[string]string{"topic": "1", "ideas": "2"},
			Metadata:        map[string]any{"source": "loop"},
			CreatedAt:       now(),
		}
		// Re-putting an existing blob is a no-op.
		dup := &checkpoint.Blob{ThreadID: "t1", Channel: "topic", Version: "1", Encoding: "msgpack", Data: []byte{9}}
		ideas := &checkpoint.Blob{ThreadID: "t1", Channel: "ideas", Version: "2", Encoding: "json", Data: []byte(`["x"]`)}
		if err := s.PutCheckpoint(ctx, second, []*checkpoint.Blob{dup, ideas}); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}
		if err := s.PutCheckpoint(ctx, first, nil); err != nil {
			t.Fatalf("re-PutCheckpoint: %v", err)
		}

		latest, err := s.LatestCheckpoint(ctx, "t1", "")
		if err != nil {
			t.Fatalf("LatestCheckpoint: %v", err)
		}
		if latest.ID != second.ID || latest.ParentID != first.ID {
			t.Fatalf("latest = %s (parent %s), want %s (parent %s)", latest.ID, latest.ParentID, second.ID, first.ID)
		}
		if latest.Metadata["source"] != "loop" || len(latest.ChannelVersions) != 2 {
			t.Fatalf("latest = %+v", latest)
		}
		if latest.Kind != "step" {
			t.Fatalf("latest Kind = %q, want step", latest.Kind)
		}

		got, err := s.GetCheckpoint(ctx, "t1", "", first.ID)
		if err != nil {
			t.Fatalf("GetCheckpoint: %v", err)
		}
		if len(got.Next) != 1 || got.Next[0] != "a" {
			t.Fatalf("Next = %v, want [a]", got.Next)
		}
		if got.Kind != "" {
			t.Fatalf("untagged Kind = %q, want empty", got.Kind)
		}
		if _, err := s.GetCheckpoint(ctx, "t1", "", "missing"); !errors.Is(err, graflow.ErrCheckpointNotFound) {
			t.Fatalf("GetCheckpoint unknown: got %v, want ErrCheckpointNotFound", err)
		}

		blobs, err := s.GetBlobs(ctx, "t1", "", map[string]string{"topic": "1", "ideas": "2", "gone": "3"})
		if err != nil {
			t.Fatalf("GetBlobs: %v", err)
		}
		byChannel := map[string]*checkpoint.Blob{}
		for _, b := range blobs {
			byChannel[b.Channel] = b
		}
		if len(byChannel) != 2 || string(byChannel["topic"].Data) != string([]byte{1, 2}) || byChannel["ideas"].Encoding != "json" {
			t.Fatalf("GetBlobs = %+v", byChannel)
		}

		list, err := s.ListCheckpoints(ctx, "t1", "", checkpoint.ListOpts{})
		if err != nil {
			t.Fatalf("ListCheckpoints: %v", err)
		}
		if len(list) != 2 || list[0].ID != second.ID {
			t.Fatalf("ListCheckpoints returned %d, newest first expected", len(list))
		}
		list, err = s.ListCheckpoints(ctx, "t1", "", checkpoint.ListOpts{Before: second.ID})
		if err != nil {
			t.Fatalf("ListCheckpoints before: %v", err)
		}
		if len(list) != 1 || list[0].ID != first.ID {
			t.Fatalf("ListCheckpoints before = %d checkpoints", len(list))
		}
		list, err = s.ListCheckpoints(ctx, "t1", "", checkpoint.ListOpts{Limit: 1})
		if err != nil {
			t.Fatalf("ListCheckpoints limit: %v", err)
		}
		if len(list) != 1 || list[0].ID != second.ID {
			t.Fatalf("ListCheckpoints limit = %d checkpoints", len(list))
		}
	})

	t.Run("Writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cp := &checkpoint.Checkpoint{ThreadID: "t1", ID: checkpoint.NewCheckpointID(), CreatedAt: now()}
		if err := s.PutCheckpoint(ctx, cp, nil); err != nil {
			t.Fatalf("PutCheckpoint: %v", err)
		}

		w := func(task string, idx int, channel, data string) *checkpoint.PendingWrite {
			return &checkpoint.PendingWrite{
				ThreadID: "t1", CheckpointID: cp.ID, TaskID: task, TaskPath: "node",
				Idx: idx, Channel: channel, Encoding: "json", Data: []byte(data),
			}
		}
		if err := s.PutWrites(ctx, []*checkpoint.PendingWrite{w("b", 0, "x", "1"), w("a", 1, "y", "2"), w("a", 0, "x", "3")}); err != nil {
			t.Fatalf("PutWrites: %v", err)
		}
		if err := s.PutWrites(ctx, []*checkpoint.PendingWrite{w("a", 0, "x", "4")}); err != nil {
			t.Fatalf("PutWrites upsert: %v", err)
		}

		got, err := s.ListWrites(ctx, "t1", "", cp.ID)
		if err != nil {
			t.Fatalf("ListWrites: %v", err)
		}
		want := []struct {
			task string
			idx  int
			data string
		}{{"a", 0, "4"}, {"a", 1, "2"}, {"b", 0, "1"}}
		if len(got) != len(want) {
			t.Fatalf("got %d writes, want %d", len(got), len(want))
		}
		for i, w := range want {
			if got[i].TaskID != w.task || got[i].Idx != w.idx || string(got[i].Data) != w.data {
				t.Fatalf("write %d = (%s, %d, %s), want (%s, %d, %s)", i, got[i].TaskID, got[i].Idx, got[i].Data, w.task, w.idx, w.data)
			}
		}
		if got[0].TaskPath != "node" || got[0].Channel != "x" {
			t.Fatalf("write 0 = %+v", got[0])
		}
	})

	t.Run("DeleteThread", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, thread := range []string{"t1", "t2"} {
			cp := &checkpoint.Checkpoint{ThreadID: thread, ID: checkpoint.NewCheckpointID(), ChannelVersions: map[string]string{"c": "1"}, CreatedAt: now()}
			blob := &checkpoint.Blob{ThreadID: thread, Channel: "c", Version: "1", Encoding: "json", Data: []byte("1")}
			if err := s.PutCheckpoint(ctx, cp, []*checkpoint.Blob{blob}); err != nil {
				t.Fatalf("PutCheckpoint: %v", err)
			}
			if err := s.PutWrites(ctx, []*checkpoint.PendingWrite{{ThreadID: thread, CheckpointID: cp.ID, TaskID: "x", Channel: "c", Encoding: "json", Data: []byte("1")}}); err != nil {
				t.Fatalf("PutWrites: %v", err)
			}
		}

		if err := s.DeleteThread(ctx, "t1"); err != nil {
			t.Fatalf("DeleteThread: %v", err)
		}
		if cp, err := s.LatestCheckpoint(ctx, "t1", ""); err != nil || cp != nil {
			t.Fatalf("deleted thread still has checkpoint %v (%v)", cp, err)
		}
		if blobs, _ := s.GetBlobs(ctx, "t1", "", map[string]string{"c": "1"}); len(blobs) != 0 {
			t.Fatalf("deleted thread still has %d blobs", len(blobs))
		}
		other, err := s.LatestCheckpoint(ctx, "t2", "")
		if err != nil || other == nil {
			t.Fatalf("other thread lost its checkpoint: %v", err)
		}
		if writes, _ := s.ListWrites(ctx, "t2", "", other.ID); len(writes) != 1 {
			t.Fatalf("other thread has %d writes, want 1", len(writes))
		}
	})
}

// ──────────────────────────────────────────────────
// Long-term items
// ──────────────────────────────────────────────────

func newItem(ns []string, key string, value map[string]any, at time.Time, ttl *float64) *longterm.Item {
	return &longterm.Item{
		Namespace:  ns,
		Key:        key,
		Value:      value,
		CreatedAt:  at,
		UpdatedAt:  at,
		ExpiresAt:  longterm.ExpiryFor(at, ttl),
		TTLMinutes: ttl,
	}
}

// RunLongtermStore checks the longterm.Store contract.
func RunLongtermStore(t *testing.T, newStore func(t *testing.T) longterm.Store) {
	t.Helper()

	t.Run("PutGetDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := now()
		ns := []string{"users", "alice"}

		if err := s.PutItem(ctx, newItem(ns, "prefs", map[string]any{"theme": "dark"}, at, nil)); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
		if err := s.PutItem(ctx, newItem(ns, "prefs", map[string]any{"theme": "light"}, at.Add(time.Minute), nil)); err != nil {
			t.Fatalf("PutItem replace: %v", err)
		}

		got, err := s.GetItem(ctx, "users.alice", "prefs", at)
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if got.Value["theme"] != "light" {
			t.Fatalf("Value = %v, want theme=light", got.Value)
		}
		if !got.CreatedAt.Equal(at) || !got.UpdatedAt.Equal(at.Add(time.Minute)) {
			t.Fatalf("timestamps = (%v, %v), want created kept and updated moved", got.CreatedAt, got.UpdatedAt)
		}
		if len(got.Namespace) != 2 || got.Namespace[1] != "alice" {
			t.Fatalf("Namespace = %v", got.Namespace)
		}

		if err := s.DeleteItem(ctx, "users.alice", "prefs"); err != nil {
			t.Fatalf("DeleteItem: %v", err)
		}
		if err := s.DeleteItem(ctx, "users.alice", "prefs"); err != nil {
			t.Fatalf("DeleteItem missing: %v", err)
		}
		if _, err := s.GetItem(ctx, "users.alice", "prefs", at); !errors.Is(err, graflow.ErrItemNotFound) {
			t.Fatalf("GetItem deleted: got %v, want ErrItemNotFound", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := now()
		ttl := 1.0

		if err := s.PutItem(ctx, newItem([]string{"a"}, "short", map[string]any{"n": "1"}, at, &ttl)); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
		if err := s.PutItem(ctx, newItem([]string{"a"}, "forever", map[string]any{"n": "2"}, at, nil)); err != nil {
			t.Fatalf("PutItem: %v", err)
		}

		later := at.Add(50 * time.Second)
		if err := s.RefreshItemTTL(ctx, "a", []string{"short", "forever", "missing"}, later); err != nil {
			t.Fatalf("RefreshItemTTL: %v", err)
		}
		if _, err := s.GetItem(ctx, "a", "short", at.Add(90*time.Second)); err != nil {
			t.Fatalf("refreshed item expired early: %v", err)
		}
		gone := at.Add(2 * time.Minute)
		if _, err := s.GetItem(ctx, "a", "short", gone); !errors.Is(err, graflow.ErrItemNotFound) {
			t.Fatalf("expired item: got %v, want ErrItemNotFound", err)
		}
		items, err := s.SearchItems(ctx, "a", gone)
		if err != nil {
			t.Fatalf("SearchItems: %v", err)
		}
		if len(items) != 1 || items[0].Key != "forever" {
			t.Fatalf("SearchItems after expiry = %d items", len(items))
		}

		n, err := s.SweepExpiredItems(ctx, gone)
		if err != nil {
			t.Fatalf("SweepExpiredItems: %v", err)
		}
		if n != 1 {
			t.Fatalf("swept %d items, want 1", n)
		}
	})

	t.Run("SearchAndPrefixes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := now()
		put := func(ns []string, key string, offset time.Duration) {
			t.Helper()
			if err := s.PutItem(ctx, newItem(ns, key, map[string]any{"k": key}, at.Add(offset), nil)); err != nil {
				t.Fatalf("PutItem: %v", err)
			}
		}
		put([]string{"docs"}, "d1", 0)
		put([]string{"docs", "eng"}, "d2", time.Second)
		put([]string{"docs", "eng", "go"}, "d3", 2*time.Second)
		put([]string{"docsx"}, "d4", 3*time.Second)

		items, err := s.SearchItems(ctx, "docs", at.Add(time.Hour))
		if err != nil {
			t.Fatalf("SearchItems: %v", err)
		}
		var got []string
		for _, it := range items {
			got = append(got, it.Key)
		}
		if len(got) != 3 || got[0] != "d3" || got[1] != "d2" || got[2] != "d1" {
			t.Fatalf("SearchItems(docs) = %v, want [d3 d2 d1]", got)
		}

		prefixes, err := s.ListItemPrefixes(ctx, at.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListItemPrefixes: %v", err)
		}
		want := []string{"docs", "docs.eng", "docs.eng.go", "docsx"}
		if len(prefixes) != len(want) {
			t.Fatalf("ListItemPrefixes = %v, want %v", prefixes, want)
		}
		for i := range want {
			if prefixes[i] != want[i] {
				t.Fatalf("ListItemPrefixes = %v, want %v", prefixes, want)
			}
		}
	})
}

// ──────────────────────────────────────────────────
// Cache
// ──────────────────────────────────────────────────

// RunCacheStore checks the cache.Store contract.
func RunCacheStore(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Helper()

	entry := func(ns, key, data string, created time.Time, ttl time.Duration) *cache.Entry {
		e := &cache.Entry{
			FullKey:   cache.NewFullKey([]string{ns}, key),
			Encoding:  "json",
			Data:      []byte(data),
			CreatedAt: created,
		}
		if ttl > 0 {
			exp := created.Add(ttl)
			e.ExpiresAt = &exp
		}
		return e
	}

	t.Run("SetGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := now()

		if err := s.SetCacheEntries(ctx, []*cache.Entry{entry("n", "a", "1", at, 0), entry("n", "b", "2", at, time.Minute)}); err != nil {
			t.Fatalf("SetCacheEntries: %v", err)
		}
		if err := s.SetCacheEntries(ctx, []*cache.Entry{entry("n", "a", "3", at, 0)}); err != nil {
			t.Fatalf("SetCacheEntries upsert: %v", err)
		}

		got, err := s.GetCacheEntries(ctx, []cache.FullKey{
			cache.NewFullKey([]string{"n"}, "a"),
			cache.NewFullKey([]string{"n"}, "b"),
			cache.NewFullKey([]string{"n"}, "missing"),
		})
		if err != nil {
			t.Fatalf("GetCacheEntries: %v", err)
		}
		byKey := map[string]*cache.Entry{}
		for _, e := range got {
			byKey[e.Key] = e
		}
		if len(byKey) != 2 || string(byKey["a"].Data) != "3" || byKey["a"].ExpiresAt != nil {
			t.Fatalf("GetCacheEntries = %+v", byKey)
		}
		if byKey["b"].ExpiresAt == nil || !byKey["b"].ExpiresAt.Equal(at.Add(time.Minute)) {
			t.Fatalf("ExpiresAt = %v, want %v", byKey["b"].ExpiresAt, at.Add(time.Minute))
		}
		if labels := byKey["a"].Labels(); len(labels) != 1 || labels[0] != "n" {
			t.Fatalf("Labels = %v, want [n]", labels)
		}
	})

	t.Run("DeleteAndStats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := now()
		if err := s.SetCacheEntries(ctx, []*cache.Entry{
			entry("n1", "a", "1", at, 0),
			entry("n1", "b", "2", at, time.Second),
			entry("n2", "c", "3", at, time.Second),
			entry("n3", "d", "4", at, 0),
		}); err != nil {
			t.Fatalf("SetCacheEntries: %v", err)
		}

		later := at.Add(time.Minute)
		st, err := s.CacheStats(ctx, later)
		if err != nil {
			t.Fatalf("CacheStats: %v", err)
		}
		if st != (cache.Stats{Total: 4, Active: 2, Expired: 2}) {
			t.Fatalf("CacheStats = %+v", st)
		}

		n, err := s.DeleteExpiredCacheEntries(ctx, later)
		if err != nil || n != 2 {
			t.Fatalf("DeleteExpiredCacheEntries = (%d, %v), want (2, nil)", n, err)
		}
		n, err = s.DeleteCacheNamespaces(ctx, []string{cache.EncodeNamespace([]string{"n1"}), cache.EncodeNamespace([]string{"none"})})
		if err != nil || n != 1 {
			t.Fatalf("DeleteCacheNamespaces = (%d, %v), want (1, nil)", n, err)
		}
		n, err = s.DeleteAllCacheEntries(ctx)
		if err != nil || n != 1 {
			t.Fatalf("DeleteAllCacheEntries = (%d, %v), want (1, nil)", n, err)
		}
		st, err = s.CacheStats(ctx, later)
		if err != nil || st.Total != 0 {
			t.Fatalf("CacheStats after clear = (%+v, %v)", st, err)
		}
	})
}
