package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/store"
	"github.com/xraph/graflow/store/sqlite"
	"github.com/xraph/graflow/store/storetest"
)

// setupTestStore opens a migrated store in a fresh temporary database.
func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "graflow.db")
	s, err := sqlite.Open(dsn, sqlite.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return setupTestStore(t) })
}

func TestTransitionRun_SingleWinner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &flow.Run{
		ID:        id.NewFlowID(),
		Namespace: "demo",
		Type:      "chat",
		Version:   "v1",
		Status:    flow.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	var wins atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range 8 {
		g.Go(func() error {
			_, ok, err := s.TransitionRun(gctx, r.ID,
				[]flow.Status{flow.StatusPending, flow.StatusInterrupted},
				flow.StatusRunning, time.Now().UTC())
			if ok {
				wins.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("TransitionRun: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("%d transitions won, want exactly 1", got)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != flow.StatusRunning || got.LastResumedAt == nil {
		t.Fatalf("run = %+v, want running with LastResumedAt", got)
	}
}

func TestCreateFlowType_Conflicts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	newFT := func(version string, latest bool) *flowtype.FlowType {
		return &flowtype.FlowType{
			ID: id.NewFlowTypeID(), Namespace: "demo", Type: "chat", Version: version,
			IsLatest: latest, IsActive: true, Executable: "chat", CreatedAt: at, UpdatedAt: at,
		}
	}
	if err := s.CreateFlowType(ctx, newFT("v1", true)); err != nil {
		t.Fatalf("CreateFlowType: %v", err)
	}
	if err := s.CreateFlowType(ctx, newFT("v1", false)); !errors.Is(err, graflow.ErrFlowTypeExists) {
		t.Fatalf("duplicate version: got %v, want ErrFlowTypeExists", err)
	}
	if err := s.CreateFlowType(ctx, newFT("v2", true)); !errors.Is(err, graflow.ErrLatestConflict) {
		t.Fatalf("second latest: got %v, want ErrLatestConflict", err)
	}
}

func TestCheckpointMetadataIntegers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	cp := &checkpoint.Checkpoint{
		ThreadID:  "t",
		ID:        checkpoint.NewCheckpointID(),
		Metadata:  map[string]any{"step": 3},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutCheckpoint(ctx, cp, nil); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	got, err := s.GetCheckpoint(ctx, "t", "", cp.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if step, ok := got.Metadata["step"].(int64); !ok || step != 3 {
		t.Fatalf("step = %#v, want int64 3", got.Metadata["step"])
	}
}

func TestClose_KeepsCallerDB(t *testing.T) {
	owned := setupTestStore(t)
	borrowed := sqlite.New(owned.DB())
	if err := borrowed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := owned.Ping(context.Background()); err != nil {
		t.Fatalf("Ping after borrowed Close: %v", err)
	}
}
