//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/store"
	"github.com/xraph/graflow/store/postgres"
	"github.com/xraph/graflow/store/storetest"
)

var (
	adminConn string
	dbSeq     atomic.Int64
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("graflow_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	adminConn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "get connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if termErr := container.Terminate(ctx); termErr != nil {
		fmt.Fprintf(os.Stderr, "terminate container: %v\n", termErr)
	}
	os.Exit(code)
}

// setupTestStore creates an isolated database and returns a migrated Store
// connected to it.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("graflow_%d", dbSeq.Add(1))
	admin, err := pgx.Connect(ctx, adminConn)
	if err != nil {
		t.Fatalf("connect admin: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("create database: %v", err)
	}
	_ = admin.Close(ctx)

	cfg, err := pgxpool.ParseConfig(adminConn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.ConnConfig.Database = name
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := postgres.NewFromPool(pool, postgres.WithLogger(slog.Default()))
	if err := s.Migrate(ctx); err != nil {
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
		Status:    flow.StatusInterrupted,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	var wins atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range 16 {
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
}
