package longterm_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/graflow/longterm"
	"github.com/xraph/graflow/store/memory"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newService(opts ...longterm.ServiceOption) (*longterm.Service, *clock) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]longterm.ServiceOption{
		longterm.WithClock(clk.Now),
		longterm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return longterm.NewService(memory.New(), opts...), clk
}

func TestService_PutGetDelete(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	ns := []string{"users", "42"}

	got, err := svc.Get(ctx, ns, "prefs")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.Put(ctx, ns, "prefs", map[string]any{"theme": "dark", "size": 3}))
	got, err = svc.Get(ctx, ns, "prefs")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"theme": "dark", "size": int64(3)}, got.Value)
	assert.Equal(t, ns, got.Namespace)
	assert.Nil(t, got.ExpiresAt)

	require.NoError(t, svc.Put(ctx, ns, "prefs", nil))
	got, err = svc.Get(ctx, ns, "prefs")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_PutKeepsCreatedAt(t *testing.T) {
	svc, clk := newService()
	ctx := context.Background()
	ns := []string{"a"}

	require.NoError(t, svc.Put(ctx, ns, "k", map[string]any{"v": 1}))
	created := clk.Now()
	clk.Advance(time.Minute)
	require.NoError(t, svc.Put(ctx, ns, "k", map[string]any{"v": 2}))

	got, err := svc.Get(ctx, ns, "k")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(clk.Now()))
	assert.Equal(t, int64(2), got.Value["v"])
}

func TestService_InvalidNamespace(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, ns := range [][]string{nil, {""}, {"a.b"}, {"ok", ""}} {
		err := svc.Put(ctx, ns, "k", map[string]any{})
		assert.ErrorIs(t, err, longterm.ErrInvalidNamespace, "namespace %q", ns)
	}
}

func TestService_TTL(t *testing.T) {
	svc, clk := newService()
	ctx := context.Background()
	ns := []string{"sessions"}

	require.NoError(t, svc.Put(ctx, ns, "s1", map[string]any{"v": 1}, longterm.WithTTL(10)))

	clk.Advance(8 * time.Minute)
	got, err := svc.Get(ctx, ns, "s1")
	require.NoError(t, err)
	require.NotNil(t, got, "read before expiry")

	// The read pushed expiry to now+10m.
	clk.Advance(8 * time.Minute)
	got, err = svc.Get(ctx, ns, "s1")
	require.NoError(t, err)
	require.NotNil(t, got, "read after refresh")

	clk.Advance(11 * time.Minute)
	got, err = svc.Get(ctx, ns, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired items are never returned")

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestService_TTLWithoutRefresh(t *testing.T) {
	svc, clk := newService(longterm.WithRefreshOnRead(false), longterm.WithDefaultTTL(10))
	ctx := context.Background()
	ns := []string{"sessions"}

	require.NoError(t, svc.Put(ctx, ns, "s1", map[string]any{"v": 1}))
	clk.Advance(8 * time.Minute)
	_, err := svc.Get(ctx, ns, "s1")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)
	got, err := svc.Get(ctx, ns, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_Search(t *testing.T) {
	svc, clk := newService()
	ctx := context.Background()

	put := func(ns []string, key string, v map[string]any) {
		t.Helper()
		clk.Advance(time.Second)
		require.NoError(t, svc.Put(ctx, ns, key, v))
	}
	put([]string{"docs", "a"}, "1", map[string]any{"kind": "note", "score": 5})
	put([]string{"docs", "a"}, "2", map[string]any{"kind": "task", "score": 9})
	put([]string{"docs", "b"}, "3", map[string]any{"kind": "note", "score": 7})
	put([]string{"docsx"}, "4", map[string]any{"kind": "note", "score": 1})

	tests := []struct {
		name   string
		prefix []string
		opts   longterm.SearchOpts
		want   []string
	}{
		{name: "prefix newest first", prefix: []string{"docs"}, want: []string{"3", "2", "1"}},
		{name: "exact namespace", prefix: []string{"docs", "a"}, want: []string{"2", "1"}},
		{name: "equality filter", prefix: []string{"docs"}, opts: longterm.SearchOpts{Filter: map[string]any{"kind": "note"}}, want: []string{"3", "1"}},
		{name: "operator filter", prefix: []string{"docs"}, opts: longterm.SearchOpts{Filter: map[string]any{"score": map[string]any{"$gte": 7}}}, want: []string{"3", "2"}},
		{name: "ne filter", prefix: []string{"docs"}, opts: longterm.SearchOpts{Filter: map[string]any{"kind": map[string]any{"$ne": "note"}}}, want: []string{"2"}},
		{name: "paged", prefix: []string{"docs"}, opts: longterm.SearchOpts{Limit: 1, Offset: 1}, want: []string{"2"}},
		{name: "everything", prefix: nil, want: []string{"4", "3", "2", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := svc.Search(ctx, tt.prefix, tt.opts)
			require.NoError(t, err)
			keys := make([]string, len(items))
			for i, it := range items {
				keys[i] = it.Key
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestService_ListNamespaces(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	for _, ns := range [][]string{
		{"users", "1", "notes"},
		{"users", "2", "notes"},
		{"users", "2", "prefs"},
		{"teams", "x"},
	} {
		require.NoError(t, svc.Put(ctx, ns, "k", map[string]any{"v": true}))
	}

	tests := []struct {
		name string
		opts longterm.ListNamespacesOpts
		want [][]string
	}{
		{name: "all", want: [][]string{{"teams", "x"}, {"users", "1", "notes"}, {"users", "2", "notes"}, {"users", "2", "prefs"}}},
		{name: "prefix", opts: longterm.ListNamespacesOpts{Prefix: []string{"users", "2"}}, want: [][]string{{"users", "2", "notes"}, {"users", "2", "prefs"}}},
		{name: "suffix wildcard", opts: longterm.ListNamespacesOpts{Suffix: []string{"*", "notes"}}, want: [][]string{{"users", "1", "notes"}, {"users", "2", "notes"}}},
		{name: "max depth", opts: longterm.ListNamespacesOpts{MaxDepth: 1}, want: [][]string{{"teams"}, {"users"}}},
		{name: "limit", opts: longterm.ListNamespacesOpts{Limit: 2}, want: [][]string{{"teams", "x"}, {"users", "1", "notes"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListNamespaces(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, longterm.HasPrefix("a.b", ""))
	assert.True(t, longterm.HasPrefix("a.b", "a"))
	assert.True(t, longterm.HasPrefix("a.b", "a.b"))
	assert.False(t, longterm.HasPrefix("ab.c", "a"))
}
