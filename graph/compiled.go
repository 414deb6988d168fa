package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/longterm"
)

// DefaultRecursionLimit bounds the number of steps of one invocation when
// the run config does not set a limit.
const DefaultRecursionLimit = 25

// ErrRecursionLimit is returned when an invocation exceeds its step limit.
var ErrRecursionLimit = errors.New("graph: recursion limit reached")

// ErrNothingToResume is returned by a Continue invocation on a thread with
// no scheduled task.
var ErrNothingToResume = errors.New("graph: nothing to resume")

// taskPathPull is the first element of a scheduled task's path.
const taskPathPull = "__pregel_pull"

// writesNamespace is the cache namespace prefix for node results.
const writesNamespace = "graflow:writes"

// Compiled is a graph bound to its storage components.
type Compiled struct {
	graph    *Graph
	saver    *checkpoint.Saver
	cache    *cache.Cache
	store    *longterm.Service
	runName  string
	cacheTTL time.Duration
	logger   *slog.Logger
}

var _ flow.Executable = (*Compiled)(nil)

func newCompiled(g *Graph, c flowtype.Components) *Compiled {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runName := c.RunName
	if runName == "" {
		runName = g.name
	}
	return &Compiled{
		graph:    g,
		saver:    c.Checkpoints,
		cache:    c.Cache,
		store:    c.Store,
		runName:  runName,
		cacheTTL: c.NodeCacheTTL,
		logger:   logger.With(slog.String("graph", g.name)),
	}
}

// Executable adapts g into a flow type executable factory.
func Executable(g *Graph) flowtype.ExecutableFactory {
	return func(c flowtype.Components) (flow.Executable, error) {
		return g.Compile(c)
	}
}

// cursor is the position of a thread between steps.
type cursor struct {
	cfg     checkpoint.Config
	cp      *checkpoint.Checkpoint
	values  State
	pending []checkpoint.Write
	step    int
}

// Invoke implements flow.Executable.
func (c *Compiled) Invoke(ctx context.Context, inv flow.Invocation, rc flow.RunConfig) (map[string]any, error) {
	base := checkpoint.Config{ThreadID: rc.ThreadID}
	tuple, err := c.saver.GetTuple(ctx, base)
	if err != nil {
		return nil, err
	}

	var cur *cursor
	if inv.IsResume() {
		if tuple == nil || len(tuple.Checkpoint.Next) == 0 {
			return nil, ErrNothingToResume
		}
		cur = cursorFrom(tuple)
		if err := c.recordResume(ctx, cur, inv.ResumeValue()); err != nil {
			return nil, err
		}
	} else {
		cur, err = c.applyInput(ctx, base, tuple, inv.Input(), rc)
		if err != nil {
			return nil, err
		}
	}

	limit := rc.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	return c.loop(ctx, cur, rc, limit)
}

// GetState implements flow.Executable.
func (c *Compiled) GetState(ctx context.Context, rc flow.RunConfig) (*flow.Snapshot, error) {
	tuple, err := c.saver.GetTuple(ctx, checkpoint.Config{ThreadID: rc.ThreadID})
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, nil
	}

	snap := &flow.Snapshot{
		Values: copyState(tuple.Values),
		Next:   append([]string(nil), tuple.Checkpoint.Next...),
	}
	byTask := groupWrites(tuple.PendingWrites)
	for _, name := range tuple.Checkpoint.Next {
		tid := taskID(tuple.Checkpoint.ID, name)
		t := flow.Task{ID: tid, Name: name, Path: []any{taskPathPull, name}}
		if tw := byTask.get(tid); !tw.done {
			t.Interrupts = tw.interrupts
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	return snap, nil
}

func cursorFrom(t *checkpoint.Tuple) *cursor {
	step := -1
	if s, ok := t.Checkpoint.Metadata["step"]; ok {
		switch n := s.(type) {
		case int64:
			step = int(n)
		case float64:
			step = int(n)
		case int:
			step = n
		}
	}
	return &cursor{
		cfg:     t.Config,
		cp:      t.Checkpoint,
		values:  copyState(t.Values),
		pending: t.PendingWrites,
		step:    step + 1,
	}
}

// applyInput folds the initial input into the thread and schedules the
// entry nodes.
func (c *Compiled) applyInput(ctx context.Context, base checkpoint.Config, tuple *checkpoint.Tuple, input map[string]any, rc flow.RunConfig) (*cursor, error) {
	values := State{}
	versions := map[string]string{}
	parent := base
	if tuple != nil {
		values = copyState(tuple.Values)
		versions = tuple.Checkpoint.ChannelVersions
		parent = tuple.Config
	}

	changed := c.apply(values, []State{input})
	next, err := c.successors([]string{Start}, values)
	if err != nil {
		return nil, err
	}
	cp, newVersions := nextCheckpoint(versions, changed, next, map[string]any{
		"source":   "input",
		"step":     -1,
		"run_name": c.runNameFor(rc),
	})
	cfg, err := c.saver.Put(ctx, parent, cp, values, newVersions)
	if err != nil {
		return nil, err
	}
	return &cursor{cfg: cfg, cp: cp, values: values, step: 0}, nil
}

// recordResume appends value to the resume list of the interrupted task.
func (c *Compiled) recordResume(ctx context.Context, cur *cursor, value any) error {
	byTask := groupWrites(cur.pending)
	for _, name := range cur.cp.Next {
		tid := taskID(cur.cp.ID, name)
		tw := byTask.get(tid)
		if tw.done || len(tw.interrupts) == 0 {
			continue
		}
		resume := append(append([]any(nil), tw.resume...), value)
		w := checkpoint.Write{TaskID: tid, TaskPath: name, Channel: checkpoint.ChannelResume, Value: resume}
		if err := c.saver.PutWrites(ctx, cur.cfg, tid, name, []checkpoint.Write{w}); err != nil {
			return err
		}
		cur.pending = append(cur.pending, w)
		return nil
	}
	return ErrNothingToResume
}

func (c *Compiled) loop(ctx context.Context, cur *cursor, rc flow.RunConfig, limit int) (map[string]any, error) {
	for len(cur.cp.Next) > 0 {
		if cur.step >= limit {
			return nil, fmt.Errorf("%w: %d steps", ErrRecursionLimit, limit)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		byTask := groupWrites(cur.pending)
		var (
			updates    []State
			interrupts []flow.Interrupt
		)
		for _, name := range cur.cp.Next {
			tid := taskID(cur.cp.ID, name)
			tw := byTask.get(tid)
			if tw.done {
				updates = append(updates, tw.update)
				continue
			}

			in := copyState(cur.values)
			nc := &NodeContext{
				node:     name,
				taskID:   tid,
				threadID: rc.ThreadID,
				runName:  c.runNameFor(rc),
				resume:   tw.resume,
				store:    c.store,
				logger:   c.logger.With(slog.String("node", name), slog.String("thread_id", rc.ThreadID)),
			}
			update, err := c.runNode(ctx, c.graph.nodes[name], nc, in)

			var sig *interruptSignal
			switch {
			case errors.As(err, &sig):
				intr := flow.Interrupt{
					ID:    interruptID(tid, sig.index),
					Value: sig.value,
					NS:    []string{name + ":" + tid},
					Name:  name,
					Path:  []string{name},
				}
				w := checkpoint.Write{Channel: checkpoint.ChannelInterrupt, Value: []flow.Interrupt{intr}}
				if err := c.saver.PutWrites(ctx, cur.cfg, tid, name, []checkpoint.Write{w}); err != nil {
					return nil, err
				}
				interrupts = append(interrupts, intr)
			case err != nil:
				w := checkpoint.Write{Channel: checkpoint.ChannelError, Value: err.Error()}
				if perr := c.saver.PutWrites(ctx, cur.cfg, tid, name, []checkpoint.Write{w}); perr != nil {
					c.logger.Warn("failed to record node error", slog.String("node", name), slog.String("error", perr.Error()))
				}
				return nil, fmt.Errorf("graph: node %q: %w", name, err)
			default:
				if err := c.saver.PutWrites(ctx, cur.cfg, tid, name, updateWrites(update)); err != nil {
					return nil, err
				}
				updates = append(updates, update)
			}
		}

		if len(interrupts) > 0 {
			out := copyState(cur.values)
			out[flow.InterruptKey] = interrupts
			return out, nil
		}

		changed := c.apply(cur.values, updates)
		next, err := c.successors(cur.cp.Next, cur.values)
		if err != nil {
			return nil, err
		}
		cp, newVersions := nextCheckpoint(cur.cp.ChannelVersions, changed, next, map[string]any{
			"source":   "loop",
			"step":     cur.step,
			"run_name": c.runNameFor(rc),
		})
		cfg, err := c.saver.Put(ctx, cur.cfg, cp, cur.values, newVersions)
		if err != nil {
			return nil, err
		}
		cur = &cursor{cfg: cfg, cp: cp, values: cur.values, step: cur.step + 1}
	}
	return copyState(cur.values), nil
}

// runNode executes one node, consulting the result cache when the node
// has a cache policy.
func (c *Compiled) runNode(ctx context.Context, n *node, nc *NodeContext, in State) (State, error) {
	var fk cache.FullKey
	cached := n.cache != nil && c.cache != nil
	if cached {
		fk = cache.NewFullKey([]string{writesNamespace, n.name}, n.cache.Key(n.name, in))
		hits, err := c.cache.Get(ctx, []cache.FullKey{fk})
		if err != nil {
			nc.logger.Warn("node cache lookup failed", slog.String("error", err.Error()))
		} else if v, ok := hits[fk]; ok {
			if update, ok := v.(map[string]any); ok {
				nc.logger.Debug("node cache hit", slog.String("key", fk.Key))
				return update, nil
			}
		}
	}

	nc.logger.Info("ENTER node")
	start := time.Now()
	update, err := n.fn(ctx, nc, in)
	if err != nil {
		if !IsInterrupt(err) {
			nc.logger.Error("ERROR in node", slog.String("error", err.Error()))
		}
		return nil, err
	}
	nc.logger.Info("EXIT node", slog.Duration("elapsed", time.Since(start)))

	if cached {
		ttl := n.cache.TTL
		if ttl == 0 {
			ttl = c.cacheTTL
		}
		if err := c.cache.Set(ctx, map[cache.FullKey]cache.Item{fk: {Value: update, TTL: ttl}}); err != nil {
			nc.logger.Warn("node cache store failed", slog.String("error", err.Error()))
		}
	}
	return update, nil
}

// apply folds updates into values in order and returns the changed
// channels.
func (c *Compiled) apply(values State, updates []State) map[string]bool {
	changed := map[string]bool{}
	for _, u := range updates {
		for k, v := range u {
			r := c.graph.reducers[k]
			if r == nil {
				r = Replace
			}
			values[k] = r(values[k], v)
			changed[k] = true
		}
	}
	return changed
}

// successors schedules the nodes following the given nodes. End and
// duplicates are dropped; order follows edge declaration.
func (c *Compiled) successors(from []string, values State) ([]string, error) {
	var next []string
	seen := map[string]bool{}
	add := func(to string) {
		if to == End || to == "" || seen[to] {
			return
		}
		seen[to] = true
		next = append(next, to)
	}
	for _, f := range from {
		for _, to := range c.graph.edges[f] {
			add(to)
		}
		for _, b := range c.graph.branches[f] {
			key, err := b.route(copyState(values))
			if err != nil {
				return nil, fmt.Errorf("graph: route from %q: %w", f, err)
			}
			to := key
			if b.targets != nil {
				var ok bool
				if to, ok = b.targets[key]; !ok {
					return nil, fmt.Errorf("graph: route from %q: no target for %q", f, key)
				}
			}
			if to != End && c.graph.nodes[to] == nil {
				return nil, fmt.Errorf("graph: route from %q: unknown node %q", f, to)
			}
			add(to)
		}
	}
	return next, nil
}

func (c *Compiled) runNameFor(rc flow.RunConfig) string {
	if rc.RunName != "" {
		return rc.RunName
	}
	return c.runName
}

// ──────────────────────────────────────────────────
// Pending writes
// ──────────────────────────────────────────────────

type taskWrites struct {
	done       bool
	update     State
	interrupts []flow.Interrupt
	resume     []any
}

// writeIndex groups pending writes by task ID.
type writeIndex map[string]*taskWrites

func groupWrites(writes []checkpoint.Write) writeIndex {
	out := writeIndex{}
	for _, w := range writes {
		tw := out[w.TaskID]
		if tw == nil {
			tw = &taskWrites{update: State{}}
			out[w.TaskID] = tw
		}
		switch w.Channel {
		case checkpoint.ChannelDone:
			tw.done = true
		case checkpoint.ChannelInterrupt:
			tw.interrupts = flow.Interrupts(w.Value)
		case checkpoint.ChannelResume:
			if list, ok := w.Value.([]any); ok {
				tw.resume = list
			}
		case checkpoint.ChannelError:
		default:
			tw.update[w.Channel] = w.Value
		}
	}
	return out
}

// get returns the writes of a task, or an empty record.
func (m writeIndex) get(id string) *taskWrites {
	if tw, ok := m[id]; ok {
		return tw
	}
	return &taskWrites{update: State{}}
}

func updateWrites(update State) []checkpoint.Write {
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writes := make([]checkpoint.Write, 0, len(keys)+1)
	for _, k := range keys {
		writes = append(writes, checkpoint.Write{Channel: k, Value: update[k]})
	}
	return append(writes, checkpoint.Write{Channel: checkpoint.ChannelDone, Value: true})
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func nextCheckpoint(prev map[string]string, changed map[string]bool, next []string, meta map[string]any) (*checkpoint.Checkpoint, map[string]string) {
	versions := make(map[string]string, len(prev)+len(changed))
	for k, v := range prev {
		versions[k] = v
	}
	newVersions := make(map[string]string, len(changed))
	for ch := range changed {
		v := checkpoint.NextVersion(versions[ch])
		versions[ch] = v
		newVersions[ch] = v
	}
	return &checkpoint.Checkpoint{
		ID:              checkpoint.NewCheckpointID(),
		ChannelVersions: versions,
		Next:            next,
		Metadata:        meta,
	}, newVersions
}

func taskID(checkpointID, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(checkpointID+"\x00"+name)).String()
}

func interruptID(taskID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID+"\x00"+strconv.Itoa(index))).String()
}

func copyState(in map[string]any) State {
	out := make(State, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
