package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/longterm"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ flow.Store       = (*Store)(nil)
	_ flowtype.Store   = (*Store)(nil)
	_ checkpoint.Store = (*Store)(nil)
	_ longterm.Store   = (*Store)(nil)
	_ cache.Store      = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	runs      map[string]*flow.Run
	flowTypes map[string]*flowtype.FlowType // key: "namespace:type:version"

	checkpoints map[string]map[string]*checkpoint.Checkpoint // key: thread key → checkpoint ID
	blobs       map[string]*checkpoint.Blob
	writes      map[string]*checkpoint.PendingWrite

	items   map[string]*longterm.Item // key: "prefix\x00key"
	entries map[cache.FullKey]*cache.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*flow.Run),
		flowTypes:   make(map[string]*flowtype.FlowType),
		checkpoints: make(map[string]map[string]*checkpoint.Checkpoint),
		blobs:       make(map[string]*checkpoint.Blob),
		writes:      make(map[string]*checkpoint.PendingWrite),
		items:       make(map[string]*longterm.Item),
		entries:     make(map[cache.FullKey]*cache.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Flow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *flow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return graflow.ErrRunAlreadyExists
	}
	m.runs[key] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.FlowID) (*flow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, graflow.ErrRunNotFound
	}
	return copyRun(r), nil
}

// ListRuns returns runs matching opts, most recently active first.
func (m *Store) ListRuns(_ context.Context, opts flow.ListOpts) ([]*flow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[flow.Status]bool, len(opts.Statuses))
	for _, s := range opts.Statuses {
		statuses[s] = true
	}

	var result []*flow.Run
	for _, r := range m.runs {
		if opts.OwnerID != "" && r.Owner() != opts.OwnerID {
			continue
		}
		if opts.Namespace != "" && r.Namespace != opts.Namespace {
			continue
		}
		if opts.Type != "" && r.Type != opts.Type {
			continue
		}
		if len(statuses) > 0 && !statuses[r.Status] {
			continue
		}
		if opts.ExcludeCancelled && r.Status == flow.StatusCancelled {
			continue
		}
		result = append(result, copyRun(r))
	}

	sort.Slice(result, func(i, j int) bool {
		ai, aj := activity(result[i]), activity(result[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// TransitionRun atomically moves a run between statuses.
func (m *Store) TransitionRun(_ context.Context, runID id.FlowID, from []flow.Status, to flow.Status, at time.Time) (flow.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return "", false, graflow.ErrRunNotFound
	}
	prior := r.Status
	for _, s := range from {
		if s == prior {
			r.Status = to
			if to == flow.StatusRunning {
				t := at
				r.LastResumedAt = &t
			}
			return prior, true, nil
		}
	}
	return prior, false, nil
}

// FinishRun moves a running run to a final or paused status.
func (m *Store) FinishRun(_ context.Context, runID id.FlowID, to flow.Status, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return false, graflow.ErrRunNotFound
	}
	if r.Status != flow.StatusRunning {
		return false, nil
	}
	r.Status = to
	r.ErrorMessage = errMsg
	return true, nil
}

// SetRunStatus sets the status and error message of a run.
func (m *Store) SetRunStatus(_ context.Context, runID id.FlowID, status flow.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return graflow.ErrRunNotFound
	}
	r.Status = status
	r.ErrorMessage = errMsg
	return nil
}

func activity(r *flow.Run) time.Time {
	if r.LastResumedAt != nil {
		return *r.LastResumedAt
	}
	return r.CreatedAt
}

func copyRun(r *flow.Run) *flow.Run {
	cp := *r
	if r.OwnerID != nil {
		o := *r.OwnerID
		cp.OwnerID = &o
	}
	if r.LastResumedAt != nil {
		t := *r.LastResumedAt
		cp.LastResumedAt = &t
	}
	return &cp
}

// ──────────────────────────────────────────────────
// FlowType Store
// ──────────────────────────────────────────────────

func flowTypeKey(namespace, flowType, version string) string {
	return namespace + ":" + flowType + ":" + version
}

// latestOther returns the latest version of (namespace, type) other than
// version, if any. Caller must hold the lock.
func (m *Store) latestOther(namespace, flowType, version string) *flowtype.FlowType {
	for _, ft := range m.flowTypes {
		if ft.Namespace == namespace && ft.Type == flowType && ft.Version != version && ft.IsLatest {
			return ft
		}
	}
	return nil
}

// CreateFlowType persists a new flow type version.
func (m *Store) CreateFlowType(_ context.Context, ft *flowtype.FlowType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ft.Key()
	if _, exists := m.flowTypes[key]; exists {
		return graflow.ErrFlowTypeExists
	}
	if ft.IsLatest && m.latestOther(ft.Namespace, ft.Type, ft.Version) != nil {
		return graflow.ErrLatestConflict
	}
	cp := *ft
	m.flowTypes[key] = &cp
	return nil
}

// GetFlowType retrieves one version.
func (m *Store) GetFlowType(_ context.Context, namespace, flowType, version string) (*flowtype.FlowType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ft, ok := m.flowTypes[flowTypeKey(namespace, flowType, version)]
	if !ok {
		return nil, graflow.ErrFlowTypeNotFound
	}
	cp := *ft
	return &cp, nil
}

// GetLatestFlowType returns the active latest version.
func (m *Store) GetLatestFlowType(_ context.Context, namespace, flowType string) (*flowtype.FlowType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ft := range m.flowTypes {
		if ft.Namespace == namespace && ft.Type == flowType && ft.IsLatest && ft.IsActive {
			cp := *ft
			return &cp, nil
		}
	}
	return nil, graflow.ErrFlowTypeNotFound
}

// UpdateFlowType replaces a stored version.
func (m *Store) UpdateFlowType(_ context.Context, ft *flowtype.FlowType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ft.Key()
	existing, ok := m.flowTypes[key]
	if !ok {
		return graflow.ErrFlowTypeNotFound
	}
	if ft.IsLatest && m.latestOther(ft.Namespace, ft.Type, ft.Version) != nil {
		return graflow.ErrLatestConflict
	}
	cp := *ft
	cp.ID = existing.ID
	cp.CreatedAt = existing.CreatedAt
	m.flowTypes[key] = &cp
	return nil
}

// SetLatestFlowType moves the latest mark to version.
func (m *Store) SetLatestFlowType(_ context.Context, namespace, flowType, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.flowTypes[flowTypeKey(namespace, flowType, version)]
	if !ok {
		return graflow.ErrFlowTypeNotFound
	}
	now := time.Now().UTC()
	if prev := m.latestOther(namespace, flowType, version); prev != nil {
		prev.IsLatest = false
		prev.UpdatedAt = now
	}
	target.IsLatest = true
	target.UpdatedAt = now
	return nil
}

// ListFlowTypes returns versions matching opts.
func (m *Store) ListFlowTypes(_ context.Context, opts flowtype.ListOpts) ([]*flowtype.FlowType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*flowtype.FlowType
	for _, ft := range m.flowTypes {
		if opts.Namespace != "" && ft.Namespace != opts.Namespace {
			continue
		}
		if opts.Type != "" && ft.Type != opts.Type {
			continue
		}
		if opts.ActiveOnly && !ft.IsActive {
			continue
		}
		if opts.LatestOnly && !ft.IsLatest {
			continue
		}
		cp := *ft
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	return result, nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

func threadKey(threadID, ns string) string { return threadID + "\x00" + ns }

func blobKey(threadID, ns, channel, version string) string {
	return strings.Join([]string{threadID, ns, channel, version}, "\x00")
}

func writeKey(w *checkpoint.PendingWrite) string {
	return strings.Join([]string{w.ThreadID, w.NS, w.CheckpointID, w.TaskID, strconv.Itoa(w.Idx)}, "\x00")
}

// PutCheckpoint stores a checkpoint and its blobs. Existing rows win.
func (m *Store) PutCheckpoint(_ context.Context, cp *checkpoint.Checkpoint, blobs []*checkpoint.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tk := threadKey(cp.ThreadID, cp.NS)
	thread, ok := m.checkpoints[tk]
	if !ok {
		thread = make(map[string]*checkpoint.Checkpoint)
		m.checkpoints[tk] = thread
	}
	if _, exists := thread[cp.ID]; !exists {
		thread[cp.ID] = copyCheckpoint(cp)
	}
	for _, b := range blobs {
		k := blobKey(b.ThreadID, b.NS, b.Channel, b.Version)
		if _, exists := m.blobs[k]; exists {
			continue
		}
		bc := *b
		bc.Data = append([]byte(nil), b.Data...)
		m.blobs[k] = &bc
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by key.
func (m *Store) GetCheckpoint(_ context.Context, threadID, ns, checkpointID string) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[threadKey(threadID, ns)][checkpointID]
	if !ok {
		return nil, graflow.ErrCheckpointNotFound
	}
	return copyCheckpoint(cp), nil
}

// LatestCheckpoint returns the newest checkpoint of a thread.
func (m *Store) LatestCheckpoint(_ context.Context, threadID, ns string) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *checkpoint.Checkpoint
	for _, cp := range m.checkpoints[threadKey(threadID, ns)] {
		if latest == nil || cp.ID > latest.ID {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyCheckpoint(latest), nil
}

// ListCheckpoints returns checkpoints newest first.
func (m *Store) ListCheckpoints(_ context.Context, threadID, ns string, opts checkpoint.ListOpts) ([]*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*checkpoint.Checkpoint
	for _, cp := range m.checkpoints[threadKey(threadID, ns)] {
		if opts.Before != "" && cp.ID >= opts.Before {
			continue
		}
		result = append(result, copyCheckpoint(cp))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return paginate(result, 0, opts.Limit), nil
}

// GetBlobs returns the blobs named by versions.
func (m *Store) GetBlobs(_ context.Context, threadID, ns string, versions map[string]string) ([]*checkpoint.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*checkpoint.Blob, 0, len(versions))
	for channel, version := range versions {
		b, ok := m.blobs[blobKey(threadID, ns, channel, version)]
		if !ok {
			continue
		}
		bc := *b
		bc.Data = append([]byte(nil), b.Data...)
		result = append(result, &bc)
	}
	return result, nil
}

// PutWrites upserts pending writes.
func (m *Store) PutWrites(_ context.Context, writes []*checkpoint.PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		wc := *w
		wc.Data = append([]byte(nil), w.Data...)
		m.writes[writeKey(w)] = &wc
	}
	return nil
}

// ListWrites returns the pending writes of a checkpoint.
func (m *Store) ListWrites(_ context.Context, threadID, ns, checkpointID string) ([]*checkpoint.PendingWrite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*checkpoint.PendingWrite
	for _, w := range m.writes {
		if w.ThreadID != threadID || w.NS != ns || w.CheckpointID != checkpointID {
			continue
		}
		wc := *w
		result = append(result, &wc)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TaskID != result[j].TaskID {
			return result[i].TaskID < result[j].TaskID
		}
		return result[i].Idx < result[j].Idx
	})
	return result, nil
}

// DeleteThread removes all checkpoint data of a thread.
func (m *Store) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.checkpoints {
		if strings.HasPrefix(k, threadID+"\x00") {
			delete(m.checkpoints, k)
		}
	}
	for k, b := range m.blobs {
		if b.ThreadID == threadID {
			delete(m.blobs, k)
		}
	}
	for k, w := range m.writes {
		if w.ThreadID == threadID {
			delete(m.writes, k)
		}
	}
	return nil
}

func copyCheckpoint(cp *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	c := *cp
	c.ChannelVersions = make(map[string]string, len(cp.ChannelVersions))
	for k, v := range cp.ChannelVersions {
		c.ChannelVersions[k] = v
	}
	c.Next = append([]string(nil), cp.Next...)
	c.Metadata = make(map[string]any, len(cp.Metadata))
	for k, v := range cp.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// ──────────────────────────────────────────────────
// Long-term Store
// ──────────────────────────────────────────────────

func itemKey(prefix, key string) string { return prefix + "\x00" + key }

// GetItem returns a live item.
func (m *Store) GetItem(_ context.Context, prefix, key string, now time.Time) (*longterm.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[itemKey(prefix, key)]
	if !ok || it.Expired(now) {
		return nil, graflow.ErrItemNotFound
	}
	return copyItem(it), nil
}

// PutItem inserts or replaces an item, keeping its creation time.
func (m *Store) PutItem(_ context.Context, item *longterm.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := itemKey(item.Prefix(), item.Key)
	cp := copyItem(item)
	if existing, ok := m.items[k]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.items[k] = cp
	return nil
}

// DeleteItem removes an item.
func (m *Store) DeleteItem(_ context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, itemKey(prefix, key))
	return nil
}

// SearchItems returns live items under prefix, most recently updated first.
func (m *Store) SearchItems(_ context.Context, prefix string, now time.Time) ([]*longterm.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*longterm.Item
	for _, it := range m.items {
		if it.Expired(now) || !longterm.HasPrefix(it.Prefix(), prefix) {
			continue
		}
		result = append(result, copyItem(it))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return itemKey(result[i].Prefix(), result[i].Key) < itemKey(result[j].Prefix(), result[j].Key)
	})
	return result, nil
}

// ListItemPrefixes returns the distinct prefixes of live items.
func (m *Store) ListItemPrefixes(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	var result []string
	for _, it := range m.items {
		p := it.Prefix()
		if it.Expired(now) || seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}

// RefreshItemTTL pushes the expiry of TTL'd items forward from now.
func (m *Store) RefreshItemTTL(_ context.Context, prefix string, keys []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		it, ok := m.items[itemKey(prefix, k)]
		if !ok || it.TTLMinutes == nil {
			continue
		}
		it.ExpiresAt = longterm.ExpiryFor(now, it.TTLMinutes)
	}
	return nil
}

// SweepExpiredItems deletes expired items.
func (m *Store) SweepExpiredItems(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, it := range m.items {
		if it.Expired(now) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func copyItem(it *longterm.Item) *longterm.Item {
	c := *it
	c.Namespace = append([]string(nil), it.Namespace...)
	c.Value = make(map[string]any, len(it.Value))
	for k, v := range it.Value {
		c.Value[k] = v
	}
	if it.ExpiresAt != nil {
		t := *it.ExpiresAt
		c.ExpiresAt = &t
	}
	if it.TTLMinutes != nil {
		ttl := *it.TTLMinutes
		c.TTLMinutes = &ttl
	}
	return &c
}

// ──────────────────────────────────────────────────
// Cache Store
// ──────────────────────────────────────────────────

// GetCacheEntries returns the entries present for keys.
func (m *Store) GetCacheEntries(_ context.Context, keys []cache.FullKey) ([]*cache.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cache.Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := m.entries[k]; ok {
			ec := *e
			result = append(result, &ec)
		}
	}
	return result, nil
}

// SetCacheEntries upserts entries.
func (m *Store) SetCacheEntries(_ context.Context, entries []*cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		ec := *e
		ec.Data = append([]byte(nil), e.Data...)
		m.entries[e.FullKey] = &ec
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries expired at now.
func (m *Store) DeleteExpiredCacheEntries(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// DeleteCacheNamespaces removes every entry in namespaces.
func (m *Store) DeleteCacheNamespaces(_ context.Context, namespaces []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		drop[ns] = true
	}
	var n int64
	for k := range m.entries {
		if drop[k.Namespace] {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// DeleteAllCacheEntries empties the cache.
func (m *Store) DeleteAllCacheEntries(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.entries))
	m.entries = make(map[cache.FullKey]*cache.Entry)
	return n, nil
}

// CacheStats counts entries relative to now.
func (m *Store) CacheStats(_ context.Context, now time.Time) (cache.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st cache.Stats
	for _, e := range m.entries {
		st.Total++
		if e.Expired(now) {
			st.Expired++
		} else {
			st.Active++
		}
	}
	return st, nil
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
