package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/flow"
	"github.com/xraph/graflow/flowtype"
	"github.com/xraph/graflow/id"
	"github.com/xraph/graflow/longterm"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:graflow_flows"`

	ID            string  `bun:"id,pk"`
	OwnerID       *string `bun:"owner_id"`
	Namespace     string  `bun:"namespace,notnull"`
	FlowType      string  `bun:"flow_type,notnull"`
	Version       string  `bun:"version,notnull"`
	DisplayName   string  `bun:"display_name,notnull"`
	CoverImageURL string  `bun:"cover_image_url,notnull"`
	Status        string  `bun:"status,notnull"`
	ErrorMessage  string  `bun:"error_message,notnull"`
	CreatedAt     int64   `bun:"created_at,notnull"`
	LastResumedAt *int64  `bun:"last_resumed_at"`
}

func toRunModel(r *flow.Run) *runModel {
	return &runModel{
		ID:            r.ID.String(),
		OwnerID:       r.OwnerID,
		Namespace:     r.Namespace,
		FlowType:      r.Type,
		Version:       r.Version,
		DisplayName:   r.DisplayName,
		CoverImageURL: r.CoverImageURL,
		Status:        string(r.Status),
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     toMillis(r.CreatedAt),
		LastResumedAt: toMillisPtr(r.LastResumedAt),
	}
}

func fromRunModel(m *runModel) (*flow.Run, error) {
	runID, err := id.ParseFlowID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: parse run id %q: %w", m.ID, err)
	}
	return &flow.Run{
		ID:            runID,
		OwnerID:       m.OwnerID,
		Namespace:     m.Namespace,
		Type:          m.FlowType,
		Version:       m.Version,
		DisplayName:   m.DisplayName,
		CoverImageURL: m.CoverImageURL,
		Status:        flow.Status(m.Status),
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     fromMillis(m.CreatedAt),
		LastResumedAt: fromMillisPtr(m.LastResumedAt),
	}, nil
}

// ── Flow type model ───────────────────────────────────────────────

type flowTypeModel struct {
	bun.BaseModel `bun:"table:graflow_flow_types"`

	ID             string `bun:"id,pk"`
	Namespace      string `bun:"namespace,notnull"`
	FlowType       string `bun:"flow_type,notnull"`
	Version        string `bun:"version,notnull"`
	IsLatest       bool   `bun:"is_latest,notnull"`
	IsActive       bool   `bun:"is_active,notnull"`
	Executable     string `bun:"executable,notnull"`
	SchemaName     string `bun:"schema_name,notnull"`
	MutatePolicy   string `bun:"mutate_policy,notnull"`
	ResumePolicy   string `bun:"resume_policy,notnull"`
	MutateThrottle string `bun:"mutate_throttle,notnull"`
	ResumeThrottle string `bun:"resume_throttle,notnull"`
	DisplayName    string `bun:"display_name,notnull"`
	Description    string `bun:"description,notnull"`
	CreatedAt      int64  `bun:"created_at,notnull"`
	UpdatedAt      int64  `bun:"updated_at,notnull"`
}

func toFlowTypeModel(ft *flowtype.FlowType) *flowTypeModel {
	return &flowTypeModel{
		ID:             ft.ID.String(),
		Namespace:      ft.Namespace,
		FlowType:       ft.Type,
		Version:        ft.Version,
		IsLatest:       ft.IsLatest,
		IsActive:       ft.IsActive,
		Executable:     ft.Executable,
		SchemaName:     ft.Schema,
		MutatePolicy:   ft.MutatePolicy,
		ResumePolicy:   ft.ResumePolicy,
		MutateThrottle: ft.MutateThrottle,
		ResumeThrottle: ft.ResumeThrottle,
		DisplayName:    ft.DisplayName,
		Description:    ft.Description,
		CreatedAt:      toMillis(ft.CreatedAt),
		UpdatedAt:      toMillis(ft.UpdatedAt),
	}
}

func fromFlowTypeModel(m *flowTypeModel) (*flowtype.FlowType, error) {
	ftID, err := id.ParseFlowTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: parse flow type id %q: %w", m.ID, err)
	}
	return &flowtype.FlowType{
		ID:             ftID,
		Namespace:      m.Namespace,
		Type:           m.FlowType,
		Version:        m.Version,
		IsLatest:       m.IsLatest,
		IsActive:       m.IsActive,
		Executable:     m.Executable,
		Schema:         m.SchemaName,
		MutatePolicy:   m.MutatePolicy,
		ResumePolicy:   m.ResumePolicy,
		MutateThrottle: m.MutateThrottle,
		ResumeThrottle: m.ResumeThrottle,
		DisplayName:    m.DisplayName,
		Description:    m.Description,
		CreatedAt:      fromMillis(m.CreatedAt),
		UpdatedAt:      fromMillis(m.UpdatedAt),
	}, nil
}

// ── Checkpoint models ─────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:checkpoints"`

	ThreadID        string `bun:"thread_id,pk"`
	NS              string `bun:"checkpoint_ns,pk"`
	ID              string `bun:"checkpoint_id,pk"`
	ParentID        string `bun:"parent_checkpoint_id,notnull"`
	Kind            string `bun:"type,nullzero"`
	ChannelVersions string `bun:"channel_versions,notnull"`
	NextNodes       string `bun:"next_nodes,notnull"`
	Metadata        string `bun:"metadata,notnull"`
	CreatedAt       int64  `bun:"created_at,notnull"`
}

func toCheckpointModel(cp *checkpoint.Checkpoint) (*checkpointModel, error) {
	versions := cp.ChannelVersions
	if versions == nil {
		versions = map[string]string{}
	}
	v, err := json.Marshal(versions)
	if err != nil {
		return nil, fmt.Errorf("encode channel versions: %w", err)
	}
	next := cp.Next
	if next == nil {
		next = []string{}
	}
	n, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode next nodes: %w", err)
	}
	meta, err := encodeMap(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &checkpointModel{
		ThreadID:        cp.ThreadID,
		NS:              cp.NS,
		ID:              cp.ID,
		ParentID:        cp.ParentID,
		Kind:            cp.Kind,
		ChannelVersions: string(v),
		NextNodes:       string(n),
		Metadata:        meta,
		CreatedAt:       toMillis(cp.CreatedAt),
	}, nil
}

func fromCheckpointModel(m *checkpointModel) (*checkpoint.Checkpoint, error) {
	cp := &checkpoint.Checkpoint{
		ThreadID:  m.ThreadID,
		NS:        m.NS,
		ID:        m.ID,
		ParentID:  m.ParentID,
		Kind:      m.Kind,
		CreatedAt: fromMillis(m.CreatedAt),
	}
	if err := json.Unmarshal([]byte(m.ChannelVersions), &cp.ChannelVersions); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: decode channel versions: %w", err)
	}
	if err := json.Unmarshal([]byte(m.NextNodes), &cp.Next); err != nil {
		return nil, fmt.Errorf("graflow/sqlite: decode next nodes: %w", err)
	}
	meta, err := decodeMap(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: decode metadata: %w", err)
	}
	cp.Metadata = meta
	return cp, nil
}

type blobModel struct {
	bun.BaseModel `bun:"table:checkpoint_blobs"`

	ThreadID string `bun:"thread_id,pk"`
	NS       string `bun:"checkpoint_ns,pk"`
	Channel  string `bun:"channel,pk"`
	Version  string `bun:"version,pk"`
	Type     string `bun:"type,notnull"`
	Blob     []byte `bun:"blob"`
}

func toBlobModel(b *checkpoint.Blob) blobModel {
	return blobModel{
		ThreadID: b.ThreadID,
		NS:       b.NS,
		Channel:  b.Channel,
		Version:  b.Version,
		Type:     b.Encoding,
		Blob:     b.Data,
	}
}

func fromBlobModel(m *blobModel) *checkpoint.Blob {
	return &checkpoint.Blob{
		ThreadID: m.ThreadID,
		NS:       m.NS,
		Channel:  m.Channel,
		Version:  m.Version,
		Encoding: m.Type,
		Data:     m.Blob,
	}
}

type writeModel struct {
	bun.BaseModel `bun:"table:checkpoint_writes"`

	ThreadID     string `bun:"thread_id,pk"`
	NS           string `bun:"checkpoint_ns,pk"`
	CheckpointID string `bun:"checkpoint_id,pk"`
	TaskID       string `bun:"task_id,pk"`
	Idx          int    `bun:"idx,pk"`
	Channel      string `bun:"channel,notnull"`
	Type         string `bun:"type,notnull"`
	Blob         []byte `bun:"blob"`
	TaskPath     string `bun:"task_path,notnull"`
}

func toWriteModel(w *checkpoint.PendingWrite) writeModel {
	return writeModel{
		ThreadID:     w.ThreadID,
		NS:           w.NS,
		CheckpointID: w.CheckpointID,
		TaskID:       w.TaskID,
		Idx:          w.Idx,
		Channel:      w.Channel,
		Type:         w.Encoding,
		Blob:         w.Data,
		TaskPath:     w.TaskPath,
	}
}

func fromWriteModel(m *writeModel) *checkpoint.PendingWrite {
	return &checkpoint.PendingWrite{
		ThreadID:     m.ThreadID,
		NS:           m.NS,
		CheckpointID: m.CheckpointID,
		TaskID:       m.TaskID,
		TaskPath:     m.TaskPath,
		Idx:          m.Idx,
		Channel:      m.Channel,
		Encoding:     m.Type,
		Data:         m.Blob,
	}
}

// ── Item model ────────────────────────────────────────────────────

type itemModel struct {
	bun.BaseModel `bun:"table:store"`

	Prefix     string   `bun:"prefix,pk"`
	Key        string   `bun:"key,pk"`
	Value      string   `bun:"value,notnull"`
	CreatedAt  int64    `bun:"created_at,notnull"`
	UpdatedAt  int64    `bun:"updated_at,notnull"`
	ExpiresAt  *int64   `bun:"expires_at"`
	TTLMinutes *float64 `bun:"ttl_minutes"`
}

func toItemModel(it *longterm.Item) (*itemModel, error) {
	value, err := encodeMap(it.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return &itemModel{
		Prefix:     it.Prefix(),
		Key:        it.Key,
		Value:      value,
		CreatedAt:  toMillis(it.CreatedAt),
		UpdatedAt:  toMillis(it.UpdatedAt),
		ExpiresAt:  toMillisPtr(it.ExpiresAt),
		TTLMinutes: it.TTLMinutes,
	}, nil
}

func fromItemModel(m *itemModel) (*longterm.Item, error) {
	value, err := decodeMap(m.Value)
	if err != nil {
		return nil, fmt.Errorf("graflow/sqlite: decode item %s/%s: %w", m.Prefix, m.Key, err)
	}
	return &longterm.Item{
		Namespace:  longterm.SplitPrefix(m.Prefix),
		Key:        m.Key,
		Value:      value,
		CreatedAt:  fromMillis(m.CreatedAt),
		UpdatedAt:  fromMillis(m.UpdatedAt),
		ExpiresAt:  fromMillisPtr(m.ExpiresAt),
		TTLMinutes: m.TTLMinutes,
	}, nil
}

// ── Cache entry model ─────────────────────────────────────────────

type cacheEntryModel struct {
	bun.BaseModel `bun:"table:graflow_cache_entries"`

	Namespace string `bun:"namespace,pk"`
	Key       string `bun:"key,pk"`
	Encoding  string `bun:"encoding,notnull"`
	Data      []byte `bun:"data"`
	CreatedAt int64  `bun:"created_at,notnull"`
	ExpiresAt *int64 `bun:"expires_at"`
}

func toCacheEntryModel(e *cache.Entry) cacheEntryModel {
	return cacheEntryModel{
		Namespace: e.Namespace,
		Key:       e.Key,
		Encoding:  e.Encoding,
		Data:      e.Data,
		CreatedAt: toMillis(e.CreatedAt),
		ExpiresAt: toMillisPtr(e.ExpiresAt),
	}
}

func fromCacheEntryModel(m *cacheEntryModel) *cache.Entry {
	return &cache.Entry{
		FullKey:   cache.FullKey{Namespace: m.Namespace, Key: m.Key},
		Encoding:  m.Encoding,
		Data:      m.Data,
		CreatedAt: fromMillis(m.CreatedAt),
		ExpiresAt: fromMillisPtr(m.ExpiresAt),
	}
}
