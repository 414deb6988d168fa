// Package checkpoint defines the persisted snapshots an execution engine
// writes after every step, and the Saver that turns live channel values into
// stored blobs and back.
//
// A checkpoint is identified by (thread, namespace, id). The thread is the
// flow run ID. Channel values are stored once per (channel, version) as
// blobs, so a checkpoint only references the versions it saw; values that
// did not change between steps are never written twice. Writes produced by
// tasks that have not yet been folded into a checkpoint are kept as pending
// writes so that a resumed step can skip work that already finished.
package checkpoint

import (
	"context"
	"time"
)

// Checkpoint is an immutable snapshot of channel versions for one step.
type Checkpoint struct {
	ThreadID string
	NS       string
	ID       string
	ParentID string

	// Kind is an optional tag naming what wrote the checkpoint. Empty is
	// stored as NULL.
	Kind string

	// ChannelVersions maps each channel to the version visible at this step.
	ChannelVersions map[string]string

	// Next lists the nodes scheduled to run after this checkpoint.
	Next []string

	// Metadata carries engine bookkeeping such as the source and step number.
	Metadata map[string]any

	CreatedAt time.Time
}

// Blob is one serialized channel value.
type Blob struct {
	ThreadID string
	NS       string
	Channel  string
	Version  string
	Encoding string
	Data     []byte
}

// PendingWrite is a channel write produced by a task against a checkpoint.
type PendingWrite struct {
	ThreadID     string
	NS           string
	CheckpointID string
	TaskID       string
	TaskPath     string
	Idx          int
	Channel      string
	Encoding     string
	Data         []byte
}

// ListOpts controls checkpoint listing.
type ListOpts struct {
	// Before restricts results to checkpoints with an ID lower than this one.
	Before string
	// Limit is the maximum number of checkpoints to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for checkpoints.
type Store interface {
	// PutCheckpoint persists a checkpoint together with its new blobs in a
	// single unit. Existing checkpoints and blobs are left untouched.
	PutCheckpoint(ctx context.Context, cp *Checkpoint, blobs []*Blob) error

	// GetCheckpoint retrieves a checkpoint by key.
	GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (*Checkpoint, error)

	// LatestCheckpoint returns the newest checkpoint of a thread, or nil if
	// the thread has none.
	LatestCheckpoint(ctx context.Context, threadID, ns string) (*Checkpoint, error)

	// ListCheckpoints returns checkpoints newest first.
	ListCheckpoints(ctx context.Context, threadID, ns string, opts ListOpts) ([]*Checkpoint, error)

	// GetBlobs returns the blobs named by a channel → version map. Missing
	// blobs are skipped.
	GetBlobs(ctx context.Context, threadID, ns string, versions map[string]string) ([]*Blob, error)

	// PutWrites upserts pending writes keyed by (checkpoint, task, idx).
	PutWrites(ctx context.Context, writes []*PendingWrite) error

	// ListWrites returns the pending writes of a checkpoint ordered by task
	// ID and index.
	ListWrites(ctx context.Context, threadID, ns, checkpointID string) ([]*PendingWrite, error)

	// DeleteThread removes every checkpoint, blob and write of a thread.
	DeleteThread(ctx context.Context, threadID string) error
}
