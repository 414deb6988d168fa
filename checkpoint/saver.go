package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/graflow/serde"
)

// Reserved write channels. Their writes use a fixed negative index so that
// a replayed task overwrites its earlier record instead of adding one.
const (
	ChannelError     = "__error__"
	ChannelInterrupt = "__interrupt__"
	ChannelResume    = "__resume__"
	ChannelDone      = "__done__"
)

var reservedIdx = map[string]int{
	ChannelError:     -1,
	ChannelDone:      -2,
	ChannelInterrupt: -3,
	ChannelResume:    -4,
}

// encodingEmpty marks a channel that was versioned without a value.
const encodingEmpty = "empty"

// Config addresses a checkpoint. An empty CheckpointID means the latest.
type Config struct {
	ThreadID     string
	NS           string
	CheckpointID string
}

// Write is a decoded pending write.
type Write struct {
	TaskID   string
	TaskPath string
	Channel  string
	Value    any
}

// Tuple is a checkpoint with its reconstructed channel values and the
// pending writes recorded against it.
type Tuple struct {
	Config        Config
	ParentConfig  *Config
	Checkpoint    *Checkpoint
	Values        map[string]any
	PendingWrites []Write
}

// Saver serializes channel values into a Store.
type Saver struct {
	store Store
	serde serde.Serializer
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithSerializer replaces the default msgpack serializer.
func WithSerializer(s serde.Serializer) SaverOption {
	return func(sv *Saver) { sv.serde = s }
}

// NewSaver returns a Saver over store.
func NewSaver(store Store, opts ...SaverOption) *Saver {
	s := &Saver{store: store, serde: serde.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying checkpoint store.
func (s *Saver) Store() Store { return s.store }

// Put writes cp as the child of cfg's checkpoint. Only channels named in
// newVersions are serialized; a channel with a new version but no value is
// stored as empty. The returned Config addresses the new checkpoint.
func (s *Saver) Put(ctx context.Context, cfg Config, cp *Checkpoint, values map[string]any, newVersions map[string]string) (Config, error) {
	stored := *cp
	stored.ThreadID = cfg.ThreadID
	stored.NS = cfg.NS
	stored.ParentID = cfg.CheckpointID
	if stored.ID == "" {
		stored.ID = NewCheckpointID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.ChannelVersions = copyVersions(cp.ChannelVersions)

	blobs := make([]*Blob, 0, len(newVersions))
	for channel, version := range newVersions {
		b := &Blob{ThreadID: cfg.ThreadID, NS: cfg.NS, Channel: channel, Version: version}
		v, ok := values[channel]
		if !ok {
			b.Encoding = encodingEmpty
		} else {
			enc, data, err := s.serde.DumpsTyped(v)
			if err != nil {
				return Config{}, fmt.Errorf("checkpoint: serialize channel %q: %w", channel, err)
			}
			b.Encoding, b.Data = enc, data
		}
		blobs = append(blobs, b)
	}

	if err := s.store.PutCheckpoint(ctx, &stored, blobs); err != nil {
		return Config{}, err
	}
	return Config{ThreadID: cfg.ThreadID, NS: cfg.NS, CheckpointID: stored.ID}, nil
}

// GetTuple loads the checkpoint addressed by cfg, or the latest one when
// cfg.CheckpointID is empty. It returns nil when the thread has no
// checkpoints.
func (s *Saver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	var (
		cp  *Checkpoint
		err error
	)
	if cfg.CheckpointID == "" {
		cp, err = s.store.LatestCheckpoint(ctx, cfg.ThreadID, cfg.NS)
	} else {
		cp, err = s.store.GetCheckpoint(ctx, cfg.ThreadID, cfg.NS, cfg.CheckpointID)
	}
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return s.tuple(ctx, cp)
}

// List returns tuples for a thread, newest first.
func (s *Saver) List(ctx context.Context, cfg Config, opts ListOpts) ([]*Tuple, error) {
	cps, err := s.store.ListCheckpoints(ctx, cfg.ThreadID, cfg.NS, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*Tuple, 0, len(cps))
	for _, cp := range cps {
		t, err := s.tuple(ctx, cp)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// PutWrites records writes made by a task against cfg's checkpoint.
func (s *Saver) PutWrites(ctx context.Context, cfg Config, taskID, taskPath string, writes []Write) error {
	if cfg.CheckpointID == "" {
		return fmt.Errorf("checkpoint: put writes: missing checkpoint id")
	}
	rows := make([]*PendingWrite, 0, len(writes))
	for i, w := range writes {
		enc, data, err := s.serde.DumpsTyped(w.Value)
		if err != nil {
			return fmt.Errorf("checkpoint: serialize write %q: %w", w.Channel, err)
		}
		idx, ok := reservedIdx[w.Channel]
		if !ok {
			idx = i
		}
		rows = append(rows, &PendingWrite{
			ThreadID:     cfg.ThreadID,
			NS:           cfg.NS,
			CheckpointID: cfg.CheckpointID,
			TaskID:       taskID,
			TaskPath:     taskPath,
			Idx:          idx,
			Channel:      w.Channel,
			Encoding:     enc,
			Data:         data,
		})
	}
	return s.store.PutWrites(ctx, rows)
}

// DeleteThread removes all persisted state of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	return s.store.DeleteThread(ctx, threadID)
}

func (s *Saver) tuple(ctx context.Context, cp *Checkpoint) (*Tuple, error) {
	blobs, err := s.store.GetBlobs(ctx, cp.ThreadID, cp.NS, cp.ChannelVersions)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(blobs))
	for _, b := range blobs {
		if b.Encoding == encodingEmpty {
			continue
		}
		v, err := s.serde.LoadsTyped(b.Encoding, b.Data)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: load channel %q: %w", b.Channel, err)
		}
		values[b.Channel] = v
	}

	rows, err := s.store.ListWrites(ctx, cp.ThreadID, cp.NS, cp.ID)
	if err != nil {
		return nil, err
	}
	writes := make([]Write, 0, len(rows))
	for _, w := range rows {
		v, err := s.serde.LoadsTyped(w.Encoding, w.Data)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: load write %q: %w", w.Channel, err)
		}
		writes = append(writes, Write{TaskID: w.TaskID, TaskPath: w.TaskPath, Channel: w.Channel, Value: v})
	}

	t := &Tuple{
		Config:        Config{ThreadID: cp.ThreadID, NS: cp.NS, CheckpointID: cp.ID},
		Checkpoint:    cp,
		Values:        values,
		PendingWrites: writes,
	}
	if cp.ParentID != "" {
		t.ParentConfig = &Config{ThreadID: cp.ThreadID, NS: cp.NS, CheckpointID: cp.ParentID}
	}
	return t, nil
}

func copyVersions(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
