package checkpoint_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/graflow/checkpoint"
	"github.com/xraph/graflow/serde"
	"github.com/xraph/graflow/store/memory"
)

func TestSaver_PutGetTuple(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []checkpoint.SaverOption
	}{
		{name: "msgpack"},
		{name: "json", opts: []checkpoint.SaverOption{checkpoint.WithSerializer(serde.New(serde.WithJSON()))}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			saver := checkpoint.NewSaver(memory.New(), tc.opts...)
			ctx := context.Background()
			base := checkpoint.Config{ThreadID: "thread-1"}

			tuple, err := saver.GetTuple(ctx, base)
			require.NoError(t, err)
			assert.Nil(t, tuple)

			v1 := checkpoint.NextVersion("")
			cfg1, err := saver.Put(ctx, base, &checkpoint.Checkpoint{
				ChannelVersions: map[string]string{"topic": v1},
				Next:            []string{"a"},
				Metadata:        map[string]any{"step": -1},
			}, map[string]any{"topic": "go"}, map[string]string{"topic": v1})
			require.NoError(t, err)

			v2 := checkpoint.NextVersion("")
			cfg2, err := saver.Put(ctx, cfg1, &checkpoint.Checkpoint{
				ChannelVersions: map[string]string{"topic": v1, "ideas": v2},
				Next:            []string{"b"},
			}, map[string]any{"topic": "go", "ideas": []any{"x"}}, map[string]string{"ideas": v2})
			require.NoError(t, err)

			tuple, err = saver.GetTuple(ctx, base)
			require.NoError(t, err)
			require.NotNil(t, tuple)
			assert.Equal(t, cfg2, tuple.Config)
			require.NotNil(t, tuple.ParentConfig)
			assert.Equal(t, cfg1, *tuple.ParentConfig)
			assert.Equal(t, map[string]any{"topic": "go", "ideas": []any{"x"}}, tuple.Values)
			assert.Equal(t, []string{"b"}, tuple.Checkpoint.Next)

			first, err := saver.GetTuple(ctx, cfg1)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"topic": "go"}, first.Values)
			assert.Nil(t, first.ParentConfig)
			assert.EqualValues(t, -1, first.Checkpoint.Metadata["step"])

			list, err := saver.List(ctx, base, checkpoint.ListOpts{})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, cfg2.CheckpointID, list[0].Config.CheckpointID)

			list, err = saver.List(ctx, base, checkpoint.ListOpts{Before: cfg2.CheckpointID})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, cfg1.CheckpointID, list[0].Config.CheckpointID)
		})
	}
}

func TestSaver_EmptyChannel(t *testing.T) {
	saver := checkpoint.NewSaver(memory.New())
	ctx := context.Background()
	v := checkpoint.NextVersion("")

	cfg, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t"}, &checkpoint.Checkpoint{
		ChannelVersions: map[string]string{"gone": v},
	}, map[string]any{}, map[string]string{"gone": v})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, cfg)
	require.NoError(t, err)
	assert.NotContains(t, tuple.Values, "gone")
}

func TestSaver_PutWrites(t *testing.T) {
	saver := checkpoint.NewSaver(memory.New())
	ctx := context.Background()

	err := saver.PutWrites(ctx, checkpoint.Config{ThreadID: "t"}, "task", "node", nil)
	require.Error(t, err, "writes need a checkpoint")

	cfg, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t"}, &checkpoint.Checkpoint{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, saver.PutWrites(ctx, cfg, "task", "node", []checkpoint.Write{
		{Channel: "answer", Value: "42"},
		{Channel: checkpoint.ChannelInterrupt, Value: "first"},
	}))
	// A reserved channel keeps one record per task.
	require.NoError(t, saver.PutWrites(ctx, cfg, "task", "node", []checkpoint.Write{
		{Channel: checkpoint.ChannelInterrupt, Value: "second"},
	}))

	tuple, err := saver.GetTuple(ctx, cfg)
	require.NoError(t, err)
	byChannel := map[string]any{}
	for _, w := range tuple.PendingWrites {
		assert.Equal(t, "task", w.TaskID)
		assert.Equal(t, "node", w.TaskPath)
		byChannel[w.Channel] = w.Value
	}
	assert.Equal(t, map[string]any{"answer": "42", checkpoint.ChannelInterrupt: "second"}, byChannel)
	assert.Len(t, tuple.PendingWrites, 2)
}

func TestSaver_DeleteThread(t *testing.T) {
	saver := checkpoint.NewSaver(memory.New())
	ctx := context.Background()

	cfg, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t"}, &checkpoint.Checkpoint{}, nil, nil)
	require.NoError(t, err)
	_, err = saver.Put(ctx, checkpoint.Config{ThreadID: "other"}, &checkpoint.Checkpoint{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, saver.DeleteThread(ctx, cfg.ThreadID))
	tuple, err := saver.GetTuple(ctx, checkpoint.Config{ThreadID: "t"})
	require.NoError(t, err)
	assert.Nil(t, tuple)

	tuple, err = saver.GetTuple(ctx, checkpoint.Config{ThreadID: "other"})
	require.NoError(t, err)
	assert.NotNil(t, tuple)
}

func TestNextVersion(t *testing.T) {
	v1 := checkpoint.NextVersion("")
	v2 := checkpoint.NextVersion(v1)
	assert.True(t, strings.HasPrefix(v1, strings.Repeat("0", 31)+"1."))
	assert.Len(t, v1, 32+1+16)
	assert.Less(t, v1, v2)
	assert.NotEqual(t, checkpoint.NextVersion(v1), checkpoint.NextVersion(v1))
}
