package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/graflow/schema"
)

type topicState struct {
	Topic     string   `json:"topic"`
	Ideas     []string `json:"ideas"`
	Iteration int      `json:"iteration"`
}

func TestStruct_Validate(t *testing.T) {
	s := schema.For[topicState]("topic",
		schema.WithDefaults(func() topicState { return topicState{Ideas: []string{}} }),
	)

	got, err := s.Validate(map[string]any{"topic": "go", "unknown": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"topic":     "go",
		"ideas":     []any{},
		"iteration": int64(0),
	}, got)
}

func TestStruct_Decode(t *testing.T) {
	s := schema.For[topicState]("topic")

	v, err := s.Decode(map[string]any{"topic": "go", "iteration": 3})
	require.NoError(t, err)
	assert.Equal(t, topicState{Topic: "go", Iteration: 3}, v)
}

func TestStruct_TypeMismatch(t *testing.T) {
	s := schema.For[topicState]("topic")

	_, err := s.Validate(map[string]any{"iteration": "three"})
	require.Error(t, err)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "topic", verr.Schema)
}

func TestStruct_Check(t *testing.T) {
	errEmpty := errors.New("topic is required")
	s := schema.For[topicState]("topic", schema.WithCheck(func(v topicState) error {
		if v.Topic == "" {
			return errEmpty
		}
		return nil
	}))

	_, err := s.Validate(map[string]any{})
	assert.ErrorIs(t, err, errEmpty)

	_, err = s.Validate(map[string]any{"topic": "x"})
	assert.NoError(t, err)
}

func TestPassthrough(t *testing.T) {
	got, err := schema.Passthrough{}.Validate(map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, got)
}
