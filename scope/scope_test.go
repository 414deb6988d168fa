package scope_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/scope"
)

func TestCaptureRestore(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", scope.Capture(ctx))
	assert.Equal(t, ctx, scope.Restore(ctx, ""))

	ctx = scope.Restore(ctx, "u1")
	assert.Equal(t, "u1", scope.Capture(ctx))
	assert.True(t, scope.Request(ctx).Authenticated)
}

func TestCapture_Anonymous(t *testing.T) {
	ctx := scope.WithRequest(context.Background(), policy.Request{Subject: "guest"})
	assert.Equal(t, "", scope.Capture(ctx))
	assert.Equal(t, "guest", scope.Request(ctx).Subject)
}
