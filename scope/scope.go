// Package scope carries the caller's identity on context.Context so that
// lower layers can attribute runs to their owner without threading the
// request through every call.
package scope

import (
	"context"

	"github.com/xraph/graflow/policy"
)

type ctxKey struct{}

// WithRequest attaches the caller's request to ctx.
func WithRequest(ctx context.Context, req policy.Request) context.Context {
	return context.WithValue(ctx, ctxKey{}, req)
}

// Request returns the request attached to ctx. An absent request is an
// anonymous, unauthenticated one.
func Request(ctx context.Context) policy.Request {
	req, _ := ctx.Value(ctxKey{}).(policy.Request)
	return req
}

// Capture returns the owner identity carried by ctx, or "" when the caller
// is anonymous.
func Capture(ctx context.Context) string {
	req := Request(ctx)
	if !req.Authenticated {
		return ""
	}
	return req.Subject
}

// Restore attaches an authenticated identity to ctx. An empty owner leaves
// ctx unchanged.
func Restore(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return WithRequest(ctx, policy.Request{Subject: owner, Authenticated: true})
}
