// ABOUTME: Caller identity for requests that passed bearer authentication
// ABOUTME: Provides WithCaller/CallerFrom for propagating it via context

package auth

import (
	"context"
)

// Caller is the authenticated client of the gateway HTTP API, e.g. the
// Matrix frontend or an operator console.
type Caller struct {
	Subject string // "sub" claim of the gateway token
}

type callerKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom retrieves the Caller from the context, returning nil if not present.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}
