// ABOUTME: Explicit context plumbing for the per-request session binding.
// ABOUTME: The gatekeeper attaches the session; tool handlers read it back.

package session

import (
	"context"
)

// sessionContextKey is the key type for storing a *Session in context.Context.
type sessionContextKey struct{}

// WithSession returns a new context with the session attached. The binding
// lives and dies with the request context, so it can never leak into an
// unrelated call on a reused worker.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext retrieves the session from the context, returning nil if not
// present. Tool handlers must treat nil as an internal error, never as a
// fallback to an unauthenticated default.
func FromContext(ctx context.Context) *Session {
	val := ctx.Value(sessionContextKey{})
	if val == nil {
		return nil
	}
	sess, ok := val.(*Session)
	if !ok {
		return nil
	}
	return sess
}
