// Package contextx provides context helpers for cleanup paths.
package contextx

import (
	"context"
	"time"
)

// Detach returns a context for cleanup work (lock release, tombstone writes)
// that survives cancellation of the request context but is still bounded by
// timeout. Tracing values from the parent are preserved. The caller must call
// the cancel function.
func Detach(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
