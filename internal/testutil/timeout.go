package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for test operations.
const (
	// DefaultEventTimeout bounds waiting for a single frame or snapshot
	// change from the backend.
	DefaultEventTimeout = 5 * time.Second

	// DefaultSessionTimeout bounds running a whole scripted session.
	DefaultSessionTimeout = 30 * time.Second

	// DefaultTestBuffer is the buffer time subtracted from test deadline
	// to allow for cleanup operations before the test times out.
	DefaultTestBuffer = 2 * time.Second
)

// ContextWithTestDeadline creates a context that respects the test's deadline.
// It subtracts a buffer from the test deadline to allow time for cleanup.
// If the test has no deadline, it falls back to the provided fallback duration.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    ctx, cancel := testutil.ContextWithTestDeadline(t, 5*time.Second)
//	    defer cancel()
//	    // ... test code using ctx
//	}
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer creates a context that respects the test's deadline
// with a custom buffer. If the test has no deadline, or the deadline minus the
// buffer is already past, it uses the fallback.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if time.Until(adjusted) > 0 && time.Until(adjusted) < fallback {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// EventContext creates a context for waiting on one backend event.
func EventContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultEventTimeout)
}

// SessionContext creates a context for running a scripted session to the end.
func SessionContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultSessionTimeout)
}
