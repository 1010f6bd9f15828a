package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextWithTestDeadline_WithFallback(t *testing.T) {
	fallback := 100 * time.Millisecond
	ctx, cancel := ContextWithTestDeadline(t, fallback)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")

	remaining := time.Until(deadline)
	assert.Greater(t, remaining.Seconds(), 0.0, "deadline should be in the future")
	assert.LessOrEqual(t, remaining, fallback, "deadline should not exceed fallback")
}

func TestContextWithTestDeadlineBuffer_WithFallback(t *testing.T) {
	fallback := 200 * time.Millisecond
	buffer := 50 * time.Millisecond

	ctx, cancel := ContextWithTestDeadlineBuffer(t, fallback, buffer)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")
	assert.LessOrEqual(t, time.Until(deadline), fallback)
}

func TestEventContext(t *testing.T) {
	ctx, cancel := EventContext(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), DefaultEventTimeout)
}

func TestSessionContext(t *testing.T) {
	ctx, cancel := SessionContext(t)
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := ContextWithTestDeadline(t, time.Minute)
	cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should be done after cancel")
	}
}
