package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitConnected(t *testing.T) {
	t.Parallel()

	t.Run("returns once connected", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(&fakeDialer{})
		defer m.Disconnect()

		m.Connect()
		require.NoError(t, m.WaitConnected(context.Background(), time.Second))
	})

	t.Run("times out when never connected", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(&fakeDialer{})
		err := m.WaitConnected(context.Background(), 60*time.Millisecond)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(&fakeDialer{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := m.WaitConnected(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
