package stream

import (
	"context"
	"fmt"
	"time"
)

// DefaultReadyTimeout is the ceiling for WaitConnected when no timeout is given.
const DefaultReadyTimeout = 10 * time.Second

// readyPollInterval is how often WaitConnected samples the state.
const readyPollInterval = 50 * time.Millisecond

// WaitConnected polls until the manager is connected, the timeout elapses or
// ctx is canceled. It returns ErrConnectionExhausted as soon as the manager
// gives up reconnecting, and a wrapped ErrNotConnected on timeout.
func (m *ConnectionManager) WaitConnected(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		switch m.State() {
		case StateConnected:
			return nil
		case StateError:
			return ErrConnectionExhausted
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w after %s", ErrNotConnected, timeout)
		case <-ticker.C:
		}
	}
}
