package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
)

func newConnection(st *settings, m *metrics.Metrics) *stream.ConnectionManager {
	c := st.cfg.Connection
	return stream.NewConnectionManager(st.cfg.URL,
		stream.WithLogger(st.logger),
		stream.WithMetrics(m),
		stream.WithHeartbeatInterval(c.HeartbeatInterval),
		stream.WithBackoff(c.BackoffBase, c.BackoffCap),
		stream.WithMaxReconnectAttempts(c.MaxReconnectAttempts),
		stream.WithDialTimeout(c.DialTimeout),
	)
}

func newSyncer(st *settings, conn session.Connection, m *metrics.Metrics) *session.Syncer {
	return session.NewSyncer(conn,
		session.WithLogger(st.logger),
		session.WithMetrics(m),
		session.WithCountdown(st.cfg.Approval.Countdown, st.cfg.Approval.Tick),
		session.WithHistoryCapacity(st.cfg.Cache.HistoryCapacity),
		session.WithMaxSessions(st.cfg.Cache.MaxSessions),
	)
}

// oneShot connects, selects sessionID, runs send and then waits up to wait
// for settled to hold or for the backend to report an error.
func oneShot(ctx context.Context, st *settings, sessionID string, wait time.Duration,
	send func(*session.Syncer) bool, settled func(session.Snapshot) bool) (session.Snapshot, error) {
	mgr := newConnection(st, nil)
	syncer := newSyncer(st, mgr, nil)

	updates := make(chan struct{}, 1)
	unsubscribe := syncer.Subscribe(func(session.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	syncer.Start()
	defer syncer.Close()

	if err := mgr.WaitConnected(ctx, st.cfg.Connection.ReadyTimeout); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to connect to %s: %w", st.cfg.URL, err)
	}
	syncer.SetSession(sessionID)

	if !send(syncer) {
		return syncer.Snapshot(), fmt.Errorf("failed to send to %s", st.cfg.URL)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		snap := syncer.Snapshot()
		if snap.LastError != "" {
			return snap, fmt.Errorf("backend error: %s", snap.LastError)
		}
		if settled != nil && settled(snap) {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-timer.C:
			if settled != nil {
				return snap, fmt.Errorf("no confirmation from backend within %s", wait)
			}
			return snap, nil
		case <-updates:
		}
	}
}

// finished reports whether a session reached a status it will not leave on
// its own.
func finished(s state.SessionStatus) bool {
	switch s {
	case state.SessionStatusCompleted, state.SessionStatusFailed, state.SessionStatusStopped:
		return true
	}
	return false
}
