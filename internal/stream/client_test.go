package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestManager(d Dialer, opts ...Option) *ConnectionManager {
	base := []Option{
		WithDialer(d),
		WithLogger(quietLogger()),
		WithHeartbeatInterval(time.Hour),
		WithBackoff(2*time.Millisecond, 10*time.Millisecond),
	}
	return NewConnectionManager("ws://test.invalid/ws", append(base, opts...)...)
}

func connectAndWait(t *testing.T, m *ConnectionManager) {
	t.Helper()
	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := time.Second
	ceiling := 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
		{-1, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, base, ceiling), "attempt %d", tt.attempt)
	}

	prev := time.Duration(0)
	for n := 0; n < 5; n++ {
		d := Backoff(n, base, ceiling)
		assert.GreaterOrEqual(t, d, prev, "delay must not decrease")
		assert.LessOrEqual(t, d, ceiling)
		prev = d
	}
}

func TestNewConnectionManagerDefaults(t *testing.T) {
	t.Parallel()

	m := NewConnectionManager("ws://localhost:8000/ws")
	assert.Equal(t, "ws://localhost:8000/ws", m.URL())
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, DefaultHeartbeatInterval, m.heartbeatInterval)
	assert.Equal(t, DefaultBackoffBase, m.backoffBase)
	assert.Equal(t, DefaultBackoffCap, m.backoffCap)
	assert.Equal(t, DefaultMaxReconnectAttempts, m.maxAttempts)
	assert.IsType(t, &WebSocketDialer{}, m.dialer)
}

func TestConnectSendsHandshake(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	connectAndWait(t, m)

	require.Eventually(t, func() bool {
		return len(d.last().sentEvents()) > 0
	}, waitFor, tick)
	assert.Equal(t, EventConnect, d.last().sentEvents()[0])
	assert.Equal(t, 0, m.Attempts())
}

func TestConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	m.Connect()
	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)
	m.Connect()

	assert.Equal(t, 1, d.dialCount())
}

func TestInternalEventsAreNotForwarded(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	var internal, external atomic.Int32
	m.Subscribe(EventPong, func(*Message) { internal.Add(1) })
	m.Subscribe(EventConnected, func(*Message) { internal.Add(1) })
	m.Subscribe("task_start", func(*Message) { external.Add(1) })

	connectAndWait(t, m)
	tr := d.last()
	tr.deliver(`{"event":"pong"}`)
	tr.deliver(`{"event":"connected"}`)
	tr.deliver(`{"event":"task_start","task":{"task_id":"t1"}}`)

	require.Eventually(t, func() bool { return external.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(0), internal.Load())
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	var got []string
	var mu sync.Mutex
	m.Subscribe("progress", func(msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Raw))
	})

	connectAndWait(t, m)
	tr := d.last()
	tr.deliver(`not json`)
	tr.deliver(`{"no_event":true}`)
	tr.deliver(`{"event":"progress","data":{"percentage":10}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, tick)
	assert.True(t, m.IsConnected(), "protocol errors must not drop the connection")
}

func TestHandlersRunInOrderAndSurvivePanics(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	m.Subscribe("completed", func(*Message) { record("first") })
	m.Subscribe("completed", func(*Message) {
		record("second")
		panic("boom")
	})
	m.Subscribe("completed", func(*Message) { record("third") })

	connectAndWait(t, m)
	d.last().deliver(`{"event":"completed"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, waitFor, tick)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSendWhenNotConnected(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeDialer{})
	assert.False(t, m.Send(map[string]string{"event": "subscribe"}))
}

func TestSendWhenConnected(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	connectAndWait(t, m)
	assert.True(t, m.Send(map[string]string{"event": "subscribe", "session_id": "s1"}))
	assert.Contains(t, d.last().sentEvents(), "subscribe")
}

func TestSendRejectsUnmarshalableValues(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	connectAndWait(t, m)
	assert.False(t, m.Send(map[string]any{"event": make(chan int)}))
}

func TestHeartbeatSendsPing(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d, WithHeartbeatInterval(5*time.Millisecond))
	defer m.Disconnect()

	connectAndWait(t, m)
	require.Eventually(t, func() bool {
		pings := 0
		for _, e := range d.last().sentEvents() {
			if e == EventPing {
				pings++
			}
		}
		return pings >= 2
	}, waitFor, tick)
}

func TestReconnectsAfterClose(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Disconnect()

	connectAndWait(t, m)
	first := d.last()
	first.Close()

	require.Eventually(t, func() bool {
		return d.dialCount() == 2 && m.IsConnected()
	}, waitFor, tick)
	assert.Equal(t, 0, m.Attempts(), "attempts reset after a successful open")
	assert.NotSame(t, first, d.last())
}

func TestHeartbeatStopsAfterClose(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d,
		WithHeartbeatInterval(5*time.Millisecond),
		WithBackoff(time.Hour, time.Hour),
	)
	defer m.Disconnect()

	connectAndWait(t, m)
	tr := d.last()
	tr.Close()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)

	m.mu.Lock()
	assert.Nil(t, m.heartbeatStop)
	assert.NotNil(t, m.reconnectTimer)
	m.mu.Unlock()
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{fail: true}
	m := newTestManager(d, WithMaxReconnectAttempts(3))
	defer m.Disconnect()

	m.Connect()
	require.Eventually(t, func() bool { return m.State() == StateError }, waitFor, tick)

	// one initial dial plus three automatic reconnects
	assert.Equal(t, 4, d.dialCount())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, d.dialCount(), "no automatic reconnect after the ceiling")

	err := m.WaitConnected(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrConnectionExhausted)
}

func TestManualConnectRecoversFromError(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{fail: true}
	m := newTestManager(d, WithMaxReconnectAttempts(1))
	defer m.Disconnect()

	m.Connect()
	require.Eventually(t, func() bool { return m.State() == StateError }, waitFor, tick)

	d.setFail(false)
	connectAndWait(t, m)
	assert.Equal(t, 0, m.Attempts())
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d, WithBackoff(30*time.Millisecond, 30*time.Millisecond))

	connectAndWait(t, m)
	d.last().Close()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)

	m.Disconnect()
	assert.Equal(t, StateIdle, m.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "pending reconnect must be canceled")
	assert.Equal(t, StateIdle, m.State())
}

func TestDisconnectClosesTransport(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)

	connectAndWait(t, m)
	tr := d.last()
	m.Disconnect()

	assert.True(t, tr.isClosed())
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.Send(PingMessage()))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "a deliberate disconnect does not reconnect")
}

func TestStateListeners(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	m := newTestManager(d)

	var mu sync.Mutex
	var states []State
	unsubscribe := m.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	connectAndWait(t, m)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, waitFor, tick)
	m.Disconnect()

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateIdle}, states)
	mu.Unlock()

	unsubscribe()
	connectAndWait(t, m)
	m.Disconnect()

	mu.Lock()
	assert.Len(t, states, 3)
	mu.Unlock()
}
