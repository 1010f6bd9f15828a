package session

import (
	"encoding/json"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeConn is an in-memory Connection. Frames delivered with deliver are
// dispatched synchronously on the calling goroutine.
type fakeConn struct {
	dispatcher *stream.Dispatcher

	mu           sync.Mutex
	state        stream.State
	sent         [][]byte
	listeners    []func(stream.State)
	connects     int
	disconnects  int
	connectState stream.State
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		dispatcher:   stream.NewDispatcher(quietLogger(), nil),
		state:        stream.StateIdle,
		connectState: stream.StateConnected,
	}
}

func (f *fakeConn) Connect() {
	f.mu.Lock()
	f.connects++
	st := f.connectState
	f.mu.Unlock()
	f.setState(st)
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.setState(stream.StateIdle)
}

func (f *fakeConn) State() stream.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stream.StateConnected {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	f.sent = append(f.sent, data)
	return true
}

func (f *fakeConn) Subscribe(event string, h stream.Handler) func() {
	return f.dispatcher.Subscribe(event, h)
}

func (f *fakeConn) OnStateChange(fn func(stream.State)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners[idx] = nil
	}
}

func (f *fakeConn) setState(st stream.State) {
	f.mu.Lock()
	f.state = st
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(st)
		}
	}
}

func (f *fakeConn) deliver(t *testing.T, frame string) {
	t.Helper()
	msg, err := stream.ParseMessage([]byte(frame))
	require.NoError(t, err)
	f.dispatcher.Dispatch(msg)
}

// sentMessages returns every sent frame decoded as a generic map.
func (f *fakeConn) sentMessages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// sentEvents returns the event names of every sent frame, in order.
func (f *fakeConn) sentEvents() []string {
	var events []string
	for _, m := range f.sentMessages() {
		events = append(events, m["event"].(string))
	}
	return events
}

func (f *fakeConn) countEvent(event string) int {
	n := 0
	for _, e := range f.sentEvents() {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeConn) handlerCount(event string) int {
	return f.dispatcher.HandlerCount(event)
}
