package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
)

var errTransportClosed = errors.New("transport closed")

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeTransport is an in-memory Transport. Frames pushed with deliver are
// returned by ReadMessage; Close (from either side) ends the read loop.
type fakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) deliver(frame string) {
	f.inbound <- []byte(frame)
}

// sentEvents returns the event names of every written frame, in order.
func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, 0, len(f.written))
	for _, w := range f.written {
		var env Envelope
		if err := json.Unmarshal(w, &env); err == nil {
			events = append(events, env.Event)
		}
	}
	return events
}

// fakeDialer hands out fakeTransports, or fails while fail is set.
type fakeDialer struct {
	mu         sync.Mutex
	fail       bool
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
