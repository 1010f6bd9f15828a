package stream

import (
	"fmt"
	"sync"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
)

// Handler receives one dispatched message.
type Handler func(msg *Message)

type registration struct {
	id      uint64
	handler Handler
}

// Dispatcher routes messages by event name to registered handlers.
// Handlers for one event run in registration order; a panicking handler is
// recovered and logged so the remaining handlers still run.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   uint64

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]registration),
		logger:   logger,
		metrics:  m,
	}
}

// Subscribe registers handler for event and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (d *Dispatcher) Subscribe(event string, handler Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], registration{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			regs := d.handlers[event]
			for i, r := range regs {
				if r.id == id {
					d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(d.handlers[event]) == 0 {
				delete(d.handlers, event)
			}
		})
	}
}

// HandlerCount returns the number of handlers registered for event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// Dispatch invokes every handler registered for msg.Event. The handler list
// is snapshotted first, so handlers may subscribe or unsubscribe freely.
func (d *Dispatcher) Dispatch(msg *Message) {
	d.mu.RLock()
	regs := make([]registration, len(d.handlers[msg.Event]))
	copy(regs, d.handlers[msg.Event])
	d.mu.RUnlock()

	d.metrics.ObserveReceived(msg.Event)
	if len(regs) == 0 {
		d.logger.Debug("no handlers for event", "event", msg.Event)
		d.metrics.ObserveDropped("unhandled")
		return
	}

	for _, r := range regs {
		d.invoke(r.handler, msg)
	}
}

func (d *Dispatcher) invoke(handler Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "event", msg.Event, "panic", fmt.Sprint(r))
			d.metrics.ObserveHandlerPanic(msg.Event)
		}
	}()
	handler(msg)
}
