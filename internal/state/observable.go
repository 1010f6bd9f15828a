package state

import "sync"

// Observable holds a value and notifies listeners whenever it is replaced.
// Listeners run synchronously on the goroutine calling Set, outside the lock.
type Observable[T any] struct {
	mu        sync.Mutex
	value     T
	nextID    int
	listeners map[int]func(T)
	order     []int
}

// NewObservable creates an observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, listeners: make(map[int]func(T))}
}

// Snapshot returns the current value.
func (o *Observable[T]) Snapshot() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set replaces the value and notifies listeners in subscription order.
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	o.value = v
	fns := make([]func(T), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.listeners[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Update replaces the value with fn(old) when fn reports a change, then
// notifies listeners. Concurrent updates are applied one at a time, but
// notifications from different goroutines may reach a listener out of order;
// listeners that need the newest value should re-read Snapshot.
func (o *Observable[T]) Update(fn func(old T) (T, bool)) bool {
	o.mu.Lock()
	next, changed := fn(o.value)
	if !changed {
		o.mu.Unlock()
		return false
	}
	o.value = next
	fns := make([]func(T), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.listeners[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (o *Observable[T]) Subscribe(fn func(T)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.order = append(o.order, id)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.listeners, id)
			for i, v := range o.order {
				if v == id {
					o.order = append(o.order[:i:i], o.order[i+1:]...)
					break
				}
			}
		})
	}
}
