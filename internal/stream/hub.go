package stream

import "sync"

// Subscription is one observer's buffered feed from a Hub.
type Subscription[T any] struct {
	ch chan T
}

// C returns the receive side of the subscription. It is closed on
// Unsubscribe.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Hub fans values out to any number of subscribers. Sends never block:
// a subscriber whose buffer is full misses that message, so the step
// loop never waits on a slow observer.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new observer with the given buffer size.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the observer and closes its channel. Calling it
// twice for the same subscription is safe.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Broadcast delivers the value to every subscriber with buffer room.
func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub[T]) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
