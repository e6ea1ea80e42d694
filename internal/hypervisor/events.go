package hypervisor

import "sync"

// handlers is a small typed event list. Subscribing returns an
// unsubscribe func so one-shot listeners can opt out, which the engine
// relies on for deferred CLI window launches and autostart sequencing.
type handlers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (h *handlers[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

// fire invokes every subscriber outside the list lock. Subscribers added
// or removed during delivery take effect on the next fire.
func (h *handlers[T]) fire(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
