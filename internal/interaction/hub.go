// Package interaction turns pointer events into window drags and resizes.
package interaction

import (
	"sort"
	"sync"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

// Listener receives pointer events from anywhere on the page, not just over
// the window that started a gesture.
type Listener interface {
	PointerMove(screen geometry.Point)
	PointerUp(screen geometry.Point)
}

// Hub is the registry of global pointer listeners.
type Hub struct {
	mu        sync.Mutex
	listeners map[int]Listener
	next      int
}

func NewHub() *Hub {
	return &Hub{listeners: map[int]Listener{}}
}

// Register adds l and returns the func that removes it. The returned func is
// safe to call more than once.
func (h *Hub) Register(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.listeners[id] = l
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
		})
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub) Move(screen geometry.Point) {
	for _, l := range h.snapshot() {
		l.PointerMove(screen)
	}
}

func (h *Hub) Up(screen geometry.Point) {
	for _, l := range h.snapshot() {
		l.PointerUp(screen)
	}
}

func (h *Hub) snapshot() []Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.listeners[id])
	}
	return out
}
