// Package autosave decides when local edits are worth persisting: it
// debounces them, drops cosmetic and over-limit saves, mirrors accepted
// content to a local backup and hands whole-board snapshots to the save
// queue.
package autosave

import (
	"strings"
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
)

// Debounced is a trailing-edge debounce around fn. Rapid calls collapse to the
// last value, delivered wait after the last call. It owns at most one pending
// timer.
type Debounced[T any] struct {
	clock clock.Clock
	wait  time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	pending bool
	value   T
}

func NewDebounced[T any](clk clock.Clock, wait time.Duration, fn func(T)) *Debounced[T] {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debounced[T]{clock: clk, wait: wait, fn: fn}
}

func (d *Debounced[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.value = v
	d.pending = true
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debounced[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fn(v)
}

// Flush runs the pending call now, on the calling goroutine. It reports
// whether anything was pending.
func (d *Debounced[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	v := d.value
	d.stopLocked()
	d.mu.Unlock()
	d.fn(v)
	return true
}

func (d *Debounced[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Debounced[T]) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
	var zero T
	d.value = zero
}

func (d *Debounced[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// HasContentChanged compares two HTML strings ignoring whitespace runs and
// surrounding whitespace.
func HasContentChanged(old, new string) bool {
	return normalizeWhitespace(old) != normalizeWhitespace(new)
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
