package board

import (
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
)

const DefaultFrameInterval = 16 * time.Millisecond

// Batcher coalesces renderer changes that arrive between frames and applies
// them to the store once per frame, preserving arrival order.
type Batcher struct {
	store    *Store
	clock    clock.Clock
	interval time.Duration

	applyMu sync.Mutex

	mu     sync.Mutex
	queue  []Change
	frame  clock.Timer
	closed bool
}

func NewBatcher(store *Store, clk clock.Clock, interval time.Duration) *Batcher {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Batcher{store: store, clock: clk, interval: interval}
}

func (b *Batcher) Enqueue(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, changes...)
	if b.frame == nil {
		b.frame = b.clock.AfterFunc(b.interval, b.onFrame)
	}
}

func (b *Batcher) onFrame() {
	b.Flush()
}

// Flush applies everything queued so far right away.
func (b *Batcher) Flush() []string {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	if b.frame != nil {
		b.frame.Stop()
		b.frame = nil
	}
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return b.store.ApplyChanges(batch)
}

func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close flushes pending changes and refuses further ones.
func (b *Batcher) Close() {
	b.Flush()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
