package autosave

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

const DefaultBoardWait = 2 * time.Second

type Enqueuer interface {
	QueueSave(state codec.State, opts syncqueue.SaveOptions) error
}

type BoardSaverOptions struct {
	Store *board.Store
	// Snapshot returns the full state to persist, viewport included.
	Snapshot func() codec.State
	Queue    Enqueuer
	Clock    clock.Clock
	Wait     time.Duration
	Logger   Logger
}

// BoardSaver watches the store and queues a snapshot once mutations settle.
// Snapshots identical to the last queued one are skipped.
type BoardSaver struct {
	store     *board.Store
	snapshot  func() codec.State
	queue     Enqueuer
	logger    Logger
	debounced *Debounced[struct{}]
	stop      func()

	mu     sync.Mutex
	last   []byte
	queued int
}

func NewBoardSaver(opts BoardSaverOptions) *BoardSaver {
	if opts.Wait <= 0 {
		opts.Wait = DefaultBoardWait
	}
	s := &BoardSaver{
		store:    opts.Store,
		snapshot: opts.Snapshot,
		queue:    opts.Queue,
		logger:   opts.Logger,
	}
	s.debounced = NewDebounced(opts.Clock, opts.Wait, func(struct{}) { s.save() })
	s.stop = opts.Store.Observe(func(board.Mutation) { s.Trigger() })
	return s
}

// Prime records state as already persisted, so loading it does not queue a
// save.
func (s *BoardSaver) Prime(state codec.State) {
	raw, err := codec.Marshal(state)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.last = raw
	s.mu.Unlock()
}

// Trigger schedules a save for changes the store does not see, such as a
// viewport move.
func (s *BoardSaver) Trigger() {
	s.debounced.Call(struct{}{})
}

func (s *BoardSaver) save() {
	state := s.snapshot()
	raw, err := codec.Marshal(state)
	if err != nil {
		s.logf("serialize whiteboard: %v", err)
		return
	}
	s.mu.Lock()
	if bytes.Equal(raw, s.last) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	opts := syncqueue.SaveOptions{SuppressUpgradePrompt: s.store.HasType(board.TypePlans)}
	if err := s.queue.QueueSave(state, opts); err != nil {
		if !errors.Is(err, syncqueue.ErrNotEntitled) {
			s.logf("queue whiteboard save: %v", err)
		}
		return
	}
	s.mu.Lock()
	s.last = raw
	s.queued++
	s.mu.Unlock()
}

// Queued counts snapshots handed to the queue.
func (s *BoardSaver) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

func (s *BoardSaver) Flush() {
	s.debounced.Flush()
}

// Close stops observing the store and flushes a pending save.
func (s *BoardSaver) Close() {
	s.stop()
	s.debounced.Flush()
}

func (s *BoardSaver) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
