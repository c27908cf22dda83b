package autosave

import (
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
)

const DefaultContentWait = time.Second

type ContentSaverOptions struct {
	Store     *board.Store
	Sanitizer board.Sanitizer
	Limiter   *Limiter
	Backup    *Backup
	Clock     clock.Clock
	Wait      time.Duration
	// OnSaved runs after each accepted save, outside any lock.
	OnSaved func(id string)
}

// ContentSaver is the editor-facing save path for one window.
type ContentSaver struct {
	id        string
	store     *board.Store
	sanitizer board.Sanitizer
	limiter   *Limiter
	backup    *Backup
	onSaved   func(string)
	debounced *Debounced[string]

	mu       sync.Mutex
	last     string
	accepted int
	closed   bool
}

func NewContentSaver(id, initial string, opts ContentSaverOptions) *ContentSaver {
	if opts.Sanitizer == nil {
		opts.Sanitizer = board.NewSanitizer()
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultContentWait
	}
	s := &ContentSaver{
		id:        id,
		store:     opts.Store,
		sanitizer: opts.Sanitizer,
		limiter:   opts.Limiter,
		backup:    opts.Backup,
		onSaved:   opts.OnSaved,
		last:      opts.Sanitizer.SanitizeContent(initial),
	}
	s.debounced = NewDebounced(opts.Clock, opts.Wait, s.save)
	return s
}

// OnUpdate receives the editor's serialized HTML after every edit.
func (s *ContentSaver) OnUpdate(html string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.debounced.Call(html)
}

func (s *ContentSaver) save(html string) {
	clean := s.sanitizer.SanitizeContent(html)
	s.mu.Lock()
	if !HasContentChanged(s.last, clean) {
		s.mu.Unlock()
		return
	}
	if s.limiter != nil && !s.limiter.Allow(s.id) {
		s.mu.Unlock()
		return
	}
	s.last = clean
	s.accepted++
	s.mu.Unlock()

	if s.store != nil && !s.store.Update(s.id, board.WindowPatch{Content: &clean}) {
		return
	}
	s.backup.Save(s.id, clean)
	if s.onSaved != nil {
		s.onSaved(s.id)
	}
}

// Accepted counts saves that passed change detection and the limiter.
func (s *ContentSaver) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *ContentSaver) Pending() bool {
	return s.debounced.Pending()
}

func (s *ContentSaver) Flush() {
	s.debounced.Flush()
}

// Close flushes any pending save synchronously, writes a final backup and
// stops accepting edits.
func (s *ContentSaver) Close() {
	s.debounced.Flush()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	last := s.last
	s.mu.Unlock()
	s.backup.Save(s.id, last)
}
