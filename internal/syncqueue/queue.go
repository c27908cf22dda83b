// Package syncqueue persists whiteboard snapshots to the remote store through
// a single-flight FIFO queue with bounded retries, gated on a paid
// entitlement.
package syncqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
)

const (
	DefaultRetryDelay     = time.Second
	DefaultMaxRetries     = 3
	DefaultPromptCooldown = time.Hour

	// PromptKey holds the unix-millisecond time of the last upgrade prompt.
	PromptKey = "lastUpgradePrompt"
)

type Saver interface {
	Save(ctx context.Context, state codec.State) error
}

type SaverFunc func(ctx context.Context, state codec.State) error

func (f SaverFunc) Save(ctx context.Context, state codec.State) error {
	return f(ctx, state)
}

type Options struct {
	Saver Saver
	// Entitled reports whether the user may save remotely. Nil means never.
	Entitled func() bool
	// KV persists the prompt cooldown across restarts. Optional.
	KV             localkv.KV
	Clock          clock.Clock
	Logger         Logger
	RetryDelay     time.Duration
	MaxRetries     int
	PromptCooldown time.Duration
	// OnError runs for every surfaced error, outside the queue lock.
	OnError func(SyncError)
}

type SaveOptions struct {
	// SuppressUpgradePrompt is set when the plans window is already open.
	SuppressUpgradePrompt bool
}

// Item is one queued snapshot.
type Item struct {
	State       codec.State
	RetryCount  int
	LastAttempt time.Time
}

type Queue struct {
	saver          Saver
	entitled       func() bool
	kv             localkv.KV
	clock          clock.Clock
	logger         Logger
	retryDelay     time.Duration
	maxRetries     int
	promptCooldown time.Duration
	onError        func(SyncError)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	items      []*Item
	current    *Item
	inFlight   bool
	idle       chan struct{}
	closed     bool
	errs       []SyncError
	lastPrompt time.Time
}

func New(opts Options) (*Queue, error) {
	if opts.Saver == nil {
		return nil, fmt.Errorf("saver is required")
	}
	if opts.Entitled == nil {
		opts.Entitled = func() bool { return false }
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.PromptCooldown <= 0 {
		opts.PromptCooldown = DefaultPromptCooldown
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		saver:          opts.Saver,
		entitled:       opts.Entitled,
		kv:             opts.KV,
		clock:          opts.Clock,
		logger:         opts.Logger,
		retryDelay:     opts.RetryDelay,
		maxRetries:     opts.MaxRetries,
		promptCooldown: opts.PromptCooldown,
		onError:        opts.OnError,
		ctx:            ctx,
		cancel:         cancel,
		idle:           idle,
	}, nil
}

// QueueSave appends a snapshot. In-flight work is never replaced. Without an
// entitlement the remote store is not contacted and ErrNotEntitled is
// returned.
func (q *Queue) QueueSave(state codec.State, opts SaveOptions) error {
	if !q.entitled() {
		q.maybePrompt(opts)
		return ErrNotEntitled
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("save queue is closed")
	}
	q.items = append(q.items, &Item{State: state})
	if !q.inFlight {
		q.inFlight = true
		q.idle = make(chan struct{})
		go q.run()
	}
	return nil
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		q.current = nil
		if len(q.items) == 0 || q.closed {
			q.items = nil
			q.inFlight = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.current = item
		q.mu.Unlock()

		if !q.entitled() {
			dropped := q.drain() + 1
			q.logf("entitlement lost; dropped %d queued save(s)", dropped)
			continue
		}

		item.LastAttempt = q.clock.Now()
		err := q.saver.Save(q.ctx, item.State)
		if err == nil || q.ctx.Err() != nil {
			continue
		}
		item.RetryCount++
		switch kind := Classify(err); {
		case kind != KindTransient:
			q.surface(SyncError{Kind: kind, Err: err, Attempts: item.RetryCount, At: q.clock.Now()})
		case item.RetryCount >= q.maxRetries:
			q.surface(SyncError{
				Kind:     KindFatal,
				Err:      fmt.Errorf("%w: %w", ErrRetryExhausted, err),
				Attempts: item.RetryCount,
				At:       q.clock.Now(),
			})
		default:
			q.logf("save attempt %d failed, retrying: %v", item.RetryCount, err)
			q.mu.Lock()
			q.current = nil
			if !q.closed {
				q.items = append(q.items, item)
			}
			q.mu.Unlock()
			q.wait(q.retryDelay)
		}
	}
}

func (q *Queue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) wait(d time.Duration) {
	done := make(chan struct{})
	timer := q.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
	case <-q.ctx.Done():
		timer.Stop()
	}
}

func (q *Queue) maybePrompt(opts SaveOptions) {
	if opts.SuppressUpgradePrompt {
		return
	}
	now := q.clock.Now()
	q.mu.Lock()
	last := q.lastPrompt
	if stored, ok := q.storedPrompt(); ok && stored.After(last) {
		last = stored
	}
	if !last.IsZero() && now.Sub(last) < q.promptCooldown {
		q.mu.Unlock()
		return
	}
	q.lastPrompt = now
	q.mu.Unlock()
	if q.kv != nil {
		if err := q.kv.Set(PromptKey, []byte(strconv.FormatInt(now.UnixMilli(), 10))); err != nil {
			q.logf("record upgrade prompt time: %v", err)
		}
	}
	q.surface(SyncError{Kind: KindPolicy, Err: ErrUpgradeRequired, At: now})
}

func (q *Queue) storedPrompt() (time.Time, bool) {
	if q.kv == nil {
		return time.Time{}, false
	}
	raw, ok, err := q.kv.Get(PromptKey)
	if err != nil {
		q.logf("read upgrade prompt time: %v", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Report surfaces an error that happened outside the queue, such as a load
// failure, through the same channel as save failures.
func (q *Queue) Report(e SyncError) {
	if e.At.IsZero() {
		e.At = q.clock.Now()
	}
	q.surface(e)
}

func (q *Queue) surface(e SyncError) {
	q.logf("sync error: %v", &e)
	q.mu.Lock()
	q.errs = append(q.errs, e)
	q.mu.Unlock()
	if q.onError != nil {
		q.onError(e)
	}
}

// Errors returns the surfaced errors that have not been dismissed.
func (q *Queue) Errors() []SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]SyncError(nil), q.errs...)
}

func (q *Queue) Dismiss(i int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.errs) {
		return false
	}
	q.errs = append(q.errs[:i], q.errs[i+1:]...)
	return true
}

// Pending reports queued items plus the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.current != nil {
		n++
	}
	return n
}

// WaitIdle blocks until the queue is empty and nothing is in flight.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.inFlight && len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close aborts retry waits and drops anything not yet attempted.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
}

func (q *Queue) logf(format string, args ...any) {
	if q.logger == nil {
		return
	}
	q.logger.Printf(format, args...)
}
