package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
)

type recordingSaver struct {
	mu       sync.Mutex
	calls    []string
	active   int32
	overlap  int32
	failures map[string]int
	err      error
	gate     chan struct{}
}

func (s *recordingSaver) Save(ctx context.Context, state codec.State) error {
	if atomic.AddInt32(&s.active, 1) > 1 {
		atomic.StoreInt32(&s.overlap, 1)
	}
	defer atomic.AddInt32(&s.active, -1)
	if s.gate != nil {
		<-s.gate
	}
	label := stateLabel(state)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, label)
	if s.failures[label] > 0 {
		s.failures[label]--
		if s.err != nil {
			return s.err
		}
		return fmt.Errorf("network down")
	}
	return nil
}

func (s *recordingSaver) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func labelled(label string) codec.State {
	state := codec.Empty()
	state.Nodes = []board.Node{{ID: label}}
	return state
}

func stateLabel(state codec.State) string {
	if len(state.Nodes) == 0 {
		return ""
	}
	return state.Nodes[0].ID
}

func newTestQueue(t *testing.T, saver Saver, opts Options) *Queue {
	t.Helper()
	opts.Saver = saver
	if opts.Entitled == nil {
		opts.Entitled = func() bool { return true }
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	q, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}

func TestQueueSavesInOrderOneAtATime(t *testing.T) {
	saver := &recordingSaver{gate: make(chan struct{})}
	q := newTestQueue(t, saver, Options{})

	for _, label := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.QueueSave(labelled(label), SaveOptions{}))
	}
	assert.Equal(t, 4, q.Pending())
	close(saver.gate)
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "b", "c", "d"}, saver.Calls())
	assert.Zero(t, atomic.LoadInt32(&saver.overlap), "saves overlapped")
	assert.Empty(t, q.Errors())
	assert.Zero(t, q.Pending())
}

func TestQueueRequeuesFailedItemAtTail(t *testing.T) {
	saver := &recordingSaver{failures: map[string]int{"a": 1}, gate: make(chan struct{})}
	q := newTestQueue(t, saver, Options{})

	require.NoError(t, q.QueueSave(labelled("a"), SaveOptions{}))
	require.NoError(t, q.QueueSave(labelled("b"), SaveOptions{}))
	close(saver.gate)
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "b", "a"}, saver.Calls())
	assert.Empty(t, q.Errors())
}

func TestQueueDropsAfterMaxRetries(t *testing.T) {
	saver := &recordingSaver{failures: map[string]int{"a": 100}}
	var surfaced []SyncError
	var mu sync.Mutex
	q := newTestQueue(t, saver, Options{OnError: func(e SyncError) {
		mu.Lock()
		surfaced = append(surfaced, e)
		mu.Unlock()
	}})

	require.NoError(t, q.QueueSave(labelled("a"), SaveOptions{}))
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "a", "a"}, saver.Calls())
	errs := q.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, KindFatal, errs[0].Kind)
	assert.Equal(t, 3, errs[0].Attempts)
	assert.True(t, errors.Is(&errs[0], ErrRetryExhausted))

	mu.Lock()
	assert.Len(t, surfaced, 1)
	mu.Unlock()

	require.True(t, q.Dismiss(0))
	assert.Empty(t, q.Errors())
	assert.False(t, q.Dismiss(0))
}

func TestQueueDoesNotRetryFatalErrors(t *testing.T) {
	saver := &recordingSaver{failures: map[string]int{"a": 5}, err: codec.ErrCorrupt}
	q := newTestQueue(t, saver, Options{})

	require.NoError(t, q.QueueSave(labelled("a"), SaveOptions{}))
	require.NoError(t, q.QueueSave(labelled("b"), SaveOptions{}))
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "b"}, saver.Calls())
	errs := q.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, KindFatal, errs[0].Kind)
	assert.ErrorIs(t, &errs[0], codec.ErrCorrupt)
}

func TestQueueRestartsWorkerAfterIdle(t *testing.T) {
	saver := &recordingSaver{}
	q := newTestQueue(t, saver, Options{})
	require.NoError(t, q.QueueSave(labelled("a"), SaveOptions{}))
	waitIdle(t, q)
	require.NoError(t, q.QueueSave(labelled("b"), SaveOptions{}))
	waitIdle(t, q)
	assert.Equal(t, []string{"a", "b"}, saver.Calls())
}

func TestQueueWithoutEntitlementNeverSaves(t *testing.T) {
	saver := &recordingSaver{}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	kv := localkv.NewMemory()
	q := newTestQueue(t, saver, Options{
		Entitled: func() bool { return false },
		Clock:    clk,
		KV:       kv,
	})

	err := q.QueueSave(labelled("a"), SaveOptions{})
	require.ErrorIs(t, err, ErrNotEntitled)
	require.Len(t, q.Errors(), 1)
	assert.ErrorIs(t, &q.Errors()[0], ErrUpgradeRequired)
	assert.Equal(t, KindPolicy, q.Errors()[0].Kind)

	clk.Advance(30 * time.Minute)
	require.ErrorIs(t, q.QueueSave(labelled("b"), SaveOptions{}), ErrNotEntitled)
	assert.Len(t, q.Errors(), 1, "prompt must respect the cooldown")

	clk.Advance(31 * time.Minute)
	require.ErrorIs(t, q.QueueSave(labelled("c"), SaveOptions{SuppressUpgradePrompt: true}), ErrNotEntitled)
	assert.Len(t, q.Errors(), 1, "suppressed calls must not prompt")

	require.ErrorIs(t, q.QueueSave(labelled("d"), SaveOptions{}), ErrNotEntitled)
	assert.Len(t, q.Errors(), 2)

	assert.Empty(t, saver.Calls())
	raw, ok, err := kv.Get(PromptKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprint(clk.Now().UnixMilli()), string(raw))
}

func TestPromptCooldownSurvivesRestart(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	kv := localkv.NewMemory()
	opts := Options{Entitled: func() bool { return false }, Clock: clk, KV: kv}

	first := newTestQueue(t, &recordingSaver{}, opts)
	_ = first.QueueSave(labelled("a"), SaveOptions{})
	require.Len(t, first.Errors(), 1)

	clk.Advance(10 * time.Minute)
	second := newTestQueue(t, &recordingSaver{}, opts)
	_ = second.QueueSave(labelled("a"), SaveOptions{})
	assert.Empty(t, second.Errors())
}

func TestQueueDropsWorkWhenEntitlementRevoked(t *testing.T) {
	var entitled atomic.Bool
	entitled.Store(true)
	saver := &recordingSaver{gate: make(chan struct{})}
	q := newTestQueue(t, saver, Options{Entitled: entitled.Load})

	require.NoError(t, q.QueueSave(labelled("a"), SaveOptions{}))
	require.NoError(t, q.QueueSave(labelled("b"), SaveOptions{}))
	require.NoError(t, q.QueueSave(labelled("c"), SaveOptions{}))
	entitled.Store(false)
	close(saver.gate)
	waitIdle(t, q)

	calls := saver.Calls()
	assert.LessOrEqual(t, len(calls), 1, "only an already in-flight save may complete")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(errors.New("timeout")))
	assert.Equal(t, KindFatal, Classify(fmt.Errorf("wrap: %w", codec.ErrCorrupt)))
	assert.Equal(t, KindPolicy, Classify(ErrNotEntitled))
	assert.Equal(t, Kind(""), Classify(nil))
}
