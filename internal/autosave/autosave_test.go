package autosave

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

func newClock() *clock.Fake {
	return clock.NewFake(time.Unix(1_700_000_000, 0))
}

func TestDebouncedCollapsesToLastCall(t *testing.T) {
	clk := newClock()
	var got []int
	d := NewDebounced(clk, 100*time.Millisecond, func(v int) { got = append(got, v) })

	d.Call(1)
	clk.Advance(50 * time.Millisecond)
	d.Call(2)
	clk.Advance(50 * time.Millisecond)
	d.Call(3)
	if len(got) != 0 {
		t.Fatalf("expected no calls yet, got %v", got)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", clk.Pending())
	}
	clk.Advance(100 * time.Millisecond)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected single trailing call with 3, got %v", got)
	}
	if d.Pending() {
		t.Fatalf("expected nothing pending after fire")
	}
}

func TestDebouncedFlushAndCancel(t *testing.T) {
	clk := newClock()
	var got []string
	d := NewDebounced(clk, time.Second, func(v string) { got = append(got, v) })

	if d.Flush() {
		t.Fatalf("flush with nothing pending should report false")
	}
	d.Call("a")
	if !d.Flush() {
		t.Fatalf("expected flush to run pending call")
	}
	clk.Advance(2 * time.Second)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected exactly one delivery, got %v", got)
	}

	d.Call("b")
	d.Cancel()
	clk.Advance(2 * time.Second)
	if len(got) != 1 {
		t.Fatalf("cancelled call was delivered: %v", got)
	}
}

func TestHasContentChanged(t *testing.T) {
	assert.False(t, HasContentChanged("<p>a  b</p>", " <p>a b</p>\n"))
	assert.False(t, HasContentChanged("", "   \t"))
	assert.True(t, HasContentChanged("<p>a b</p>", "<p>ab</p>"))
}

func TestLimiterSlidingWindow(t *testing.T) {
	clk := newClock()
	l := NewLimiter(clk, time.Minute, 2)
	assert.True(t, l.Allow("w1"))
	clk.Advance(30 * time.Second)
	assert.True(t, l.Allow("w1"))
	assert.False(t, l.Allow("w1"))
	assert.True(t, l.Allow("w2"), "keys are independent")

	clk.Advance(31 * time.Second)
	assert.True(t, l.Allow("w1"), "first hit slid out of the window")
	assert.False(t, l.Allow("w1"))

	l.Forget("w1")
	assert.True(t, l.Allow("w1"))
}

type failingKV struct{ localkv.KV }

func (failingKV) Set(string, []byte) error { return assert.AnError }

func TestBackupLazyEviction(t *testing.T) {
	clk := newClock()
	kv := localkv.NewMemory()
	b := NewBackup(kv, clk, time.Hour, nil)

	b.Save("w1", "<p>x</p>")
	content, savedAt, ok := b.Load("w1")
	require.True(t, ok)
	assert.Equal(t, "<p>x</p>", content)
	assert.Equal(t, clk.Now().UnixMilli(), savedAt.UnixMilli())

	clk.Advance(2 * time.Hour)
	assert.Equal(t, []string{"w1"}, b.IDs(), "expired entries stay until read")
	_, _, ok = b.Load("w1")
	assert.False(t, ok)
	assert.Empty(t, b.IDs())

	require.NoError(t, kv.Set("backup_bad", []byte("{")))
	_, _, ok = b.Load("bad")
	assert.False(t, ok)
	_, exists, _ := kv.Get("backup_bad")
	assert.False(t, exists, "unreadable entry should be removed")
}

func TestBackupSwallowsWriteFailures(t *testing.T) {
	b := NewBackup(failingKV{localkv.NewMemory()}, newClock(), 0, nil)
	b.Save("w1", "content")
	var nilBackup *Backup
	nilBackup.Save("w1", "content")
}

func TestContentSaverIsIdempotent(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	w := store.Add(board.WindowInit{Content: "<p>start</p>"})
	kv := localkv.NewMemory()
	var saved []string
	s := NewContentSaver(w.ID, w.Content, ContentSaverOptions{
		Store:   store,
		Backup:  NewBackup(kv, clk, 0, nil),
		Clock:   clk,
		Wait:    time.Second,
		OnSaved: func(id string) { saved = append(saved, id) },
	})

	s.OnUpdate("<p>hello</p>")
	clk.Advance(time.Second)
	s.OnUpdate("<p>hello</p>")
	clk.Advance(time.Second)
	s.OnUpdate("<p>hello</p>  ")
	clk.Advance(time.Second)

	assert.Equal(t, 1, s.Accepted())
	assert.Equal(t, []string{w.ID}, saved)
	got, _ := store.Get(w.ID)
	assert.Equal(t, "<p>hello</p>", got.Content)
	_, ok, _ := kv.Get("backup_" + w.ID)
	assert.True(t, ok, "accepted save should be mirrored to the backup")
}

func TestContentSaverSanitizesAndSkipsUnchanged(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	w := store.Add(board.WindowInit{Content: "<p>same</p>"})
	s := NewContentSaver(w.ID, w.Content, ContentSaverOptions{Store: store, Clock: clk})

	s.OnUpdate("<p>same</p><script>x()</script>")
	clk.Advance(DefaultContentWait)
	assert.Zero(t, s.Accepted(), "content equal after sanitizing is not a change")
}

func TestContentSaverRespectsLimiter(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	w := store.Add(board.WindowInit{})
	s := NewContentSaver(w.ID, "", ContentSaverOptions{
		Store:   store,
		Limiter: NewLimiter(clk, time.Minute, 2),
		Clock:   clk,
		Wait:    time.Second,
	})
	for _, body := range []string{"<p>1</p>", "<p>2</p>", "<p>3</p>"} {
		s.OnUpdate(body)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 2, s.Accepted())
	got, _ := store.Get(w.ID)
	assert.Equal(t, "<p>2</p>", got.Content)

	clk.Advance(time.Minute)
	s.OnUpdate("<p>3</p>")
	clk.Advance(time.Second)
	assert.Equal(t, 3, s.Accepted(), "a later cycle retries the dropped content")
}

func TestContentSaverCloseFlushes(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	w := store.Add(board.WindowInit{})
	kv := localkv.NewMemory()
	s := NewContentSaver(w.ID, "", ContentSaverOptions{Store: store, Backup: NewBackup(kv, clk, 0, nil), Clock: clk})

	s.OnUpdate("<p>unsaved</p>")
	s.Close()
	got, _ := store.Get(w.ID)
	assert.Equal(t, "<p>unsaved</p>", got.Content)
	assert.Zero(t, clk.Pending())

	s.OnUpdate("<p>after close</p>")
	assert.False(t, s.Pending())
}

func TestContentSaverDoesNotClobberPosition(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	w := store.Add(board.WindowInit{Position: &geometry.Point{X: 1, Y: 1}})
	s := NewContentSaver(w.ID, "", ContentSaverOptions{Store: store, Clock: clk})

	s.OnUpdate("<p>typed</p>")
	store.Update(w.ID, board.WindowPatch{Position: &geometry.Point{X: 50, Y: 60}})
	clk.Advance(DefaultContentWait)

	got, _ := store.Get(w.ID)
	assert.Equal(t, geometry.Point{X: 50, Y: 60}, *got.Position)
	assert.Equal(t, "<p>typed</p>", got.Content)
}

type fakeQueue struct {
	mu       sync.Mutex
	saves    []codec.State
	opts     []syncqueue.SaveOptions
	entitled bool
}

func (q *fakeQueue) QueueSave(state codec.State, opts syncqueue.SaveOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.opts = append(q.opts, opts)
	if !q.entitled {
		return syncqueue.ErrNotEntitled
	}
	q.saves = append(q.saves, state)
	return nil
}

func snapshotOf(store *board.Store) func() codec.State {
	return func() codec.State {
		g := store.Graph()
		return codec.State{Nodes: g.Nodes, Edges: g.Edges, Viewport: geometry.DefaultViewport()}
	}
}

func TestBoardSaverDebouncesAndSkipsIdentical(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	q := &fakeQueue{entitled: true}
	s := NewBoardSaver(BoardSaverOptions{Store: store, Snapshot: snapshotOf(store), Queue: q, Clock: clk, Wait: time.Second})
	defer s.Close()

	w := store.Add(board.WindowInit{Title: "a"})
	store.Update(w.ID, board.WindowPatch{Position: &geometry.Point{X: 5, Y: 5}})
	store.Update(w.ID, board.WindowPatch{Position: &geometry.Point{X: 6, Y: 6}})
	clk.Advance(time.Second)
	require.Equal(t, 1, s.Queued())
	assert.Len(t, q.saves[0].Nodes, 1)

	s.Trigger()
	clk.Advance(time.Second)
	assert.Equal(t, 1, s.Queued(), "unchanged board must not be queued again")

	store.Remove(w.ID)
	clk.Advance(time.Second)
	assert.Equal(t, 2, s.Queued())
}

func TestBoardSaverPrimeSkipsLoadedState(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	q := &fakeQueue{entitled: true}
	s := NewBoardSaver(BoardSaverOptions{Store: store, Snapshot: snapshotOf(store), Queue: q, Clock: clk})
	defer s.Close()

	store.Load([]board.Node{{ID: "x", Type: board.TypeText, Width: 400, Height: 300, ZIndex: 1}}, nil)
	s.Prime(snapshotOf(store)())
	clk.Advance(DefaultBoardWait)
	assert.Zero(t, s.Queued())
}

func TestBoardSaverSuppressesPromptWhilePlansOpen(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	q := &fakeQueue{}
	s := NewBoardSaver(BoardSaverOptions{Store: store, Snapshot: snapshotOf(store), Queue: q, Clock: clk, Wait: time.Second})
	defer s.Close()

	store.Add(board.WindowInit{Type: board.TypeText})
	clk.Advance(time.Second)
	store.Add(board.WindowInit{Type: board.TypePlans})
	clk.Advance(time.Second)

	require.Len(t, q.opts, 2)
	assert.False(t, q.opts[0].SuppressUpgradePrompt)
	assert.True(t, q.opts[1].SuppressUpgradePrompt)
	assert.Zero(t, s.Queued())
}

func TestBoardSaverCloseFlushesAndStopsObserving(t *testing.T) {
	clk := newClock()
	store := board.NewStore()
	q := &fakeQueue{entitled: true}
	s := NewBoardSaver(BoardSaverOptions{Store: store, Snapshot: snapshotOf(store), Queue: q, Clock: clk})

	store.Add(board.WindowInit{})
	s.Close()
	assert.Equal(t, 1, s.Queued())

	store.Add(board.WindowInit{})
	clk.Advance(DefaultBoardWait)
	assert.Equal(t, 1, s.Queued())
}
