// Package session wires the store, graph batching, interaction, autosave and
// the save queue together for one signed-in user. It is the only place that
// owns all of them.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/autosave"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/interaction"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

var (
	ErrUnknownWindow = errors.New("unknown window")
	ErrReadOnly      = errors.New("window is read-only")
	ErrClosed        = errors.New("session is closed")
	ErrLoadFailed    = errors.New("load whiteboard failed")
)

var DefaultViewportSize = geometry.Size{Width: 1280, Height: 800}

type Logger interface {
	Printf(format string, args ...any)
}

// Entitlement is what the auth provider knows about the acting user.
type Entitlement struct {
	UserID string
	Paid   bool
}

type Loader interface {
	Load(ctx context.Context, userID string) (codec.State, error)
}

type Options struct {
	Entitlement Entitlement
	// Syncer loads and saves the user's whiteboard.
	Syncer *syncqueue.Syncer
	// Loader overrides Syncer for loading. Optional.
	Loader Loader
	// Saver overrides Syncer for saving. Optional.
	Saver        syncqueue.Saver
	KV           localkv.KV
	Clock        clock.Clock
	Logger       Logger
	ViewportSize geometry.Size

	ContentWait   time.Duration
	BoardWait     time.Duration
	FrameInterval time.Duration
	RetryDelay    time.Duration
	MaxRetries    int
	BackupMaxAge  time.Duration
	LimitInterval time.Duration
	LimitRequests int
}

type Session struct {
	userID      string
	store       *board.Store
	batcher     *board.Batcher
	hub         *interaction.Hub
	queue       *syncqueue.Queue
	loader      Loader
	boardSaver  *autosave.BoardSaver
	limiter     *autosave.Limiter
	backup      *autosave.Backup
	clock       clock.Clock
	logger      Logger
	contentWait time.Duration
	stopObserve func()

	mu           sync.Mutex
	paid         bool
	viewport     geometry.Viewport
	viewportSize geometry.Size
	controllers  map[string]*interaction.Controller
	savers       map[string]*autosave.ContentSaver
	closed       bool
}

func New(opts Options) (*Session, error) {
	userID := strings.TrimSpace(opts.Entitlement.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	loader := opts.Loader
	saver := opts.Saver
	if opts.Syncer != nil {
		if loader == nil {
			loader = opts.Syncer
		}
		if saver == nil {
			saver = opts.Syncer.For(userID)
		}
	}
	if loader == nil || saver == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ViewportSize.IsZero() {
		opts.ViewportSize = DefaultViewportSize
	}

	s := &Session{
		userID:       userID,
		store:        board.NewStore(),
		hub:          interaction.NewHub(),
		loader:       loader,
		clock:        opts.Clock,
		logger:       opts.Logger,
		contentWait:  opts.ContentWait,
		paid:         opts.Entitlement.Paid,
		viewport:     geometry.DefaultViewport(),
		viewportSize: opts.ViewportSize,
		controllers:  map[string]*interaction.Controller{},
		savers:       map[string]*autosave.ContentSaver{},
	}
	queue, err := syncqueue.New(syncqueue.Options{
		Saver:      saver,
		Entitled:   s.Paid,
		KV:         opts.KV,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		RetryDelay: opts.RetryDelay,
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	s.queue = queue
	s.batcher = board.NewBatcher(s.store, opts.Clock, opts.FrameInterval)
	s.limiter = autosave.NewLimiter(opts.Clock, opts.LimitInterval, opts.LimitRequests)
	s.backup = autosave.NewBackup(opts.KV, opts.Clock, opts.BackupMaxAge, opts.Logger)
	s.boardSaver = autosave.NewBoardSaver(autosave.BoardSaverOptions{
		Store:    s.store,
		Snapshot: s.Snapshot,
		Queue:    queue,
		Clock:    opts.Clock,
		Wait:     opts.BoardWait,
		Logger:   opts.Logger,
	})
	s.stopObserve = s.store.Observe(s.onMutation)
	return s, nil
}

func (s *Session) UserID() string {
	return s.userID
}

// Store exposes the window store for read access.
func (s *Session) Store() *board.Store {
	return s.store
}

func (s *Session) Paid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid
}

// Open loads the user's whiteboard. Without a paid entitlement the remote
// store is not contacted and the board starts empty.
func (s *Session) Open(ctx context.Context) error {
	if !s.Paid() {
		s.logf("user %s has no paid plan; starting with a local-only board", s.userID)
		return nil
	}
	state, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.store.Load(state.Nodes, state.Edges)
	s.mu.Lock()
	s.viewport = state.Viewport.Normalize()
	s.mu.Unlock()
	s.boardSaver.Prime(s.Snapshot())
	return nil
}

// load fetches the remote board. A SyncError is surfaced and its empty state
// returned, so a corrupt board opens as empty.
func (s *Session) load(ctx context.Context) (codec.State, error) {
	state, err := s.loader.Load(ctx, s.userID)
	var syncErr *syncqueue.SyncError
	switch {
	case errors.As(err, &syncErr):
		s.queue.Report(*syncErr)
	case err != nil:
		return codec.State{}, err
	}
	return state, nil
}

// Save queues the current snapshot right away, bypassing the debounce.
func (s *Session) Save() error {
	return s.queue.QueueSave(s.Snapshot(), syncqueue.SaveOptions{
		SuppressUpgradePrompt: s.store.HasType(board.TypePlans),
	})
}

// Snapshot is the state that would be persisted right now.
func (s *Session) Snapshot() codec.State {
	g := s.store.Graph()
	s.mu.Lock()
	vp := s.viewport
	s.mu.Unlock()
	return codec.State{Nodes: g.Nodes, Edges: g.Edges, Viewport: vp, Version: codec.CurrentVersion}
}

// CreateWindow adds a window. Windows without a position are placed relative
// to the current viewport.
func (s *Session) CreateWindow(init board.WindowInit) board.Window {
	w := s.store.Add(init)
	placed, ok := s.store.Get(w.ID)
	if !ok {
		return w
	}
	return placed
}

// AddImage validates an uploaded image and opens it in a new image window.
func (s *Session) AddImage(title, contentType string, data []byte) (board.Window, error) {
	if err := board.ValidateImage(contentType, int64(len(data))); err != nil {
		return board.Window{}, err
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	src := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return s.CreateWindow(board.WindowInit{
		Type:    board.TypeImage,
		Title:   title,
		Content: `<img src="` + src + `" alt="` + html.EscapeString(title) + `">`,
	}), nil
}

// AddImageURL opens a remote image in a new image window.
func (s *Session) AddImageURL(title, rawURL string) (board.Window, error) {
	if err := board.ValidateURL(rawURL); err != nil {
		return board.Window{}, err
	}
	return s.CreateWindow(board.WindowInit{
		Type:    board.TypeImage,
		Title:   title,
		Content: `<img src="` + html.EscapeString(strings.TrimSpace(rawURL)) + `" alt="` + html.EscapeString(title) + `">`,
	}), nil
}

func (s *Session) UpdateWindow(id string, patch board.WindowPatch) bool {
	return s.store.Update(id, patch)
}

func (s *Session) RemoveWindow(id string) bool {
	return s.store.Remove(id)
}

func (s *Session) FocusWindow(id string) bool {
	return s.store.Focus(id)
}

// EditContent feeds editor output into the window's debounced save path.
func (s *Session) EditContent(id, content string) error {
	w, ok := s.store.Get(id)
	if !ok {
		return ErrUnknownWindow
	}
	if w.ReadOnly || !w.Type.Capabilities().Editable {
		return ErrReadOnly
	}
	saver, err := s.saverFor(w)
	if err != nil {
		return err
	}
	saver.OnUpdate(content)
	return nil
}

func (s *Session) saverFor(w board.Window) (*autosave.ContentSaver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if saver, ok := s.savers[w.ID]; ok {
		return saver, nil
	}
	saver := autosave.NewContentSaver(w.ID, w.Content, autosave.ContentSaverOptions{
		Store:   s.store,
		Limiter: s.limiter,
		Backup:  s.backup,
		Clock:   s.clock,
		Wait:    s.contentWait,
	})
	s.savers[w.ID] = saver
	return saver, nil
}

// Backup returns the locally mirrored content of a window, if still fresh.
func (s *Session) Backup(id string) (string, bool) {
	content, _, ok := s.backup.Load(id)
	return content, ok
}

type PointerTarget struct {
	// Region is "titleBar" or "handle".
	Region string             `json:"region"`
	Handle interaction.Handle `json:"handle,omitempty"`
}

const (
	RegionTitleBar = "titleBar"
	RegionHandle   = "handle"
)

// PointerDown focuses the window and starts a gesture if target allows one.
func (s *Session) PointerDown(id string, target PointerTarget, screen geometry.Point) bool {
	if !s.store.Focus(id) {
		return false
	}
	c, err := s.controllerFor(id)
	if err != nil {
		return false
	}
	switch target.Region {
	case RegionTitleBar:
		return c.BeginDrag(screen)
	case RegionHandle:
		return c.BeginResize(target.Handle, screen)
	default:
		return false
	}
}

func (s *Session) PointerMove(screen geometry.Point) {
	s.hub.Move(screen)
}

func (s *Session) PointerUp(screen geometry.Point) {
	s.hub.Up(screen)
}

// SuppressesPan reports whether any window gesture is active.
func (s *Session) SuppressesPan() bool {
	s.mu.Lock()
	controllers := make([]*interaction.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()
	for _, c := range controllers {
		if c.SuppressesPan() {
			return true
		}
	}
	return false
}

func (s *Session) controllerFor(id string) (*interaction.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.controllers[id]; ok {
		return c, nil
	}
	c := interaction.NewController(id, s.store, s.hub, s.Viewport)
	s.controllers[id] = c
	return c, nil
}

func (s *Session) Viewport() geometry.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Session) view() (geometry.Viewport, geometry.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport, s.viewportSize
}

func (s *Session) SetViewportSize(size geometry.Size) {
	if size.IsZero() {
		return
	}
	s.mu.Lock()
	s.viewportSize = size
	vp := s.viewport
	s.mu.Unlock()
	s.store.FollowViewport(vp, size)
}

// MoveEnd records the renderer's viewport after a pan or zoom settles and
// keeps the assistant pinned to the visible corner.
func (s *Session) MoveEnd(vp geometry.Viewport) {
	vp = vp.Normalize()
	s.mu.Lock()
	changed := vp != s.viewport
	s.viewport = vp
	size := s.viewportSize
	s.mu.Unlock()
	s.store.FollowViewport(vp, size)
	if changed {
		s.boardSaver.Trigger()
	}
}

// Zoom zooms by steps around a screen anchor.
func (s *Session) Zoom(steps float64, anchor geometry.Point) geometry.Viewport {
	vp := geometry.Zoom(s.Viewport(), steps, anchor)
	s.MoveEnd(vp)
	return vp
}

// ApplyChanges queues renderer changes for the next frame.
func (s *Session) ApplyChanges(changes []board.Change) {
	s.batcher.Enqueue(changes...)
}

// FlushChanges applies queued renderer changes immediately.
func (s *Session) FlushChanges() []string {
	return s.batcher.Flush()
}

func (s *Session) Connect(source, target string) (board.Edge, bool) {
	return s.store.AddEdge(source, target)
}

// SetEntitlement reacts to plan changes. Losing the paid plan clears every
// window; later saves are denied by the queue. Gaining it loads the remote
// board before saves are allowed. Windows created while unpaid are kept on top
// of it and saved with the next board save. If the load fails the session
// stays unpaid.
func (s *Session) SetEntitlement(ctx context.Context, paid bool) error {
	s.mu.Lock()
	was := s.paid
	s.mu.Unlock()
	switch {
	case was && !paid:
		s.mu.Lock()
		s.paid = false
		s.mu.Unlock()
		s.logf("paid plan revoked for user %s; clearing whiteboard", s.userID)
		s.store.Reset()
	case !was && paid:
		if err := s.upgrade(ctx); err != nil {
			return err
		}
		s.logf("paid plan granted for user %s; remote whiteboard loaded", s.userID)
	}
	return nil
}

func (s *Session) upgrade(ctx context.Context) error {
	s.flushEditors()
	local := s.store.Graph()
	state, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	s.store.Load(state.Nodes, state.Edges)
	s.boardSaver.Prime(s.Snapshot())

	remote := s.store.Graph()
	known := make(map[string]bool, len(remote.Nodes))
	for _, n := range remote.Nodes {
		known[n.ID] = true
	}
	nodes := remote.Nodes
	for _, n := range local.Nodes {
		if !known[n.ID] {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) > len(remote.Nodes) {
		s.store.Load(nodes, append(remote.Edges, local.Edges...))
	}
	s.mu.Lock()
	s.paid = true
	s.mu.Unlock()
	return nil
}

// flushEditors pushes debounced editor content into the store.
func (s *Session) flushEditors() {
	s.mu.Lock()
	savers := make([]*autosave.ContentSaver, 0, len(s.savers))
	for _, saver := range s.savers {
		savers = append(savers, saver)
	}
	s.mu.Unlock()
	for _, saver := range savers {
		saver.Flush()
	}
}

// Frame is everything the renderer needs to draw.
type Frame struct {
	Nodes         []board.Node          `json:"nodes"`
	Edges         []board.Edge          `json:"edges"`
	Viewport      geometry.Viewport     `json:"viewport"`
	Errors        []syncqueue.SyncError `json:"-"`
	SuppressesPan bool                  `json:"suppressPan"`
}

func (s *Session) Frame() Frame {
	g := s.store.Graph()
	return Frame{
		Nodes:         g.Nodes,
		Edges:         g.Edges,
		Viewport:      s.Viewport(),
		Errors:        s.queue.Errors(),
		SuppressesPan: s.SuppressesPan(),
	}
}

func (s *Session) Errors() []syncqueue.SyncError {
	return s.queue.Errors()
}

func (s *Session) DismissError(i int) bool {
	return s.queue.Dismiss(i)
}

// WaitSaved blocks until every queued save has been attempted.
func (s *Session) WaitSaved(ctx context.Context) error {
	return s.queue.WaitIdle(ctx)
}

func (s *Session) onMutation(m board.Mutation) {
	switch m.Kind {
	case board.MutationAdd:
		vp, size := s.view()
		s.store.Place(m.ID, vp, size)
	case board.MutationRemove:
		s.dropWindow(m.ID)
	case board.MutationReset, board.MutationLoad:
		s.dropAll()
	}
}

func (s *Session) dropWindow(id string) {
	s.mu.Lock()
	c := s.controllers[id]
	saver := s.savers[id]
	delete(s.controllers, id)
	delete(s.savers, id)
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
	if saver != nil {
		saver.Close()
	}
	s.backup.Delete(id)
}

func (s *Session) dropAll() {
	s.mu.Lock()
	controllers := s.controllers
	savers := s.savers
	s.controllers = map[string]*interaction.Controller{}
	s.savers = map[string]*autosave.ContentSaver{}
	s.mu.Unlock()
	for _, c := range controllers {
		c.Close()
	}
	for id, saver := range savers {
		saver.Close()
		s.backup.Delete(id)
	}
}

// Close flushes pending edits, releases pointer listeners and waits for the
// save queue to drain or ctx to end.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	controllers := s.controllers
	savers := s.savers
	s.controllers = map[string]*interaction.Controller{}
	s.savers = map[string]*autosave.ContentSaver{}
	s.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
	for _, saver := range savers {
		saver.Close()
	}
	s.batcher.Close()
	s.boardSaver.Close()
	s.stopObserve()
	err := s.queue.WaitIdle(ctx)
	s.queue.Close()
	return err
}

func (s *Session) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
