// Package board holds the authoritative collection of windows on a
// whiteboard and derives the node/edge graph the canvas renderer consumes.
//
// The store is the only writer of windows. The graph is computed from the
// store on every read, so every window id has exactly one node and no node
// outlives its window.
package board

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationUpdate MutationKind = "update"
	MutationRemove MutationKind = "remove"
	MutationFocus  MutationKind = "focus"
	MutationEdge   MutationKind = "edge"
	MutationReset  MutationKind = "reset"
	MutationLoad   MutationKind = "load"
)

// Mutation describes one completed change to the store.
type Mutation struct {
	Kind MutationKind
	ID   string
	// Fields names the patched fields for MutationUpdate.
	Fields []string
}

type Observer func(Mutation)

type StoreOptions struct {
	Sanitizer Sanitizer
	NewID     func() string
}

type Store struct {
	sanitizer Sanitizer
	newID     func() string

	mu        sync.Mutex
	windows   map[string]*Window
	order     []string
	edges     map[string]Edge
	edgeOrder []string

	observerMu sync.Mutex
	observers  map[int]Observer
	nextObs    int
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	if opts.Sanitizer == nil {
		opts.Sanitizer = NewSanitizer()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Store{
		sanitizer: opts.Sanitizer,
		newID:     opts.NewID,
		windows:   map[string]*Window{},
		edges:     map[string]Edge{},
		observers: map[int]Observer{},
	}
}

// Observe registers fn to run after every completed mutation. The returned
// func deregisters it.
func (s *Store) Observe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.observerMu.Lock()
		defer s.observerMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(mutations ...Mutation) {
	if len(mutations) == 0 {
		return
	}
	s.observerMu.Lock()
	keys := make([]int, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	observers := make([]Observer, 0, len(keys))
	for _, k := range keys {
		observers = append(observers, s.observers[k])
	}
	s.observerMu.Unlock()
	for _, m := range mutations {
		for _, fn := range observers {
			fn(m)
		}
	}
}

func (s *Store) Add(init WindowInit) Window {
	s.mu.Lock()
	w, m := s.addLocked(init)
	s.mu.Unlock()
	s.notify(m)
	return w
}

func (s *Store) addLocked(init WindowInit) (Window, Mutation) {
	t := init.Type
	if _, err := ParseWindowType(string(t)); err != nil {
		t = TypeText
	}
	caps := t.Capabilities()
	size := init.Size
	if size.IsZero() {
		size = caps.DefaultSize
	}
	size = clampSize(size, caps.MinSize)
	readOnly := !caps.Editable
	if init.ReadOnly != nil {
		readOnly = *init.ReadOnly
	}
	w := &Window{
		ID:       s.newID(),
		Title:    s.sanitizer.SanitizeTitle(init.Title),
		Content:  s.sanitizer.SanitizeContent(init.Content),
		Type:     t,
		Size:     size,
		ReadOnly: readOnly,
	}
	if init.Position != nil {
		p := *init.Position
		w.Position = &p
	} else {
		w.IsNew = true
	}
	if caps.Privileged {
		w.ZIndex = clampZIndex(t, 0)
	} else {
		w.ZIndex = s.nextZIndexLocked("")
	}
	s.windows[w.ID] = w
	s.order = append(s.order, w.ID)
	return w.clone(), Mutation{Kind: MutationAdd, ID: w.ID}
}

// nextZIndexLocked returns max+1 over non-privileged windows other than
// skip. When that would pass the ceiling the stack is re-ranked 1..n first.
func (s *Store) nextZIndexLocked(skip string) int {
	max := s.maxZIndexLocked(skip)
	if max+1 > ZIndexCeiling {
		s.compactZIndexLocked()
		max = s.maxZIndexLocked(skip)
	}
	next := max + 1
	if next > ZIndexCeiling {
		next = ZIndexCeiling
	}
	return next
}

func (s *Store) maxZIndexLocked(skip string) int {
	max := 0
	for id, w := range s.windows {
		if id == skip || w.Type.Capabilities().Privileged {
			continue
		}
		if w.ZIndex > max {
			max = w.ZIndex
		}
	}
	return max
}

func (s *Store) compactZIndexLocked() {
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if w := s.windows[id]; w != nil && !w.Type.Capabilities().Privileged {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.windows[ids[i]].ZIndex < s.windows[ids[j]].ZIndex
	})
	for i, id := range ids {
		s.windows[id].ZIndex = i + 1
	}
}

// Update merges patch into the window. A missing id is a no-op.
func (s *Store) Update(id string, patch WindowPatch) bool {
	s.mu.Lock()
	m, ok := s.updateLocked(id, patch)
	s.mu.Unlock()
	if ok {
		s.notify(m)
	}
	return ok
}

func (s *Store) updateLocked(id string, patch WindowPatch) (Mutation, bool) {
	w, ok := s.windows[id]
	if !ok {
		return Mutation{}, false
	}
	caps := w.Type.Capabilities()
	var fields []string
	if patch.Title != nil {
		w.Title = s.sanitizer.SanitizeTitle(*patch.Title)
		fields = append(fields, "title")
	}
	if patch.Content != nil {
		w.Content = s.sanitizer.SanitizeContent(*patch.Content)
		fields = append(fields, "content")
	}
	if patch.Position != nil {
		p := *patch.Position
		w.Position = &p
		fields = append(fields, "position")
	}
	if patch.Size != nil {
		w.Size = clampSize(*patch.Size, caps.MinSize)
		fields = append(fields, "size")
	}
	if patch.ZIndex != nil {
		w.ZIndex = clampZIndex(w.Type, *patch.ZIndex)
		fields = append(fields, "zIndex")
	}
	if patch.ReadOnly != nil {
		w.ReadOnly = *patch.ReadOnly
		fields = append(fields, "isReadOnly")
	}
	if patch.IsNew != nil {
		w.IsNew = *patch.IsNew
		fields = append(fields, "isNew")
	}
	return Mutation{Kind: MutationUpdate, ID: id, Fields: fields}, true
}

// Remove deletes the window, its node and every edge touching it.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	m, ok := s.removeLocked(id)
	s.mu.Unlock()
	if ok {
		s.notify(m)
	}
	return ok
}

func (s *Store) removeLocked(id string) (Mutation, bool) {
	if _, ok := s.windows[id]; !ok {
		return Mutation{}, false
	}
	delete(s.windows, id)
	s.order = removeString(s.order, id)
	for _, edgeID := range append([]string(nil), s.edgeOrder...) {
		e := s.edges[edgeID]
		if e.Source == id || e.Target == id {
			delete(s.edges, edgeID)
			s.edgeOrder = removeString(s.edgeOrder, edgeID)
		}
	}
	return Mutation{Kind: MutationRemove, ID: id}, true
}

// Focus raises the window above every other non-privileged window.
func (s *Store) Focus(id string) bool {
	s.mu.Lock()
	w, ok := s.windows[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if w.Type.Capabilities().Privileged || w.ZIndex > s.maxZIndexLocked(id) {
		s.mu.Unlock()
		return true
	}
	w.ZIndex = s.nextZIndexLocked(id)
	s.mu.Unlock()
	s.notify(Mutation{Kind: MutationFocus, ID: id})
	return true
}

// Place assigns the first viewport-relative position to a window that was
// created without one and clears its IsNew flag.
func (s *Store) Place(id string, vp geometry.Viewport, viewportSize geometry.Size) bool {
	s.mu.Lock()
	w, ok := s.windows[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if w.Position == nil {
		var pos geometry.Point
		if w.Type.Capabilities().Privileged {
			pos = assistantPosition(w.Size, vp, viewportSize)
		} else {
			existing := make([]geometry.Point, 0, len(s.windows))
			for _, otherID := range s.order {
				other := s.windows[otherID]
				if otherID == id || other.Position == nil {
					continue
				}
				existing = append(existing, *other.Position)
			}
			pos = geometry.InitialPlacement(vp, viewportSize, w.Size, existing)
		}
		w.Position = &pos
	}
	w.IsNew = false
	s.mu.Unlock()
	s.notify(Mutation{Kind: MutationUpdate, ID: id, Fields: []string{"position", "isNew"}})
	return true
}

// FollowViewport keeps privileged windows pinned near the top-right corner
// of the visible viewport. It only patches positions of existing windows.
func (s *Store) FollowViewport(vp geometry.Viewport, viewportSize geometry.Size) []string {
	s.mu.Lock()
	var moved []string
	for _, id := range s.order {
		w := s.windows[id]
		if !w.Type.Capabilities().Privileged {
			continue
		}
		pos := assistantPosition(w.Size, vp, viewportSize)
		if w.Position != nil && *w.Position == pos {
			continue
		}
		w.Position = &pos
		w.IsNew = false
		moved = append(moved, id)
	}
	s.mu.Unlock()
	mutations := make([]Mutation, 0, len(moved))
	for _, id := range moved {
		mutations = append(mutations, Mutation{Kind: MutationUpdate, ID: id, Fields: []string{"position"}})
	}
	s.notify(mutations...)
	return moved
}

// Reset drops every window and edge.
func (s *Store) Reset() {
	s.mu.Lock()
	empty := len(s.windows) == 0 && len(s.edges) == 0
	s.windows = map[string]*Window{}
	s.order = nil
	s.edges = map[string]Edge{}
	s.edgeOrder = nil
	s.mu.Unlock()
	if !empty {
		s.notify(Mutation{Kind: MutationReset})
	}
}

// Load replaces the store content with previously persisted nodes and edges.
func (s *Store) Load(nodes []Node, edges []Edge) {
	s.mu.Lock()
	s.windows = map[string]*Window{}
	s.order = nil
	s.edges = map[string]Edge{}
	s.edgeOrder = nil
	sorted := append([]Node(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ZIndex < sorted[j].ZIndex })
	for _, n := range sorted {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			continue
		}
		if _, dup := s.windows[id]; dup {
			continue
		}
		w := windowFromNode(n)
		w.ID = id
		w.Title = s.sanitizer.SanitizeTitle(w.Title)
		w.Content = s.sanitizer.SanitizeContent(w.Content)
		s.windows[id] = &w
		s.order = append(s.order, id)
	}
	for _, e := range edges {
		s.addEdgeLocked(e.Source, e.Target)
	}
	s.mu.Unlock()
	s.notify(Mutation{Kind: MutationLoad})
}

func (s *Store) AddEdge(source, target string) (Edge, bool) {
	s.mu.Lock()
	e, ok := s.addEdgeLocked(source, target)
	s.mu.Unlock()
	if ok {
		s.notify(Mutation{Kind: MutationEdge, ID: e.ID})
	}
	return e, ok
}

func (s *Store) addEdgeLocked(source, target string) (Edge, bool) {
	if source == target {
		return Edge{}, false
	}
	if _, ok := s.windows[source]; !ok {
		return Edge{}, false
	}
	if _, ok := s.windows[target]; !ok {
		return Edge{}, false
	}
	e := Edge{ID: edgeID(source, target), Source: source, Target: target}
	if _, exists := s.edges[e.ID]; exists {
		return e, false
	}
	s.edges[e.ID] = e
	s.edgeOrder = append(s.edgeOrder, e.ID)
	return e, true
}

func (s *Store) RemoveEdge(id string) bool {
	s.mu.Lock()
	_, ok := s.edges[id]
	if ok {
		delete(s.edges, id)
		s.edgeOrder = removeString(s.edgeOrder, id)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Mutation{Kind: MutationEdge, ID: id})
	}
	return ok
}

func (s *Store) Get(id string) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return Window{}, false
	}
	return w.clone(), true
}

// List returns every window ordered bottom to top.
func (s *Store) List() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() []Window {
	out := make([]Window, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.windows[id].clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// HasType reports whether any window of type t is open.
func (s *Store) HasType(t WindowType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Type == t {
			return true
		}
	}
	return false
}

func edgeID(source, target string) string {
	return "e-" + source + "-" + target
}

func removeString(in []string, needle string) []string {
	for i, v := range in {
		if v == needle {
			return append(in[:i], in[i+1:]...)
		}
	}
	return in
}
