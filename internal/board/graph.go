package board

import (
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

type NodeData struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	ReadOnly bool   `json:"isReadOnly"`
	IsNew    bool   `json:"isNew,omitempty"`
}

// Node is the renderer-side mirror of a Window. Node.ID always equals the
// window id.
type Node struct {
	ID        string         `json:"id"`
	Type      WindowType     `json:"type"`
	Position  geometry.Point `json:"position"`
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	ZIndex    int            `json:"zIndex"`
	Draggable bool           `json:"draggable"`
	Hidden    bool           `json:"hidden,omitempty"`
	Data      NodeData       `json:"data"`
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIDs returns the node ids in graph order.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func nodeFromWindow(w Window) Node {
	n := Node{
		ID:        w.ID,
		Type:      w.Type,
		Width:     w.Size.Width,
		Height:    w.Size.Height,
		ZIndex:    w.ZIndex,
		Draggable: w.Type.Capabilities().Draggable,
		Data: NodeData{
			Title:    w.Title,
			Content:  w.Content,
			ReadOnly: w.ReadOnly,
			IsNew:    w.IsNew,
		},
	}
	if w.Position != nil {
		n.Position = *w.Position
	} else {
		n.Hidden = true
	}
	return n
}

func windowFromNode(n Node) Window {
	t := n.Type
	if _, err := ParseWindowType(string(t)); err != nil {
		t = TypeText
	}
	caps := t.Capabilities()
	size := geometry.Size{Width: n.Width, Height: n.Height}
	if size.IsZero() {
		size = caps.DefaultSize
	}
	pos := n.Position
	return Window{
		ID:       n.ID,
		Title:    n.Data.Title,
		Content:  n.Data.Content,
		Type:     t,
		Position: &pos,
		Size:     clampSize(size, caps.MinSize),
		ZIndex:   clampZIndex(t, n.ZIndex),
		ReadOnly: n.Data.ReadOnly,
	}
}

// Graph derives the node/edge projection from the current windows.
func (s *Store) Graph() Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	windows := s.listLocked()
	g := Graph{
		Nodes: make([]Node, 0, len(windows)),
		Edges: make([]Edge, 0, len(s.edgeOrder)),
	}
	for _, w := range windows {
		g.Nodes = append(g.Nodes, nodeFromWindow(w))
	}
	for _, id := range s.edgeOrder {
		g.Edges = append(g.Edges, s.edges[id])
	}
	return g
}

type ChangeKind string

const (
	ChangeAdd      ChangeKind = "add"
	ChangeRemove   ChangeKind = "remove"
	ChangePosition ChangeKind = "position"
	ChangeData     ChangeKind = "data"
)

// Change is one renderer change descriptor as emitted by onNodesChange.
type Change struct {
	Kind     ChangeKind      `json:"type"`
	ID       string          `json:"id,omitempty"`
	Position *geometry.Point `json:"position,omitempty"`
	Item     *WindowInit     `json:"item,omitempty"`
	Data     *WindowPatch    `json:"data,omitempty"`
}

// ApplyChanges translates renderer changes into store mutations, in order,
// under a single lock. Observers run once all changes are applied. It
// returns the ids of windows created by add changes.
func (s *Store) ApplyChanges(changes []Change) []string {
	var (
		mutations []Mutation
		created   []string
	)
	s.mu.Lock()
	for _, c := range changes {
		switch c.Kind {
		case ChangeAdd:
			init := WindowInit{}
			if c.Item != nil {
				init = *c.Item
			}
			w, m := s.addLocked(init)
			created = append(created, w.ID)
			mutations = append(mutations, m)
		case ChangeRemove:
			if m, ok := s.removeLocked(c.ID); ok {
				mutations = append(mutations, m)
			}
		case ChangePosition:
			if c.Position == nil {
				continue
			}
			if w, ok := s.windows[c.ID]; !ok || !w.Type.Capabilities().Draggable {
				continue
			}
			if m, ok := s.updateLocked(c.ID, WindowPatch{Position: c.Position}); ok {
				mutations = append(mutations, m)
			}
		case ChangeData:
			if c.Data == nil {
				continue
			}
			if m, ok := s.updateLocked(c.ID, *c.Data); ok {
				mutations = append(mutations, m)
			}
		}
	}
	s.mu.Unlock()
	s.notify(mutations...)
	return created
}
