package interaction

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

// MaxResizeDelta caps how far one resize gesture may move an edge, in canvas
// units.
const MaxResizeDelta = 1000.0

type State string

const (
	StateIdle     State = "idle"
	StateDragging State = "dragging"
	StateResizing State = "resizing"
)

type Handle string

const (
	HandleRight       Handle = "right"
	HandleBottom      Handle = "bottom"
	HandleBottomRight Handle = "bottomRight"
)

func ParseHandle(raw string) (Handle, error) {
	for _, h := range []Handle{HandleRight, HandleBottom, HandleBottomRight} {
		if strings.EqualFold(string(h), strings.TrimSpace(raw)) {
			return h, nil
		}
	}
	return "", fmt.Errorf("unknown resize handle %q", raw)
}

func (h Handle) widens() bool {
	return h == HandleRight || h == HandleBottomRight
}

func (h Handle) heightens() bool {
	return h == HandleBottom || h == HandleBottomRight
}

// Controller runs the drag and resize gestures of one window. Gestures are
// mutually exclusive.
type Controller struct {
	id       string
	store    *board.Store
	hub      *Hub
	viewport func() geometry.Viewport

	mu           sync.Mutex
	state        State
	handle       Handle
	offset       geometry.Point
	startPointer geometry.Point
	startSize    geometry.Size
	minSize      geometry.Size
	unregister   func()
	closed       bool
}

func NewController(id string, store *board.Store, hub *Hub, viewport func() geometry.Viewport) *Controller {
	if viewport == nil {
		viewport = geometry.DefaultViewport
	}
	return &Controller{id: id, store: store, hub: hub, viewport: viewport, state: StateIdle}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Handle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// SuppressesPan reports whether the canvas must ignore drags right now.
func (c *Controller) SuppressesPan() bool {
	return c.State() != StateIdle
}

// BeginDrag starts a drag from the title bar at the given screen point.
func (c *Controller) BeginDrag(screen geometry.Point) bool {
	w, ok := c.store.Get(c.id)
	if !ok || !w.Type.Capabilities().Draggable || w.Position == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateIdle {
		return false
	}
	pointer := geometry.ScreenToCanvas(screen, c.viewport())
	c.offset = pointer.Sub(*w.Position)
	c.state = StateDragging
	c.listenLocked()
	return true
}

// BeginResize starts a resize from handle at the given screen point.
func (c *Controller) BeginResize(handle Handle, screen geometry.Point) bool {
	if !handle.widens() && !handle.heightens() {
		return false
	}
	w, ok := c.store.Get(c.id)
	if !ok || !w.Type.Capabilities().Resizable {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateIdle {
		return false
	}
	c.handle = handle
	c.startPointer = screen
	c.startSize = w.Size
	c.minSize = w.Type.Capabilities().MinSize
	c.state = StateResizing
	c.listenLocked()
	return true
}

func (c *Controller) listenLocked() {
	if c.hub != nil && c.unregister == nil {
		c.unregister = c.hub.Register(c)
	}
}

func (c *Controller) PointerMove(screen geometry.Point) {
	vp := c.viewport().Normalize()
	c.mu.Lock()
	var patch board.WindowPatch
	switch c.state {
	case StateDragging:
		pos := geometry.ScreenToCanvas(screen, vp).Sub(c.offset)
		patch.Position = &pos
	case StateResizing:
		size := c.resizedLocked(screen, vp.Zoom)
		patch.Size = &size
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.store.Update(c.id, patch)
}

func (c *Controller) resizedLocked(screen geometry.Point, zoom float64) geometry.Size {
	dx := clampDelta((screen.X - c.startPointer.X) / zoom)
	dy := clampDelta((screen.Y - c.startPointer.Y) / zoom)
	size := c.startSize
	if c.handle.widens() {
		size.Width = math.Max(c.minSize.Width, c.startSize.Width+dx)
	}
	if c.handle.heightens() {
		size.Height = math.Max(c.minSize.Height, c.startSize.Height+dy)
	}
	return size
}

func clampDelta(d float64) float64 {
	if math.IsNaN(d) {
		return 0
	}
	return math.Max(-MaxResizeDelta, math.Min(MaxResizeDelta, d))
}

// PointerUp ends the active gesture wherever the pointer is released.
func (c *Controller) PointerUp(screen geometry.Point) {
	c.PointerMove(screen)
	c.end()
}

func (c *Controller) end() {
	c.mu.Lock()
	c.state = StateIdle
	c.handle = ""
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()
	if unregister != nil {
		unregister()
	}
}

// Close abandons any gesture and deregisters from the hub.
func (c *Controller) Close() {
	c.end()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
