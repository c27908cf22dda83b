package board

import (
	"fmt"
	"strings"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

type WindowType string

const (
	TypeText        WindowType = "text"
	TypeMyComputer  WindowType = "myComputer"
	TypeLogin       WindowType = "login"
	TypeFeedback    WindowType = "feedback"
	TypeImage       WindowType = "image"
	TypeAssistant3D WindowType = "assistant3D"
	TypePlans       WindowType = "plans"
)

const (
	ZIndexCeiling    = 10000
	PrivilegedZBonus = 1000
	AssistantMargin  = 20.0
)

// WindowTypes lists every known window type in a stable order.
var WindowTypes = []WindowType{
	TypeText,
	TypeMyComputer,
	TypeLogin,
	TypeFeedback,
	TypeImage,
	TypeAssistant3D,
	TypePlans,
}

func ParseWindowType(raw string) (WindowType, error) {
	trimmed := strings.TrimSpace(raw)
	for _, t := range WindowTypes {
		if strings.EqualFold(string(t), trimmed) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown window type %q", ErrValidation, raw)
}

// Capabilities is what a window type is allowed to do and how big it starts.
type Capabilities struct {
	Editable    bool
	Draggable   bool
	Resizable   bool
	Privileged  bool
	DefaultSize geometry.Size
	MinSize     geometry.Size
}

var genericMinSize = geometry.Size{Width: 200, Height: 150}

func (t WindowType) Capabilities() Capabilities {
	switch t {
	case TypeText:
		return Capabilities{
			Editable:    true,
			Draggable:   true,
			Resizable:   true,
			DefaultSize: geometry.Size{Width: 400, Height: 300},
			MinSize:     genericMinSize,
		}
	case TypeMyComputer:
		return Capabilities{
			Draggable:   true,
			Resizable:   true,
			DefaultSize: geometry.Size{Width: 320, Height: 240},
			MinSize:     genericMinSize,
		}
	case TypeLogin:
		return Capabilities{
			Draggable:   true,
			DefaultSize: geometry.Size{Width: 320, Height: 280},
			MinSize:     geometry.Size{Width: 320, Height: 280},
		}
	case TypeFeedback:
		return Capabilities{
			Draggable:   true,
			Resizable:   true,
			DefaultSize: geometry.Size{Width: 360, Height: 300},
			MinSize:     genericMinSize,
		}
	case TypeImage:
		return Capabilities{
			Draggable:   true,
			Resizable:   true,
			DefaultSize: geometry.Size{Width: 400, Height: 300},
			MinSize:     genericMinSize,
		}
	case TypeAssistant3D:
		return Capabilities{
			Privileged:  true,
			DefaultSize: geometry.Size{Width: 300, Height: 300},
			MinSize:     geometry.Size{Width: 300, Height: 300},
		}
	case TypePlans:
		return Capabilities{
			Draggable:   true,
			DefaultSize: geometry.Size{Width: 640, Height: 480},
			MinSize:     geometry.Size{Width: 640, Height: 480},
		}
	default:
		return Capabilities{
			Draggable:   true,
			DefaultSize: geometry.Size{Width: 400, Height: 300},
			MinSize:     genericMinSize,
		}
	}
}

// Window is one virtual window on the canvas. Position is in canvas
// coordinates and is nil only between creation and first placement.
type Window struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Type     WindowType      `json:"type"`
	Position *geometry.Point `json:"position,omitempty"`
	Size     geometry.Size   `json:"size"`
	ZIndex   int             `json:"zIndex"`
	ReadOnly bool            `json:"isReadOnly"`
	IsNew    bool            `json:"isNew,omitempty"`
}

func (w Window) clone() Window {
	if w.Position != nil {
		p := *w.Position
		w.Position = &p
	}
	return w
}

// Placed reports whether the window has a canvas position.
func (w Window) Placed() bool {
	return w.Position != nil
}

// WindowInit describes a window to create. Zero fields are defaulted.
type WindowInit struct {
	Title    string          `json:"title,omitempty"`
	Content  string          `json:"content,omitempty"`
	Type     WindowType      `json:"type,omitempty"`
	Position *geometry.Point `json:"position,omitempty"`
	Size     geometry.Size   `json:"size,omitempty"`
	ReadOnly *bool           `json:"isReadOnly,omitempty"`
}

// WindowPatch is a partial update; nil fields are left untouched.
type WindowPatch struct {
	Title    *string         `json:"title,omitempty"`
	Content  *string         `json:"content,omitempty"`
	Position *geometry.Point `json:"position,omitempty"`
	Size     *geometry.Size  `json:"size,omitempty"`
	ZIndex   *int            `json:"zIndex,omitempty"`
	ReadOnly *bool           `json:"isReadOnly,omitempty"`
	IsNew    *bool           `json:"isNew,omitempty"`
}

func clampSize(size, min geometry.Size) geometry.Size {
	if size.Width < min.Width {
		size.Width = min.Width
	}
	if size.Height < min.Height {
		size.Height = min.Height
	}
	return size
}

func clampZIndex(t WindowType, z int) int {
	if t.Capabilities().Privileged {
		return ZIndexCeiling + PrivilegedZBonus
	}
	if z < 0 {
		return 0
	}
	if z > ZIndexCeiling {
		return ZIndexCeiling
	}
	return z
}

func assistantPosition(size geometry.Size, vp geometry.Viewport, viewportSize geometry.Size) geometry.Point {
	vp = vp.Normalize()
	screen := geometry.Point{
		X: viewportSize.Width - size.Width*vp.Zoom - AssistantMargin,
		Y: AssistantMargin,
	}
	return geometry.ScreenToCanvas(screen, vp)
}
