// Package geometry converts between screen pixels and canvas coordinates and
// computes placement for newly created windows. Everything here is pure.
package geometry

import "math"

const (
	MinZoom   = 0.1
	MaxZoom   = 4.0
	ZoomSpeed = 0.1

	ProximityRadius = 200.0
	CascadeOffset   = 30.0
	MaxCascade      = 10
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y}
}

func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) IsZero() bool {
	return s.Width <= 0 && s.Height <= 0
}

type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

func (r Rect) Center() Point {
	return Point{X: r.Origin.X + r.Size.Width/2, Y: r.Origin.Y + r.Size.Height/2}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.Origin.X && p.X <= r.Origin.X+r.Size.Width &&
		p.Y >= r.Origin.Y && p.Y <= r.Origin.Y+r.Size.Height
}

// Viewport is the renderer pan offset (screen pixels) plus zoom.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// Normalize returns vp with a usable zoom level.
func (vp Viewport) Normalize() Viewport {
	if vp.Zoom <= 0 || math.IsNaN(vp.Zoom) || math.IsInf(vp.Zoom, 0) {
		vp.Zoom = 1
	}
	vp.Zoom = ClampZoom(vp.Zoom)
	return vp
}

func ScreenToCanvas(p Point, vp Viewport) Point {
	vp = vp.Normalize()
	return Point{
		X: (p.X - vp.X) / vp.Zoom,
		Y: (p.Y - vp.Y) / vp.Zoom,
	}
}

func CanvasToScreen(p Point, vp Viewport) Point {
	vp = vp.Normalize()
	return Point{
		X: p.X*vp.Zoom + vp.X,
		Y: p.Y*vp.Zoom + vp.Y,
	}
}

// VisibleRect is the part of the canvas currently on screen.
func VisibleRect(vp Viewport, viewportSize Size) Rect {
	vp = vp.Normalize()
	return Rect{
		Origin: ScreenToCanvas(Point{}, vp),
		Size:   Size{Width: viewportSize.Width / vp.Zoom, Height: viewportSize.Height / vp.Zoom},
	}
}

func ClampZoom(zoom float64) float64 {
	return math.Min(MaxZoom, math.Max(MinZoom, zoom))
}

// Zoom applies steps wheel/pinch events multiplicatively (positive steps zoom
// in) and keeps the canvas point under anchor stationary on screen.
func Zoom(vp Viewport, steps float64, anchor Point) Viewport {
	vp = vp.Normalize()
	before := ScreenToCanvas(anchor, vp)
	next := ClampZoom(vp.Zoom * math.Pow(1+ZoomSpeed, steps))
	return Viewport{
		X:    anchor.X - before.X*next,
		Y:    anchor.Y - before.Y*next,
		Zoom: next,
	}
}

func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// InitialPlacement centres a window of windowSize in the visible viewport and
// cascades it away from windows already sitting near that spot.
func InitialPlacement(vp Viewport, viewportSize, windowSize Size, existing []Point) Point {
	center := ScreenToCanvas(Point{X: viewportSize.Width / 2, Y: viewportSize.Height / 2}, vp)
	base := Point{X: center.X - windowSize.Width/2, Y: center.Y - windowSize.Height/2}

	nearby := 0
	for _, p := range existing {
		if Distance(p, base) < ProximityRadius {
			nearby++
		}
	}
	if nearby == 0 || MaxCascade <= 0 {
		return base
	}
	offset := float64(nearby%MaxCascade) * CascadeOffset
	return Point{X: base.X + offset, Y: base.Y + offset}
}
