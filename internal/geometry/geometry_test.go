package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenCanvasRoundTrip(t *testing.T) {
	viewports := []Viewport{
		{X: 0, Y: 0, Zoom: 1},
		{X: -350.5, Y: 120.25, Zoom: 0.37},
		{X: 1024, Y: -768, Zoom: 3.9},
		{X: 12, Y: 7, Zoom: MinZoom},
	}
	points := []Point{{0, 0}, {640, 480}, {-20.5, 9999.75}, {1e-3, -1e-3}}
	for _, vp := range viewports {
		for _, p := range points {
			got := CanvasToScreen(ScreenToCanvas(p, vp), vp)
			assert.InDelta(t, p.X, got.X, 1e-9, "viewport %+v point %+v", vp, p)
			assert.InDelta(t, p.Y, got.Y, 1e-9, "viewport %+v point %+v", vp, p)
		}
	}
}

func TestScreenToCanvasUsesOffsetThenZoom(t *testing.T) {
	got := ScreenToCanvas(Point{X: 300, Y: 250}, Viewport{X: 100, Y: 50, Zoom: 2})
	assert.Equal(t, Point{X: 100, Y: 100}, got)
}

func TestZoomCompoundsAndClamps(t *testing.T) {
	vp := DefaultViewport()
	once := Zoom(vp, 1, Point{})
	twice := Zoom(once, 1, Point{})
	assert.InDelta(t, 1.1, once.Zoom, 1e-9)
	assert.InDelta(t, 1.21, twice.Zoom, 1e-9)

	huge := Zoom(vp, 500, Point{})
	assert.Equal(t, MaxZoom, huge.Zoom)
	tiny := Zoom(vp, -500, Point{})
	assert.Equal(t, MinZoom, tiny.Zoom)
}

func TestZoomKeepsAnchorStationary(t *testing.T) {
	vp := Viewport{X: 40, Y: -10, Zoom: 0.8}
	anchor := Point{X: 320, Y: 200}
	before := ScreenToCanvas(anchor, vp)
	next := Zoom(vp, 3, anchor)
	after := ScreenToCanvas(anchor, next)
	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)
}

func TestInitialPlacementCentersInEmptyViewport(t *testing.T) {
	got := InitialPlacement(Viewport{Zoom: 1}, Size{Width: 500, Height: 400}, Size{Width: 300, Height: 200}, nil)
	assert.Equal(t, Point{X: 100, Y: 100}, got)
}

func TestInitialPlacementCascadesFromNearbyWindow(t *testing.T) {
	existing := []Point{{X: 100, Y: 100}}
	got := InitialPlacement(Viewport{Zoom: 1}, Size{Width: 500, Height: 400}, Size{Width: 300, Height: 200}, existing)
	assert.Equal(t, Point{X: 130, Y: 130}, got)
}

func TestInitialPlacementIsDeterministicAndCyclic(t *testing.T) {
	existing := make([]Point, 0, MaxCascade)
	for i := 0; i < MaxCascade; i++ {
		existing = append(existing, Point{X: 100 + float64(i), Y: 100})
	}
	vp := Viewport{Zoom: 1}
	first := InitialPlacement(vp, Size{Width: 500, Height: 400}, Size{Width: 300, Height: 200}, existing)
	second := InitialPlacement(vp, Size{Width: 500, Height: 400}, Size{Width: 300, Height: 200}, existing)
	require.Equal(t, first, second)
	// MaxCascade nearby windows wrap back to the un-offset spot.
	assert.Equal(t, Point{X: 100, Y: 100}, first)
}

func TestInitialPlacementIgnoresDistantWindows(t *testing.T) {
	existing := []Point{{X: 2000, Y: 2000}}
	got := InitialPlacement(Viewport{Zoom: 1}, Size{Width: 500, Height: 400}, Size{Width: 300, Height: 200}, existing)
	assert.Equal(t, Point{X: 100, Y: 100}, got)
}

func TestVisibleRectAccountsForZoom(t *testing.T) {
	r := VisibleRect(Viewport{X: -200, Y: -100, Zoom: 2}, Size{Width: 800, Height: 600})
	assert.Equal(t, Point{X: 100, Y: 50}, r.Origin)
	assert.Equal(t, Size{Width: 400, Height: 300}, r.Size)
	assert.True(t, r.Contains(r.Center()))
}
