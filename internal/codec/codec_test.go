package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

func sampleState() State {
	return State{
		Nodes: []board.Node{
			{
				ID:        "a",
				Type:      board.TypeText,
				Position:  geometry.Point{X: 10, Y: -20},
				Width:     400,
				Height:    300,
				ZIndex:    1,
				Draggable: true,
				Data:      board.NodeData{Title: "Notes", Content: "<p>" + string(bytes.Repeat([]byte("hello "), 200)) + "</p>"},
			},
			{
				ID:       "b",
				Type:     board.TypeImage,
				Position: geometry.Point{X: 500, Y: 40},
				Width:    200,
				Height:   150,
				ZIndex:   2,
				Data:     board.NodeData{ReadOnly: true},
			},
		},
		Edges:    []board.Edge{{ID: "e-a-b", Source: "a", Target: "b"}},
		Viewport: geometry.Viewport{X: 12, Y: 34, Zoom: 1.5},
	}
}

func TestEncodeDecode(t *testing.T) {
	in := sampleState()
	blob, err := Encode(in)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(blob, zstdMagic))

	raw, err := Marshal(in)
	require.NoError(t, err)
	assert.Less(t, len(blob), len(raw), "expected compression to shrink a repetitive payload")

	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, in.Nodes, out.Nodes)
	assert.Equal(t, in.Edges, out.Edges)
	assert.Equal(t, in.Viewport, out.Viewport)
}

func TestDecodeAcceptsPlainJSON(t *testing.T) {
	out, err := Decode([]byte(`{"nodes":[],"edges":null,"viewport":{"x":0,"y":0,"zoom":1},"version":1}`))
	require.NoError(t, err)
	assert.Empty(t, out.Nodes)
	assert.NotNil(t, out.Edges)
}

func TestDecodeFailsClosed(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"garbage":        []byte("not json at all"),
		"truncated zstd": append(append([]byte(nil), zstdMagic...), 0x01, 0x02),
		"missing nodes":  []byte(`{"edges":[],"viewport":{"x":0,"y":0,"zoom":1}}`),
		"bad node":       []byte(`{"nodes":[{"id":"","position":{"x":0,"y":0}}],"edges":[],"viewport":{"x":0,"y":0,"zoom":1}}`),
		"bad zoom":       []byte(`{"nodes":[],"edges":[],"viewport":{"x":0,"y":0,"zoom":0}}`),
		"wrong types":    []byte(`{"nodes":"x","edges":[],"viewport":{"x":0,"y":0,"zoom":1}}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestEncodeStampsVersionAndDefaults(t *testing.T) {
	blob, err := Encode(State{Viewport: geometry.Viewport{Zoom: 99}})
	require.NoError(t, err)
	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, geometry.MaxZoom, out.Viewport.Zoom)
	assert.NotNil(t, out.Nodes)
}

func TestMarshalIsStable(t *testing.T) {
	a, err := Marshal(sampleState())
	require.NoError(t, err)
	b, err := Marshal(sampleState())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmpty(t *testing.T) {
	blob, err := Encode(Empty())
	require.NoError(t, err)
	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, geometry.DefaultViewport(), out.Viewport)
}
