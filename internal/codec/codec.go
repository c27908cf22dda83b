// Package codec turns whiteboard snapshots into the compressed blobs kept by
// the remote store and back. Decoding fails closed: anything that does not
// decompress, parse and validate is reported as ErrCorrupt.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
)

// CurrentVersion is written on every save. No migration consumes it yet.
const CurrentVersion = 1

const maxDecodedBytes = 64 << 20

var ErrCorrupt = errors.New("corrupt whiteboard data")

type CorruptError struct {
	Stage string
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt whiteboard data (%s): %v", e.Stage, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// State is a full whiteboard snapshot.
type State struct {
	Nodes    []board.Node      `json:"nodes"`
	Edges    []board.Edge      `json:"edges"`
	Viewport geometry.Viewport `json:"viewport"`
	Version  int               `json:"version"`
}

// Empty returns the state of a freshly created whiteboard.
func Empty() State {
	return State{
		Nodes:    []board.Node{},
		Edges:    []board.Edge{},
		Viewport: geometry.DefaultViewport(),
		Version:  CurrentVersion,
	}
}

const stateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes", "edges", "viewport"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "position"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "position": {
            "type": "object",
            "required": ["x", "y"],
            "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
          },
          "width": {"type": "number", "minimum": 0},
          "height": {"type": "number", "minimum": 0},
          "zIndex": {"type": "integer"},
          "data": {
            "type": "object",
            "properties": {
              "title": {"type": "string"},
              "content": {"type": "string"},
              "isReadOnly": {"type": "boolean"}
            }
          }
        }
      }
    },
    "edges": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1}
        }
      }
    },
    "viewport": {
      "type": "object",
      "required": ["x", "y", "zoom"],
      "properties": {
        "x": {"type": "number"},
        "y": {"type": "number"},
        "zoom": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "version": {"type": "integer", "minimum": 0}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	coderErr    error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(stateSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("whiteboard-state.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("whiteboard-state.json")
	})
	return schema, schemaErr
}

func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	encoderOnce.Do(func() {
		encoder, coderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if coderErr != nil {
			return
		}
		decoder, coderErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	})
	return encoder, decoder, coderErr
}

// Marshal is the canonical JSON form of a snapshot, used for change
// detection and as the payload that gets compressed.
func Marshal(state State) ([]byte, error) {
	if state.Nodes == nil {
		state.Nodes = []board.Node{}
	}
	if state.Edges == nil {
		state.Edges = []board.Edge{}
	}
	state.Viewport = state.Viewport.Normalize()
	return json.Marshal(state)
}

// Encode serializes and compresses a snapshot. Version is always stamped.
func Encode(state State) ([]byte, error) {
	state.Version = CurrentVersion
	raw, err := Marshal(state)
	if err != nil {
		return nil, err
	}
	enc, _, err := coders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Decode reverses Encode. Plain JSON blobs written before compression was
// introduced are accepted as-is.
func Decode(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return State{}, &CorruptError{Stage: "read", Err: errors.New("empty payload")}
	}
	raw := data
	if bytes.HasPrefix(data, zstdMagic) {
		_, dec, err := coders()
		if err != nil {
			return State{}, err
		}
		raw, err = dec.DecodeAll(data, nil)
		if err != nil {
			return State{}, &CorruptError{Stage: "decompress", Err: err}
		}
	}
	return decodeJSON(raw)
}

func decodeJSON(raw []byte) (State, error) {
	sch, err := compiledSchema()
	if err != nil {
		return State{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return State{}, &CorruptError{Stage: "parse", Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		return State{}, &CorruptError{Stage: "validate", Err: err}
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, &CorruptError{Stage: "parse", Err: err}
	}
	if state.Edges == nil {
		state.Edges = []board.Edge{}
	}
	state.Viewport = state.Viewport.Normalize()
	return state, nil
}
