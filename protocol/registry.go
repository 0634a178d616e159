package protocol

import (
	"encoding/json"
	"sync"
)

// Decoder turns a raw tool payload into a typed value, validating it on
// the way in.
type Decoder func(raw json.RawMessage) (any, error)

// UnknownTool is the fallback payload for tool names with no registered
// decoder, kept raw for forward compatibility.
type UnknownTool struct {
	Name string
	Raw  json.RawMessage
}

// Registry maps tool names to payload decoders. Validation happens at the
// chunk-parsing boundary so downstream code only sees typed values.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register installs (or replaces) the decoder for a tool name.
func (r *Registry) Register(toolName string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[toolName] = d
}

// Decode applies the registered decoder for toolName. Unregistered names
// decode to UnknownTool rather than failing.
func (r *Registry) Decode(toolName string, raw json.RawMessage) (any, error) {
	r.mu.RLock()
	d, ok := r.decoders[toolName]
	r.mu.RUnlock()

	if !ok {
		return UnknownTool{Name: toolName, Raw: raw}, nil
	}
	return d(raw)
}

// DecodeInto returns a Decoder that unmarshals into a fresh value produced
// by newValue, for tools with a fixed input struct.
func DecodeInto(newValue func() any) Decoder {
	return func(raw json.RawMessage) (any, error) {
		v := newValue()
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
