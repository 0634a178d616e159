package protocol

import (
	"encoding/json"
	"fmt"
)

// partEnvelope is the storage encoding for the Part union: a type tag plus
// exactly one populated payload field.
type partEnvelope struct {
	Type string    `json:"type"`
	Text *TextPart `json:"text,omitempty"`
	File *FilePart `json:"file,omitempty"`
	Tool *ToolPart `json:"tool,omitempty"`
}

// MarshalParts encodes a part list for persistence.
func MarshalParts(parts []Part) ([]byte, error) {
	envs := make([]partEnvelope, 0, len(parts))
	for _, p := range parts {
		env := partEnvelope{Type: p.PartType()}
		switch v := p.(type) {
		case *TextPart:
			env.Text = v
		case *FilePart:
			env.File = v
		case *ToolPart:
			env.Tool = v
		default:
			return nil, fmt.Errorf("protocol: unsupported part %T", p)
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// messageWire mirrors Message with parts in envelope form so the union
// survives a JSON round trip.
type messageWire struct {
	ID       string          `json:"id"`
	Role     Role            `json:"role"`
	Parts    json.RawMessage `json:"parts,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	parts, err := MarshalParts(m.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageWire{ID: m.ID, Role: m.Role, Parts: parts, Metadata: m.Metadata})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Role = w.Role
	m.Metadata = w.Metadata
	if len(w.Parts) > 0 {
		parts, err := UnmarshalParts(w.Parts)
		if err != nil {
			return err
		}
		m.Parts = parts
	}
	return nil
}

// UnmarshalParts decodes a part list persisted by MarshalParts. Envelopes
// with an unrecognized type are skipped for forward compatibility.
func UnmarshalParts(data []byte) ([]Part, error) {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("protocol: invalid parts json: %w", err)
	}

	parts := make([]Part, 0, len(envs))
	for _, env := range envs {
		switch env.Type {
		case PartTypeText:
			if env.Text != nil {
				parts = append(parts, env.Text)
			}
		case PartTypeFile:
			if env.File != nil {
				parts = append(parts, env.File)
			}
		case PartTypeTool:
			if env.Tool != nil {
				parts = append(parts, env.Tool)
			}
		}
	}
	return parts, nil
}
