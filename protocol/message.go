package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part type discriminators.
const (
	PartTypeText = "text"
	PartTypeFile = "file"
	PartTypeTool = "tool"
)

// Usage holds token accounting reported by the backend.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}

// Metadata carries per-message extras reported on finish.
type Metadata struct {
	Usage     *Usage   `json:"usage,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

// Message is one entry in the conversation. The ID is stable across
// reconciliation passes; parts are appended or updated in place and
// preserve arrival order.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Parts    []Part    `json:"parts"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Part is one semantic piece of a message's content. Implementations are
// pointers so streaming updates mutate the part already held by the
// message list.
type Part interface {
	PartType() string
}

// TextPart is an append-only text run. Consecutive deltas with the same
// RunID extend this part rather than opening a new one.
type TextPart struct {
	RunID string `json:"runId,omitempty"`
	Text  string `json:"text"`
}

// FilePart is a static attachment, set once and never updated.
type FilePart struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

// Approval tracks the confirmation handshake gating a tool call. The ID is
// opaque and never equal to the tool-call id. Approved stays nil until the
// user decides and is immutable afterwards.
type Approval struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ToolPart is a tool invocation with its lifecycle state.
type ToolPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      ToolState       `json:"state"`
	InputText  string          `json:"inputText,omitempty"` // streamed argument fragments
	Input      json.RawMessage `json:"input,omitempty"`
	InputValue any             `json:"-"` // decoded via the schema registry
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Approval   *Approval       `json:"approval,omitempty"`
}

func (*TextPart) PartType() string { return PartTypeText }
func (*FilePart) PartType() string { return PartTypeFile }
func (*ToolPart) PartType() string { return PartTypeTool }

// NewUserMessage builds a single-text-part user message with a fresh id.
func NewUserMessage(text string) *Message {
	return &Message{
		ID:    uuid.New().String(),
		Role:  RoleUser,
		Parts: []Part{&TextPart{Text: text}},
	}
}

// NewAssistantMessage builds an empty assistant message with a fresh id.
func NewAssistantMessage() *Message {
	return &Message{
		ID:   uuid.New().String(),
		Role: RoleAssistant,
	}
}

// ToolPartByCallID returns the tool part with the given call id, or nil.
func (m *Message) ToolPartByCallID(toolCallID string) *ToolPart {
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok && tp.ToolCallID == toolCallID {
			return tp
		}
	}
	return nil
}

// ToolPartByApprovalID returns the tool part whose approval handshake has
// the given id, or nil. The id is treated as opaque.
func (m *Message) ToolPartByApprovalID(approvalID string) *ToolPart {
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok && tp.Approval != nil && tp.Approval.ID == approvalID {
			return tp
		}
	}
	return nil
}

// ToolParts returns the message's tool parts in arrival order.
func (m *Message) ToolParts() []*ToolPart {
	var out []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			s += tp.Text
		}
	}
	return s
}

// ApprovalResponse is what the UI sends back after the user decides. It
// carries the approval id, never the original tool-call id.
type ApprovalResponse struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
