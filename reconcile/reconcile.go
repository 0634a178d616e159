// Package reconcile folds transport chunks into the message-list data
// model and decides when a follow-up request must be sent automatically.
package reconcile

import (
	"fmt"
	"log"
	"os"

	"github.com/voxa-labs/chatcore/protocol"
)

// Reconciler applies chunks to a message list. Text parts mutate in place
// for streaming efficiency; the shape of every update is that of a pure
// fold.
type Reconciler struct {
	Registry *protocol.Registry
	Logger   *log.Logger
}

func NewReconciler(registry *protocol.Registry) *Reconciler {
	if registry == nil {
		registry = protocol.NewRegistry()
	}
	return &Reconciler{
		Registry: registry,
		Logger:   log.New(os.Stdout, "[reconcile] ", log.LstdFlags),
	}
}

// ApplyChunk folds one chunk into the list and returns the updated list.
// Chunks that reference unknown tool calls or would move a tool state
// backwards are dropped; arrival order within a stream is preserved by the
// caller feeding chunks one at a time.
func (r *Reconciler) ApplyChunk(list []*protocol.Message, chunk protocol.Chunk) []*protocol.Message {
	switch c := chunk.(type) {
	case protocol.TextDeltaChunk:
		msg, out := lastAssistant(list)
		r.appendTextDelta(msg, c)
		return out

	case protocol.ToolInputStartChunk:
		msg, out := lastAssistant(list)
		if msg.ToolPartByCallID(c.ToolCallID) == nil {
			msg.Parts = append(msg.Parts, &protocol.ToolPart{
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				State:      protocol.ToolInputStreaming,
			})
		}
		return out

	case protocol.ToolInputDeltaChunk:
		if tp := findTool(list, c.ToolCallID); tp != nil && tp.State == protocol.ToolInputStreaming {
			tp.InputText += c.InputTextDelta
		}
		return list

	case protocol.ToolInputAvailableChunk:
		msg, out := lastAssistant(list)
		tp := msg.ToolPartByCallID(c.ToolCallID)
		if tp == nil {
			tp = &protocol.ToolPart{
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				State:      protocol.ToolInputAvailable,
			}
			msg.Parts = append(msg.Parts, tp)
		} else if tp.State.CanTransition(protocol.ToolInputAvailable) {
			tp.State = protocol.ToolInputAvailable
		} else if tp.State != protocol.ToolInputAvailable {
			return out
		}
		tp.Input = c.Input
		r.decodeInput(tp)
		return out

	case protocol.ToolApprovalRequestChunk:
		msg, out := lastAssistant(list)
		tp := msg.ToolPartByCallID(c.ToolCallID)
		if tp == nil {
			tp = &protocol.ToolPart{
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				State:      protocol.ToolInputAvailable,
				Input:      c.Input,
			}
			r.decodeInput(tp)
			msg.Parts = append(msg.Parts, tp)
		}
		if !tp.State.CanTransition(protocol.ToolApprovalRequested) {
			return out
		}
		tp.State = protocol.ToolApprovalRequested
		tp.Approval = &protocol.Approval{ID: c.ApprovalID, Reason: c.Reason}
		return out

	case protocol.ToolOutputAvailableChunk:
		if tp := findTool(list, c.ToolCallID); tp != nil && tp.State.CanTransition(protocol.ToolOutputAvailable) {
			tp.State = protocol.ToolOutputAvailable
			tp.Output = c.Output
		}
		return list

	case protocol.ToolOutputErrorChunk:
		if tp := findTool(list, c.ToolCallID); tp != nil && tp.State.CanTransition(protocol.ToolOutputError) {
			tp.State = protocol.ToolOutputError
			tp.ErrorText = c.ErrorText
		}
		return list

	case protocol.FileChunk:
		msg, out := lastAssistant(list)
		msg.Parts = append(msg.Parts, &protocol.FilePart{URL: c.URL, MediaType: c.MediaType})
		return out

	case protocol.FinishChunk:
		if len(list) > 0 && list[len(list)-1].Role == protocol.RoleAssistant && c.Usage != nil {
			msg := list[len(list)-1]
			if msg.Metadata == nil {
				msg.Metadata = &protocol.Metadata{}
			}
			msg.Metadata.Usage = c.Usage
		}
		return list

	default:
		// ping/pong and data-pcm are handled before the reconciler.
		return list
	}
}

// RespondToApproval applies the user's decision to the tool part carrying
// the given approval id. The decision is immutable once recorded.
func (r *Reconciler) RespondToApproval(list []*protocol.Message, resp protocol.ApprovalResponse) error {
	if len(list) == 0 {
		return fmt.Errorf("reconcile: no messages")
	}
	msg := list[len(list)-1]
	if msg.Role != protocol.RoleAssistant {
		return fmt.Errorf("reconcile: last message is not from the assistant")
	}

	tp := msg.ToolPartByApprovalID(resp.ID)
	if tp == nil {
		return fmt.Errorf("reconcile: no tool part with approval id %q", resp.ID)
	}
	if tp.Approval.Approved != nil {
		return fmt.Errorf("reconcile: approval %q already responded", resp.ID)
	}
	if !tp.State.CanTransition(protocol.ToolApprovalResponded) {
		return fmt.Errorf("reconcile: tool %q in state %q cannot accept an approval response", tp.ToolCallID, tp.State)
	}

	approved := resp.Approved
	tp.State = protocol.ToolApprovalResponded
	tp.Approval.Approved = &approved
	if resp.Reason != "" {
		tp.Approval.Reason = resp.Reason
	}
	return nil
}

func (r *Reconciler) appendTextDelta(msg *protocol.Message, c protocol.TextDeltaChunk) {
	if len(msg.Parts) > 0 {
		if tp, ok := msg.Parts[len(msg.Parts)-1].(*protocol.TextPart); ok {
			if c.ID == "" || tp.RunID == c.ID {
				tp.Text += c.Delta
				return
			}
		}
	}
	msg.Parts = append(msg.Parts, &protocol.TextPart{RunID: c.ID, Text: c.Delta})
}

func (r *Reconciler) decodeInput(tp *protocol.ToolPart) {
	if r.Registry == nil || len(tp.Input) == 0 {
		return
	}
	v, err := r.Registry.Decode(tp.ToolName, tp.Input)
	if err != nil {
		r.Logger.Printf("tool %s input rejected by schema: %v", tp.ToolName, err)
		return
	}
	tp.InputValue = v
}

// lastAssistant returns the trailing assistant message, creating one when
// the list is empty or ends with a user message.
func lastAssistant(list []*protocol.Message) (*protocol.Message, []*protocol.Message) {
	if len(list) > 0 && list[len(list)-1].Role == protocol.RoleAssistant {
		return list[len(list)-1], list
	}
	msg := protocol.NewAssistantMessage()
	return msg, append(list, msg)
}

// findTool locates a tool part by call id in the trailing assistant
// message. Chunks never reach back past the current turn.
func findTool(list []*protocol.Message, toolCallID string) *protocol.ToolPart {
	if len(list) == 0 {
		return nil
	}
	msg := list[len(list)-1]
	if msg.Role != protocol.RoleAssistant {
		return nil
	}
	return msg.ToolPartByCallID(toolCallID)
}
