package protocol

// ToolState is the lifecycle state of a tool invocation. Transitions are
// monotonic and form a DAG:
//
//	input-streaming -> input-available -> approval-requested -> approval-responded -> output-available | output-error
//
// Tools that need no confirmation skip from input-available straight to an
// output state.
type ToolState string

const (
	ToolInputStreaming    ToolState = "input-streaming"
	ToolInputAvailable    ToolState = "input-available"
	ToolApprovalRequested ToolState = "approval-requested"
	ToolApprovalResponded ToolState = "approval-responded"
	ToolOutputAvailable   ToolState = "output-available"
	ToolOutputError       ToolState = "output-error"
)

// CanTransition reports whether moving from s to next is a legal forward
// step of the DAG. Self transitions are not legal; the reconciler treats
// repeated chunks for an already-reached state as no-ops.
func (s ToolState) CanTransition(next ToolState) bool {
	switch s {
	case ToolInputStreaming:
		return next == ToolInputAvailable
	case ToolInputAvailable:
		return next == ToolApprovalRequested || next == ToolOutputAvailable || next == ToolOutputError
	case ToolApprovalRequested:
		return next == ToolApprovalResponded
	case ToolApprovalResponded:
		return next == ToolOutputAvailable || next == ToolOutputError
	default:
		return false
	}
}

// Terminal reports whether the tool call has reached an output state.
// approval-responded is terminal for the turn but not for the call: the
// user decided, the tool has not necessarily run.
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError
}
