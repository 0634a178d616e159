package reconcile

import "github.com/voxa-labs/chatcore/protocol"

// SendAutomaticallyWhen decides, after a reconciliation step, whether the
// transport must be re-invoked with the updated list without waiting for
// user input. This closes the tool-approval round trip.
//
// The predicate is evaluated defensively: any panic maps to false. A crash
// that the caller retries would loop; silently not auto-sending is the
// safer failure.
//
// True exactly in the window between an approval response and the first
// terminal tool output of the same message:
//   - a false positive re-triggers the same approval chunk forever,
//   - a false negative visibly stalls the conversation.
func SendAutomaticallyWhen(list []*protocol.Message) (send bool) {
	defer func() {
		if recover() != nil {
			send = false
		}
	}()

	if len(list) == 0 {
		return false
	}
	last := list[len(list)-1]
	if last.Role != protocol.RoleAssistant {
		return false
	}

	tools := last.ToolParts()

	confirmation := false
	for _, tp := range tools {
		if tp.Approval != nil {
			confirmation = true
			break
		}
	}
	if !confirmation {
		return false
	}

	responded := false
	for _, tp := range tools {
		switch {
		case tp.State == protocol.ToolApprovalRequested:
			// The user has not decided yet; sending now would race the
			// decision.
			return false
		case tp.State == protocol.ToolOutputError:
			// Tool failures are terminal and never auto-retried.
			return false
		case tp.State.Terminal():
			// The backend (or a local executor) already produced a result
			// for this turn; re-sending would be redundant and is the
			// infinite-loop hazard this predicate exists to prevent.
			return false
		case tp.State == protocol.ToolApprovalResponded:
			responded = true
		}
	}

	// The decision has been made and nothing in this turn has executed
	// yet: forward it to unblock execution.
	return responded
}
