package stores

import (
	"log"

	"github.com/voxa-labs/chatcore/protocol"
)

// SanitizeHistory ensures a stored message list has valid turn structure
// before it is handed back to a session or a provider adapter.
// It handles two main issues:
// 1. Truncation breaking turns - history must not start with an assistant message
// 2. Interrupted streams - assistant messages persisted mid-turn can carry tool
//    parts that never reached a terminal state
//
// The function ensures:
// - History always starts with a user message
// - No assistant message in the middle of history carries unresolved tool parts
// - Unresolved tool parts on the LAST assistant message are kept, because the
//   outcome may still arrive in the current turn (approval round trip)
func SanitizeHistory(msgs []*protocol.Message) []*protocol.Message {
	if len(msgs) == 0 {
		return msgs
	}

	// Step 1: Find a valid starting point. Assistant messages at the head are
	// orphaned replies whose user turn was truncated away.
	startIdx := -1
	for i, msg := range msgs {
		if msg.Role == protocol.RoleUser {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		log.Printf("[HISTORY_SANITIZER] No user message found, returning empty history")
		return []*protocol.Message{}
	}
	if startIdx > 0 {
		log.Printf("[HISTORY_SANITIZER] Skipping first %d messages to find valid start (was role: %s)", startIdx, msgs[0].Role)
		msgs = msgs[startIdx:]
	}

	// Step 2: Resolve interrupted tool parts.
	sanitized := make([]*protocol.Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg.Role != protocol.RoleAssistant || i == len(msgs)-1 {
			sanitized = append(sanitized, msg)
			continue
		}
		cleaned := stripUnresolvedToolParts(msg)
		if len(cleaned.Parts) == 0 {
			log.Printf("[HISTORY_SANITIZER] Dropping assistant message %s: nothing left after removing unresolved tool parts", msg.ID)
			continue
		}
		sanitized = append(sanitized, cleaned)
	}

	return sanitized
}

// stripUnresolvedToolParts returns the message with non-terminal tool parts
// removed. The input message is not modified.
func stripUnresolvedToolParts(msg *protocol.Message) *protocol.Message {
	kept := make([]protocol.Part, 0, len(msg.Parts))
	removed := 0
	for _, part := range msg.Parts {
		if tp, ok := part.(*protocol.ToolPart); ok && !tp.State.Terminal() {
			removed++
			continue
		}
		kept = append(kept, part)
	}
	if removed == 0 {
		return msg
	}
	log.Printf("[HISTORY_SANITIZER] Removed %d unresolved tool part(s) from message %s", removed, msg.ID)
	out := *msg
	out.Parts = kept
	return &out
}

// DetectCorruptedHistory checks if the history has issues that would confuse a
// provider. Returns a list of issues found (empty if history is clean).
func DetectCorruptedHistory(msgs []*protocol.Message) []string {
	issues := []string{}

	if len(msgs) == 0 {
		return issues
	}

	if msgs[0].Role == protocol.RoleAssistant {
		issues = append(issues, "History starts with an assistant message (truncated turn)")
	}

	for i, msg := range msgs {
		if msg.Role != protocol.RoleAssistant || i == len(msgs)-1 {
			continue
		}
		for _, tp := range msg.ToolParts() {
			if !tp.State.Terminal() {
				issues = append(issues, "Unresolved tool part in the middle of history: "+tp.ToolCallID)
			}
		}
	}

	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].Role == protocol.RoleUser && msgs[i].Role == protocol.RoleUser {
			issues = append(issues, "Two consecutive user messages")
		}
	}

	return issues
}
