package stores

import (
	"encoding/json"
	"fmt"

	"github.com/voxa-labs/chatcore/protocol"
)

// encodeMessage flattens a protocol message into its stored row form.
func encodeMessage(conversationID string, sequence int, msg *protocol.Message) (StoredMessage, error) {
	parts, err := protocol.MarshalParts(msg.Parts)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("stores: marshal parts: %w", err)
	}

	metadata := ""
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return StoredMessage{}, fmt.Errorf("stores: marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	return StoredMessage{
		ConversationID: conversationID,
		Sequence:       sequence,
		MessageID:      msg.ID,
		Role:           string(msg.Role),
		PartsJSON:      string(parts),
		MetadataJSON:   metadata,
	}, nil
}

// decodeMessage rebuilds a protocol message from its stored row.
func decodeMessage(row StoredMessage) (*protocol.Message, error) {
	msg := &protocol.Message{
		ID:   row.MessageID,
		Role: protocol.Role(row.Role),
	}

	if row.PartsJSON != "" && row.PartsJSON != "null" {
		parts, err := protocol.UnmarshalParts([]byte(row.PartsJSON))
		if err != nil {
			return nil, fmt.Errorf("stores: parts for message %s: %w", row.MessageID, err)
		}
		msg.Parts = parts
	}

	if row.MetadataJSON != "" && row.MetadataJSON != "null" {
		var meta protocol.Metadata
		if err := json.Unmarshal([]byte(row.MetadataJSON), &meta); err != nil {
			return nil, fmt.Errorf("stores: metadata for message %s: %w", row.MessageID, err)
		}
		msg.Metadata = &meta
	}

	return msg, nil
}
