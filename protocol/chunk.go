package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Chunk type discriminators as they appear in the wire "type" field.
const (
	ChunkTypeTextDelta           = "text-delta"
	ChunkTypeToolInputStart      = "tool-input-start"
	ChunkTypeToolInputDelta      = "tool-input-delta"
	ChunkTypeToolInputAvailable  = "tool-input-available"
	ChunkTypeToolApprovalRequest = "tool-approval-request"
	ChunkTypeToolOutputAvailable = "tool-output-available"
	ChunkTypeToolOutputError     = "tool-output-error"
	ChunkTypeFile                = "file"
	ChunkTypeDataPCM             = "data-pcm"
	ChunkTypeFinish              = "finish"
	ChunkTypePing                = "ping"
	ChunkTypePong                = "pong"
)

// ErrUnknownChunk is returned by ParseChunk for a well-formed frame whose
// "type" field is not part of the protocol. Callers are expected to skip
// such frames rather than fail the stream.
var ErrUnknownChunk = errors.New("protocol: unknown chunk type")

// Chunk is the closed union of everything that crosses the transport
// boundary. Variants are value types; a Chunk is never retained past the
// reconciliation pass that consumed it.
type Chunk interface {
	ChunkType() string
}

// TextDeltaChunk carries an incremental piece of assistant text. ID
// identifies the text run so consecutive deltas land in the same part.
type TextDeltaChunk struct {
	ID    string
	Delta string
}

// ToolInputStartChunk opens a tool call whose arguments will stream in.
type ToolInputStartChunk struct {
	ToolCallID string
	ToolName   string
}

// ToolInputDeltaChunk carries a fragment of the streaming tool arguments.
type ToolInputDeltaChunk struct {
	ToolCallID     string
	InputTextDelta string
}

// ToolInputAvailableChunk marks the tool arguments as complete.
type ToolInputAvailableChunk struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
}

// ToolApprovalRequestChunk asks the user to approve or deny a tool call.
// ApprovalID identifies the handshake and is always distinct from
// ToolCallID: a backend may carry the request on a synthetic confirmation
// call while the original id stays reserved for matching the result.
type ToolApprovalRequestChunk struct {
	ToolCallID string
	ToolName   string
	ApprovalID string
	Input      json.RawMessage
	Reason     string
}

// ToolOutputAvailableChunk delivers the result of an executed tool call.
type ToolOutputAvailableChunk struct {
	ToolCallID string
	Output     json.RawMessage
}

// ToolOutputErrorChunk marks a tool call as failed. Terminal; never
// auto-retried.
type ToolOutputErrorChunk struct {
	ToolCallID string
	ErrorText  string
}

// FileChunk attaches a static file or image to the current message.
type FileChunk struct {
	URL       string
	MediaType string
}

// DataPCMChunk carries one frame of 16-bit PCM audio, base64 on the wire.
// It is a side channel for the audio pipeline and never reaches the
// message model.
type DataPCMChunk struct {
	Audio []byte
}

// FinishChunk ends the current response turn.
type FinishChunk struct {
	Usage *Usage
}

// PingChunk is an out-of-band keep-alive probe.
type PingChunk struct {
	Timestamp int64
}

// PongChunk is the reply to a ping, echoing its timestamp.
type PongChunk struct {
	Timestamp int64
}

func (TextDeltaChunk) ChunkType() string           { return ChunkTypeTextDelta }
func (ToolInputStartChunk) ChunkType() string      { return ChunkTypeToolInputStart }
func (ToolInputDeltaChunk) ChunkType() string      { return ChunkTypeToolInputDelta }
func (ToolInputAvailableChunk) ChunkType() string  { return ChunkTypeToolInputAvailable }
func (ToolApprovalRequestChunk) ChunkType() string { return ChunkTypeToolApprovalRequest }
func (ToolOutputAvailableChunk) ChunkType() string { return ChunkTypeToolOutputAvailable }
func (ToolOutputErrorChunk) ChunkType() string     { return ChunkTypeToolOutputError }
func (FileChunk) ChunkType() string                { return ChunkTypeFile }
func (DataPCMChunk) ChunkType() string             { return ChunkTypeDataPCM }
func (FinishChunk) ChunkType() string              { return ChunkTypeFinish }
func (PingChunk) ChunkType() string                { return ChunkTypePing }
func (PongChunk) ChunkType() string                { return ChunkTypePong }

// wireChunk is the flat JSON envelope shared by every chunk variant.
type wireChunk struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	ToolCallID     string          `json:"toolCallId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	InputTextDelta string          `json:"inputTextDelta,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	ErrorText      string          `json:"errorText,omitempty"`
	ApprovalID     string          `json:"approvalId,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	URL            string          `json:"url,omitempty"`
	MediaType      string          `json:"mediaType,omitempty"`
	Audio          string          `json:"audio,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
}

// ParseChunk decodes a single wire frame into its Chunk variant.
func ParseChunk(data []byte) (Chunk, error) {
	var w wireChunk
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("protocol: invalid chunk json: %w", err)
	}

	switch w.Type {
	case ChunkTypeTextDelta:
		return TextDeltaChunk{ID: w.ID, Delta: w.Delta}, nil
	case ChunkTypeToolInputStart:
		return ToolInputStartChunk{ToolCallID: w.ToolCallID, ToolName: w.ToolName}, nil
	case ChunkTypeToolInputDelta:
		return ToolInputDeltaChunk{ToolCallID: w.ToolCallID, InputTextDelta: w.InputTextDelta}, nil
	case ChunkTypeToolInputAvailable:
		return ToolInputAvailableChunk{ToolCallID: w.ToolCallID, ToolName: w.ToolName, Input: w.Input}, nil
	case ChunkTypeToolApprovalRequest:
		if w.ApprovalID == "" {
			return nil, fmt.Errorf("protocol: approval request without approvalId")
		}
		if w.ApprovalID == w.ToolCallID {
			return nil, fmt.Errorf("protocol: approvalId must differ from toolCallId")
		}
		return ToolApprovalRequestChunk{
			ToolCallID: w.ToolCallID,
			ToolName:   w.ToolName,
			ApprovalID: w.ApprovalID,
			Input:      w.Input,
			Reason:     w.Reason,
		}, nil
	case ChunkTypeToolOutputAvailable:
		return ToolOutputAvailableChunk{ToolCallID: w.ToolCallID, Output: w.Output}, nil
	case ChunkTypeToolOutputError:
		return ToolOutputErrorChunk{ToolCallID: w.ToolCallID, ErrorText: w.ErrorText}, nil
	case ChunkTypeFile:
		return FileChunk{URL: w.URL, MediaType: w.MediaType}, nil
	case ChunkTypeDataPCM:
		audio, err := base64.StdEncoding.DecodeString(w.Audio)
		if err != nil {
			return nil, fmt.Errorf("protocol: invalid pcm base64: %w", err)
		}
		return DataPCMChunk{Audio: audio}, nil
	case ChunkTypeFinish:
		return FinishChunk{Usage: w.Usage}, nil
	case ChunkTypePing:
		return PingChunk{Timestamp: w.Timestamp}, nil
	case ChunkTypePong:
		return PongChunk{Timestamp: w.Timestamp}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChunk, w.Type)
	}
}

// MarshalChunk encodes a Chunk into its wire JSON form.
func MarshalChunk(c Chunk) ([]byte, error) {
	w := wireChunk{Type: c.ChunkType()}

	switch v := c.(type) {
	case TextDeltaChunk:
		w.ID = v.ID
		w.Delta = v.Delta
	case ToolInputStartChunk:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
	case ToolInputDeltaChunk:
		w.ToolCallID = v.ToolCallID
		w.InputTextDelta = v.InputTextDelta
	case ToolInputAvailableChunk:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
		w.Input = v.Input
	case ToolApprovalRequestChunk:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
		w.ApprovalID = v.ApprovalID
		w.Input = v.Input
		w.Reason = v.Reason
	case ToolOutputAvailableChunk:
		w.ToolCallID = v.ToolCallID
		w.Output = v.Output
	case ToolOutputErrorChunk:
		w.ToolCallID = v.ToolCallID
		w.ErrorText = v.ErrorText
	case FileChunk:
		w.URL = v.URL
		w.MediaType = v.MediaType
	case DataPCMChunk:
		w.Audio = base64.StdEncoding.EncodeToString(v.Audio)
	case FinishChunk:
		w.Usage = v.Usage
	case PingChunk:
		w.Timestamp = v.Timestamp
	case PongChunk:
		w.Timestamp = v.Timestamp
	default:
		return nil, fmt.Errorf("protocol: unsupported chunk %T", c)
	}

	return json.Marshal(w)
}
