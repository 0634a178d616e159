package protocol

import (
	"encoding/json"
	"testing"
)

func TestPartsCodec_UnknownEnvelopeSkipped(t *testing.T) {
	data := []byte(`[
		{"type":"text","text":{"text":"hi"}},
		{"type":"hologram","hologram":{"x":1}},
		{"type":"tool","tool":{"toolCallId":"call-1","toolName":"t","state":"output-available"}}
	]`)

	parts, err := UnmarshalParts(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected unknown part skipped, got %d parts", len(parts))
	}
	if _, ok := parts[0].(*TextPart); !ok {
		t.Errorf("expected text part first, got %T", parts[0])
	}
	tp, ok := parts[1].(*ToolPart)
	if !ok || tp.State != ToolOutputAvailable {
		t.Errorf("unexpected tool part: %#v", parts[1])
	}
}

func TestMessageJSON_PreservesPartUnion(t *testing.T) {
	msg := &Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			&TextPart{RunID: "r1", Text: "sunny"},
			&ToolPart{ToolCallID: "call-1", ToolName: "getWeather", State: ToolOutputAvailable,
				Output: json.RawMessage(`{"ok":true}`)},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != "m1" || len(back.Parts) != 2 {
		t.Fatalf("lost structure: %#v", back)
	}
	if back.ToolPartByCallID("call-1") == nil {
		t.Error("tool part lost its concrete type")
	}
}
