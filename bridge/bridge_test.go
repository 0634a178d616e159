package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/reconcile"
	"github.com/voxa-labs/chatcore/transport/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoResponder() Responder {
	return ResponderFunc(func(ctx context.Context, history []*protocol.Message) ([]protocol.Chunk, error) {
		last := history[len(history)-1]
		return []protocol.Chunk{
			protocol.TextDeltaChunk{ID: "run-1", Delta: "echo: " + last.Text()},
			protocol.FinishChunk{},
		}, nil
	})
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(echoResponder()).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestSSE_FramingAndDone(t *testing.T) {
	ts := startServer(t)

	body, _ := json.Marshal(map[string]any{
		"messages": []*protocol.Message{protocol.NewUserMessage("hi")},
	})
	resp, err := http.Post(ts.URL+"/chat/stream/conv-1", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("unexpected content type %q", ct)
	}

	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}

	if len(dataLines) != 3 {
		t.Fatalf("expected 3 data lines, got %d: %v", len(dataLines), dataLines)
	}
	if dataLines[len(dataLines)-1] != "[DONE]" {
		t.Errorf("stream must end with [DONE], got %q", dataLines[len(dataLines)-1])
	}

	chunk, err := protocol.ParseChunk([]byte(dataLines[0]))
	if err != nil {
		t.Fatal(err)
	}
	td, ok := chunk.(protocol.TextDeltaChunk)
	if !ok || td.Delta != "echo: hi" {
		t.Errorf("unexpected first chunk: %#v", chunk)
	}
}

func TestSSE_EmptyRequestRejected(t *testing.T) {
	ts := startServer(t)

	resp, err := http.Post(ts.URL+"/chat/stream/conv-1", "application/json", strings.NewReader(`{"messages":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty message list, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWS_MalformedFrameClosesNon1000(t *testing.T) {
	ts := startServer(t)

	frames := []string{"{ invalid json }", "", "{\"trunca", "plain text"}
	for _, frame := range frames {
		conn := dialWS(t, ts)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("frame %q: expected a close error, got %v", frame, err)
		}
		if closeErr.Code == websocket.CloseNormalClosure {
			t.Errorf("frame %q: protocol violation must not close with 1000", frame)
		}
	}
}

func TestWS_PingElicitsPongOnFreshConnection(t *testing.T) {
	ts := startServer(t)

	// First connection dies on a malformed frame.
	bad := dialWS(t, ts)
	_ = bad.WriteMessage(websocket.TextMessage, []byte("not json"))
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, _ = bad.ReadMessage()

	// A fresh connection still answers pings.
	conn := dialWS(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":777}`)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var pong struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" || pong.Timestamp != 777 {
		t.Errorf("expected pong echoing the timestamp, got %#v", pong)
	}
}

func TestWS_MessagesTurnFramedLikeSSE(t *testing.T) {
	ts := startServer(t)
	conn := dialWS(t, ts)

	payload, _ := json.Marshal(map[string]any{
		"type":     "messages",
		"messages": []*protocol.Message{protocol.NewUserMessage("over ws")},
	})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatal(err)
	}

	var dataLines []string
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		line := string(data)
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("expected data:-framed text frame, got %q", line)
		}
		payload := strings.TrimPrefix(line, "data: ")
		dataLines = append(dataLines, payload)
		if payload == "[DONE]" {
			break
		}
	}

	if len(dataLines) != 3 {
		t.Fatalf("expected 3 frames including [DONE], got %v", dataLines)
	}
	chunk, err := protocol.ParseChunk([]byte(dataLines[0]))
	if err != nil {
		t.Fatal(err)
	}
	if td := chunk.(protocol.TextDeltaChunk); td.Delta != "echo: over ws" {
		t.Errorf("unexpected chunk: %#v", td)
	}

	// The connection survives the turn; a ping still works.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":1}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("connection must stay open after a turn: %v", err)
	}
}

// approvalTurnResponder asks for approval on the first request and finishes
// the tool call once the decision comes back in the history.
func approvalTurnResponder(calls *int32) Responder {
	return ResponderFunc(func(ctx context.Context, history []*protocol.Message) ([]protocol.Chunk, error) {
		atomic.AddInt32(calls, 1)
		last := history[len(history)-1]
		if tp := last.ToolPartByApprovalID("confirm-1"); tp != nil && tp.State == protocol.ToolApprovalResponded {
			return []protocol.Chunk{
				protocol.ToolOutputAvailableChunk{ToolCallID: tp.ToolCallID, Output: json.RawMessage(`{"ok":true}`)},
				protocol.TextDeltaChunk{ID: "run-2", Delta: "done"},
				protocol.FinishChunk{},
			}, nil
		}
		return []protocol.Chunk{
			protocol.ToolInputAvailableChunk{ToolCallID: "call-1", ToolName: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
			protocol.ToolApprovalRequestChunk{ToolCallID: "call-1", ToolName: "lookup", ApprovalID: "confirm-1", Input: json.RawMessage(`{"q":"x"}`)},
		}, nil
	})
}

// Drives a full approval round trip through the real server and the real
// WebSocket transport. The socket stays open across the decision, so the
// server must not emit [DONE] for the approval turn; a stale [DONE] left in
// the connection would end the flush turn before its first chunk and force
// a third request.
func TestWS_ApprovalRoundTripUsesTwoRequests(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(NewServer(approvalTurnResponder(&calls)).Routes())
	t.Cleanup(ts.Close)

	adapter := ws.New("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws")
	t.Cleanup(func() { adapter.Close() })
	sess := reconcile.NewSession("conv-approve", "ws", adapter, nil)

	ctx := context.Background()
	if err := sess.Send(ctx, "run the tool"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 backend request before the decision, got %d", got)
	}

	if err := sess.RespondToApproval(ctx, protocol.ApprovalResponse{ID: "confirm-1", Approved: true}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("approval round trip must take exactly 2 backend requests, got %d", got)
	}

	msgs := sess.Messages()
	last := msgs[len(msgs)-1]
	tp := last.ToolPartByCallID("call-1")
	if tp == nil || tp.State != protocol.ToolOutputAvailable {
		t.Fatalf("tool call must end output-available, got %#v", tp)
	}
	if last.Text() != "done" {
		t.Errorf("expected flush turn text %q, got %q", "done", last.Text())
	}
}

func TestWS_UnrecognizedTypeCloses(t *testing.T) {
	ts := startServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("expected policy violation close, got %v", err)
	}
}
