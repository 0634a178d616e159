package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/transport"
)

// scriptedAdapter plays back one chunk script per invocation and records
// every message list it was handed.
type scriptedAdapter struct {
	mu    sync.Mutex
	turns [][]protocol.Chunk
	calls int
	seen  [][]*protocol.Message
	err   error
}

func (a *scriptedAdapter) SendMessages(ctx context.Context, messages []*protocol.Message) (*transport.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	a.seen = append(a.seen, messages)

	var chunks []protocol.Chunk
	if a.calls < len(a.turns) {
		chunks = a.turns[a.calls]
	}
	a.calls++

	st := transport.NewStream()
	for _, c := range chunks {
		if err := st.Enqueue(c); err != nil {
			return nil, err
		}
	}
	st.Close()
	return st, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func approvalTurn(callID, approvalID string) []protocol.Chunk {
	return []protocol.Chunk{
		protocol.ToolInputAvailableChunk{ToolCallID: callID, ToolName: "getWeather", Input: json.RawMessage(`{"city":"Fresno"}`)},
		protocol.ToolApprovalRequestChunk{ToolCallID: callID, ToolName: "getWeather", ApprovalID: approvalID},
		protocol.FinishChunk{},
	}
}

func TestSession_SendStopsAtApprovalRequest(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{approvalTurn("call-1", "adk-1")}}
	s := NewSession("s1", "direct", adapter, nil)

	if err := s.Send(context.Background(), "weather in Fresno?"); err != nil {
		t.Fatal(err)
	}

	if adapter.callCount() != 1 {
		t.Errorf("an unanswered approval must not re-send, got %d calls", adapter.callCount())
	}
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant, got %d", len(msgs))
	}
	tp := msgs[1].ToolPartByCallID("call-1")
	if tp == nil || tp.State != protocol.ToolApprovalRequested {
		t.Fatalf("expected pending approval, got %#v", tp)
	}
}

func TestSession_ApprovalRoundTripTakesTwoRequests(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{
		approvalTurn("call-1", "adk-1"),
		{
			protocol.ToolOutputAvailableChunk{ToolCallID: "call-1", Output: json.RawMessage(`{"forecast":"sunny"}`)},
			protocol.TextDeltaChunk{ID: "run-1", Delta: "Sunny."},
			protocol.FinishChunk{},
		},
	}}
	s := NewSession("s1", "direct", adapter, nil)
	s.SettleDelay = 1 // keep the test fast

	if err := s.Send(context.Background(), "weather?"); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondToApproval(context.Background(), protocol.ApprovalResponse{ID: "adk-1", Approved: true}); err != nil {
		t.Fatal(err)
	}

	if adapter.callCount() != 2 {
		t.Errorf("approval round trip must take exactly 2 requests, got %d", adapter.callCount())
	}
	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	tp := last.ToolPartByCallID("call-1")
	if tp == nil || tp.State != protocol.ToolOutputAvailable {
		t.Errorf("expected terminal output after the flush, got %#v", tp)
	}
	if last.Text() != "Sunny." {
		t.Errorf("expected follow-up text, got %q", last.Text())
	}
}

func TestSession_DenyStillFlushesOnce(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{
		approvalTurn("call-1", "adk-1"),
		{
			protocol.ToolOutputErrorChunk{ToolCallID: "call-1", ErrorText: "denied by user"},
			protocol.FinishChunk{},
		},
	}}
	s := NewSession("s1", "direct", adapter, nil)
	s.SettleDelay = 1

	if err := s.Send(context.Background(), "weather?"); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondToApproval(context.Background(), protocol.ApprovalResponse{ID: "adk-1", Approved: false, Reason: "no thanks"}); err != nil {
		t.Fatal(err)
	}

	if adapter.callCount() != 2 {
		t.Errorf("a denial still needs one flush, got %d calls", adapter.callCount())
	}
	msgs := s.Messages()
	tp := msgs[len(msgs)-1].ToolPartByCallID("call-1")
	if tp.State != protocol.ToolOutputError {
		t.Errorf("expected output-error terminal state, got %s", tp.State)
	}
}

func TestSession_FrontendExecutorInjectsBeforeFlush(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{
		approvalTurn("call-1", "adk-1"),
		{
			protocol.TextDeltaChunk{ID: "run-1", Delta: "Done."},
			protocol.FinishChunk{},
		},
	}}
	s := NewSession("s1", "direct", adapter, nil)
	s.SettleDelay = 1

	executed := 0
	s.FrontendExecutor = func(toolName string, input json.RawMessage) (json.RawMessage, error) {
		executed++
		return json.RawMessage(`{"forecast":"local"}`), nil
	}

	if err := s.Send(context.Background(), "weather?"); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondToApproval(context.Background(), protocol.ApprovalResponse{ID: "adk-1", Approved: true}); err != nil {
		t.Fatal(err)
	}

	if executed != 1 {
		t.Errorf("expected exactly one local execution, got %d", executed)
	}
	// The locally injected output is terminal, yet the decision is still
	// flushed exactly once.
	if adapter.callCount() != 2 {
		t.Errorf("expected exactly one flush after local execution, got %d calls", adapter.callCount())
	}

	adapter.mu.Lock()
	flushed := adapter.seen[1]
	adapter.mu.Unlock()
	tp := flushed[len(flushed)-1].ToolPartByCallID("call-1")
	if tp == nil || tp.State != protocol.ToolOutputAvailable {
		t.Errorf("flush must carry the injected result, got %#v", tp)
	}
	if string(tp.Output) != `{"forecast":"local"}` {
		t.Errorf("unexpected injected output: %s", tp.Output)
	}
}

// gatedAdapter blocks inside SendMessages until released, letting a test
// observe the session while a stream is in flight.
type gatedAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (a *gatedAdapter) SendMessages(ctx context.Context, messages []*protocol.Message) (*transport.Stream, error) {
	close(a.started)
	<-a.release

	st := transport.NewStream()
	chunks := []protocol.Chunk{
		protocol.TextDeltaChunk{ID: "r", Delta: "first"},
		protocol.FinishChunk{},
	}
	for _, c := range chunks {
		if err := st.Enqueue(c); err != nil {
			return nil, err
		}
	}
	st.Close()
	return st, nil
}

func TestSession_ConcurrentSendRejectedWhileStreaming(t *testing.T) {
	adapter := &gatedAdapter{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSession("s1", "direct", adapter, nil)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "one") }()
	<-adapter.started

	if err := s.Send(context.Background(), "two"); err == nil {
		t.Error("a second Send during an in-flight stream must be rejected")
	}
	if err := s.RespondToApproval(context.Background(), protocol.ApprovalResponse{ID: "adk-1", Approved: true}); err == nil {
		t.Error("an approval decision during an in-flight stream must be rejected")
	}

	close(adapter.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// The first stream survives untouched; the rejected Send added nothing.
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant from the first stream, got %d", len(msgs))
	}
	if msgs[1].Text() != "first" {
		t.Errorf("first stream's text must be intact, got %q", msgs[1].Text())
	}
}

func TestSession_ZeroChunkStream(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{{}}}
	s := NewSession("s1", "direct", adapter, nil)

	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Errorf("a closed-immediately stream adds nothing, got %d messages", len(msgs))
	}
}

func TestSession_TransportErrorLeavesListIntact(t *testing.T) {
	boom := errors.New("connection refused")
	adapter := &scriptedAdapter{err: boom}
	s := NewSession("s1", "direct", adapter, nil)

	err := s.Send(context.Background(), "hi")
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error surfaced, got %v", err)
	}
	// The user message stays; nothing is rolled back.
	if len(s.Messages()) != 1 {
		t.Errorf("expected the user message retained, got %d", len(s.Messages()))
	}

	// The session is usable again after the error.
	adapter.mu.Lock()
	adapter.err = nil
	adapter.turns = [][]protocol.Chunk{{protocol.TextDeltaChunk{ID: "r", Delta: "ok"}, protocol.FinishChunk{}}}
	adapter.mu.Unlock()
	if err := s.Send(context.Background(), "again"); err != nil {
		t.Fatal(err)
	}
}

func TestSession_RestoreSeedsHistory(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]protocol.Chunk{{protocol.TextDeltaChunk{ID: "r", Delta: "sure"}, protocol.FinishChunk{}}}}
	s := NewSession("s1", "direct", adapter, nil)

	history := []*protocol.Message{
		protocol.NewUserMessage("earlier"),
		{ID: "a0", Role: protocol.RoleAssistant, Parts: []protocol.Part{&protocol.TextPart{Text: "before"}}},
	}
	if err := s.Restore(history); err != nil {
		t.Fatal(err)
	}

	if err := s.Send(context.Background(), "and now?"); err != nil {
		t.Fatal(err)
	}

	adapter.mu.Lock()
	sent := adapter.seen[0]
	adapter.mu.Unlock()
	if len(sent) != 3 {
		t.Errorf("expected restored history plus new user message on the wire, got %d", len(sent))
	}
	if len(s.Messages()) != 4 {
		t.Errorf("expected 4 messages after the reply, got %d", len(s.Messages()))
	}
}
