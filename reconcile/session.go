package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/voxa-labs/chatcore/chunklog"
	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/transport"
)

// DefaultSettleDelay is the pause between observing a stream close and
// re-invoking the transport, letting state transitions settle instead of
// spinning in a tight synchronous loop.
const DefaultSettleDelay = 10 * time.Millisecond

// FrontendExecutor runs an approved tool locally. The returned output is
// injected for the original tool call before the flushing round trip.
type FrontendExecutor func(toolName string, input json.RawMessage) (json.RawMessage, error)

// Session drives one conversation over a transport adapter: it streams,
// folds chunks into the message list, and closes the auto-send loop after
// tool approvals. Chunks from two adapter invocations are never
// interleaved; a follow-up starts only after the previous stream's close
// is observed.
type Session struct {
	ID         string
	Mode       string // "direct", "sse" or "ws"; used for chunk logging
	Adapter    transport.Adapter
	Reconciler *Reconciler
	Logger     *log.Logger

	// ChunkLog is optional; when set, inbound chunks are recorded.
	ChunkLog *chunklog.Logger

	// FrontendExecutor is optional; when set, approved tools execute
	// locally and the result is injected before the flush send.
	FrontendExecutor FrontendExecutor

	SettleDelay time.Duration

	mu       sync.Mutex
	messages []*protocol.Message
	inFlight bool
	gen      int
}

func NewSession(id, mode string, adapter transport.Adapter, rec *Reconciler) *Session {
	if rec == nil {
		rec = NewReconciler(nil)
	}
	return &Session{
		ID:          id,
		Mode:        mode,
		Adapter:     adapter,
		Reconciler:  rec,
		Logger:      log.New(os.Stdout, fmt.Sprintf("[session %s] ", id), log.LstdFlags),
		SettleDelay: DefaultSettleDelay,
	}
}

// Messages returns a snapshot of the current list. The messages themselves
// are shared; callers treat them as read-only.
func (s *Session) Messages() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send appends a user message and drives the interaction to quiescence,
// following the auto-send predicate after every stream.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return fmt.Errorf("reconcile: session %s already has a stream in flight", s.ID)
	}
	// Claimed here, under the same critical section as the check, so a
	// racing Send cannot slip past the guard and start a second stream.
	s.inFlight = true
	s.messages = append(s.messages, protocol.NewUserMessage(text))
	s.mu.Unlock()

	defer s.clearInFlight()
	return s.drive(ctx)
}

// RespondToApproval applies the user's decision, runs the frontend
// executor when configured, and flushes the decision to the backend when
// the auto-send predicate calls for it.
func (s *Session) RespondToApproval(ctx context.Context, resp protocol.ApprovalResponse) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return fmt.Errorf("reconcile: session %s already has a stream in flight", s.ID)
	}
	if err := s.Reconciler.RespondToApproval(s.messages, resp); err != nil {
		s.mu.Unlock()
		return err
	}
	s.inFlight = true
	// Evaluate before any local execution: a locally injected result is a
	// terminal output and would mask the one flush this decision needs.
	send := SendAutomaticallyWhen(s.messages)
	tp := s.approvedTool(resp)
	s.mu.Unlock()

	defer s.clearInFlight()

	if resp.Approved && tp != nil && s.FrontendExecutor != nil {
		s.executeLocally(tp)
	}

	if !send {
		return nil
	}
	return s.drive(ctx)
}

func (s *Session) clearInFlight() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Interrupt abandons the in-flight stream, keeping whatever partial state
// the list accumulated. No rollback.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inFlight = false
}

// Restore replaces the message list, typically with history loaded from a
// store. It fails while a stream is in flight.
func (s *Session) Restore(msgs []*protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return fmt.Errorf("reconcile: session %s has a stream in flight", s.ID)
	}
	s.gen++
	s.messages = append([]*protocol.Message(nil), msgs...)
	return nil
}

// Reset clears the conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inFlight = false
	s.messages = nil
}

func (s *Session) drive(ctx context.Context) error {
	for {
		if err := s.streamOnce(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		send := SendAutomaticallyWhen(s.messages)
		s.mu.Unlock()
		if !send {
			return nil
		}

		delay := s.SettleDelay
		if delay <= 0 {
			delay = DefaultSettleDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamOnce performs one adapter invocation and applies its chunks in
// arrival order until the stream closes.
func (s *Session) streamOnce(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make([]*protocol.Message, len(s.messages))
	copy(snapshot, s.messages)
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	stream, err := s.Adapter.SendMessages(ctx, snapshot)
	if err != nil {
		return err
	}

	var streamErr error
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return streamErr
			}
			s.apply(gen, chunk)

		case err := <-stream.Err():
			if err != nil && streamErr == nil {
				s.Logger.Printf("stream error: %v", err)
				streamErr = err
			}

		case <-ctx.Done():
			// User-initiated interrupt: the partial state stays visible.
			s.Interrupt()
			return ctx.Err()
		}
	}
}

// apply folds one chunk, discarding chunks from abandoned streams so a
// transport switch cannot corrupt the list.
func (s *Session) apply(gen int, chunk protocol.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if s.ChunkLog != nil {
		if err := s.ChunkLog.Log(s.ID, s.Mode, "client.stream", chunklog.DirectionInbound, chunk, nil); err != nil {
			s.Logger.Printf("chunk log: %v", err)
		}
	}
	s.messages = s.Reconciler.ApplyChunk(s.messages, chunk)
}

func (s *Session) approvedTool(resp protocol.ApprovalResponse) *protocol.ToolPart {
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1].ToolPartByApprovalID(resp.ID)
}

// executeLocally runs the Frontend Execute pattern: the approval triggers
// local execution and the result lands on the original tool call before
// the flush send carries it to the backend.
func (s *Session) executeLocally(tp *protocol.ToolPart) {
	out, err := s.FrontendExecutor(tp.ToolName, tp.Input)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.messages = s.Reconciler.ApplyChunk(s.messages, protocol.ToolOutputErrorChunk{
			ToolCallID: tp.ToolCallID,
			ErrorText:  err.Error(),
		})
		return
	}
	s.messages = s.Reconciler.ApplyChunk(s.messages, protocol.ToolOutputAvailableChunk{
		ToolCallID: tp.ToolCallID,
		Output:     out,
	})
}
