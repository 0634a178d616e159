// Package receiver turns raw transport frames into typed protocol chunks.
//
// One Receiver owns the per-stream session state (the done flag and the
// PCM side-channel buffer). It is push-based: frames go in through
// HandleMessage, chunks come out through a ChunkSink, and the receiver
// never blocks waiting for its consumer.
package receiver

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/voxa-labs/chatcore/protocol"
)

// ErrSinkClosed is the "already closed" error class a ChunkSink returns
// when a frame races the stream's close. The receiver swallows it; any
// other enqueue failure is a genuine consumer bug and is surfaced.
var ErrSinkClosed = errors.New("receiver: sink closed")

// ChunkSink is the push-based consumer of parsed chunks.
type ChunkSink interface {
	Enqueue(protocol.Chunk) error
	Close()
	Error(err error)
}

// Receiver parses SSE-style lines and raw control frames into chunks.
type Receiver struct {
	Logger *log.Logger

	// OnPing is invoked for out-of-band ping frames, without touching the
	// chunk sink. Typically replies pong with the echoed timestamp.
	OnPing func(timestamp int64)

	// OnPCM receives decoded audio frames diverted from the chunk stream.
	OnPCM func(pcm []byte)

	mu           sync.Mutex
	doneReceived bool
	pcmBuffer    [][]byte
}

func New(logger *log.Logger) *Receiver {
	return &Receiver{Logger: logger}
}

// HandleMessage processes one raw frame. Frames that are neither an
// SSE-style "data: " line nor a recognized control frame are ignored;
// keep-alive noise must not fail the stream.
func (r *Receiver) HandleMessage(raw string, sink ChunkSink) {
	line := strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	if payload, ok := strings.CutPrefix(line, "data: "); ok {
		r.handleData(strings.TrimSpace(payload), sink)
		return
	}

	// Raw JSON control frames ride outside the SSE framing.
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return
	}
	chunk, err := protocol.ParseChunk([]byte(line))
	if err != nil {
		return
	}
	if ping, ok := chunk.(protocol.PingChunk); ok && r.OnPing != nil {
		r.OnPing(ping.Timestamp)
	}
}

func (r *Receiver) handleData(payload string, sink ChunkSink) {
	if payload == "[DONE]" {
		r.finish(sink)
		return
	}

	chunk, err := protocol.ParseChunk([]byte(payload))
	if err != nil {
		// Partial frames split across reads land here; skip the line and
		// keep the stream alive.
		return
	}

	switch c := chunk.(type) {
	case protocol.DataPCMChunk:
		// Audio is a side channel for the playback pipeline, never part of
		// the textual message model.
		r.mu.Lock()
		r.pcmBuffer = append(r.pcmBuffer, c.Audio)
		r.mu.Unlock()
		if r.OnPCM != nil {
			r.OnPCM(c.Audio)
		}

	case protocol.ToolApprovalRequestChunk:
		// An approval request ends the response turn now: the auto-send
		// decision has to run and the approval control has to render
		// before anything else happens. Transports that hold one logical
		// stream open across the approval round trip never emit [DONE]
		// themselves, so the parser manufactures the turn boundary.
		r.enqueue(sink, c)
		r.enqueue(sink, protocol.FinishChunk{})
		r.finish(sink)

	case protocol.PingChunk:
		if r.OnPing != nil {
			r.OnPing(c.Timestamp)
		}

	default:
		r.enqueue(sink, chunk)
	}
}

// finish records the turn boundary and closes the sink exactly once.
// Repeated [DONE] frames are no-ops, not errors.
func (r *Receiver) finish(sink ChunkSink) {
	r.mu.Lock()
	already := r.doneReceived
	r.doneReceived = true
	r.mu.Unlock()

	if already {
		return
	}
	sink.Close()
}

func (r *Receiver) enqueue(sink ChunkSink, c protocol.Chunk) {
	if err := sink.Enqueue(c); err != nil {
		if errors.Is(err, ErrSinkClosed) {
			// A trailing frame raced [DONE] processing. Benign.
			return
		}
		sink.Error(err)
	}
}

// DoneReceived reports whether the stream's turn boundary was seen.
func (r *Receiver) DoneReceived() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneReceived
}

// PCMFrames returns the buffered audio frames in arrival order.
func (r *Receiver) PCMFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.pcmBuffer))
	copy(out, r.pcmBuffer)
	return out
}

// Reset clears the done flag and the PCM buffer so the receiver can be
// reused across turns without being reconstructed.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doneReceived = false
	r.pcmBuffer = nil
}
