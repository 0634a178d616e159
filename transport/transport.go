// Package transport defines the adapter contract shared by the three
// backend transports: send the current message list, get a chunk stream
// back. Adapters differ only in wire framing; every chunk reaching the
// reconciler has the same shape regardless of transport.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/receiver"
)

// Adapter sends the current message list and returns the resulting chunk
// stream. The stream terminates exactly once.
type Adapter interface {
	SendMessages(ctx context.Context, messages []*protocol.Message) (*Stream, error)
}

// Stream is the async chunk stream an adapter hands back. It doubles as
// the receiver's ChunkSink: the parser pushes, the reconciler pulls.
type Stream struct {
	chunks chan protocol.Chunk
	errs   chan error

	mu     sync.Mutex
	closed bool
}

const (
	streamChunkBacklog = 256
	streamErrBacklog   = 16
)

func NewStream() *Stream {
	return &Stream{
		chunks: make(chan protocol.Chunk, streamChunkBacklog),
		errs:   make(chan error, streamErrBacklog),
	}
}

// Chunks yields chunks in arrival order until the stream closes.
func (s *Stream) Chunks() <-chan protocol.Chunk { return s.chunks }

// Err yields stream-level errors. Buffered; never blocks the producer.
func (s *Stream) Err() <-chan error { return s.errs }

// Enqueue pushes one chunk. Returns receiver.ErrSinkClosed after Close so
// the parser can tell a benign race from a real failure.
func (s *Stream) Enqueue(c protocol.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return receiver.ErrSinkClosed
	}
	select {
	case s.chunks <- c:
		return nil
	default:
		return fmt.Errorf("transport: stream backlog full")
	}
}

// Close terminates the stream. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.chunks)
}

// Error records a stream-level error without terminating the stream.
func (s *Stream) Error(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
