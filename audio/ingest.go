package audio

import (
	"errors"
	"sync"
)

// ErrFrameDropped reports a PCM frame discarded because the feed backlog
// was full. Per-frame drops never abort the session.
var ErrFrameDropped = errors.New("audio: frame dropped, feed backlog full")

// Ingestor bridges the receiver's PCM side channel to a Playback. Frames
// arrive on the transport goroutine; the ingestor hands them to the render
// path as commands and reports per-frame drops on an error channel instead
// of failing the session.
type Ingestor struct {
	playback *Playback

	frames chan []byte
	errors chan error

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// NewIngestor starts the feed loop for the given playback.
func NewIngestor(playback *Playback) *Ingestor {
	in := &Ingestor{
		playback: playback,
		frames:   make(chan []byte, 256),
		errors:   make(chan error, 16),
	}
	go in.loop()
	return in
}

// OnPCM is the callback to hang on a receiver. Frames posted after Close
// or while the feed backlog is full are dropped; audio keeps flowing.
func (in *Ingestor) OnPCM(pcm []byte) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()

	frame := append([]byte(nil), pcm...)
	select {
	case in.frames <- frame:
	default:
		select {
		case in.errors <- ErrFrameDropped:
		default:
		}
	}
}

// Reset forwards a turn-boundary reset to the playback.
func (in *Ingestor) Reset() {
	in.playback.Post(ResetCommand{})
}

// EndOfAudio forwards the end-of-turn flush to the playback.
func (in *Ingestor) EndOfAudio() {
	in.playback.Post(EndOfAudioCommand{})
}

// Errors reports dropped frames.
func (in *Ingestor) Errors() <-chan error { return in.errors }

// Close stops the feed loop. Idempotent.
func (in *Ingestor) Close() {
	in.once.Do(func() {
		in.mu.Lock()
		in.closed = true
		in.mu.Unlock()
		close(in.frames)
	})
}

func (in *Ingestor) loop() {
	for frame := range in.frames {
		in.playback.Post(DataCommand{PCM: frame})
	}
}
