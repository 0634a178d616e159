package audio

import (
	"errors"
	"log"
	"os"
	"sync"
)

// CaptureSampleRate is the fixed microphone pull rate in Hz.
const CaptureSampleRate = 16000

// DefaultCaptureChunkSize is the delivery unit in samples.
const DefaultCaptureChunkSize = 1024

// InputDevice abstracts the hardware side of capture so teardown ordering
// can be enforced and tested.
type InputDevice interface {
	// DisconnectNodes detaches the audio graph.
	DisconnectNodes() error
	// StopTracks stops all hardware input tracks. Required to release the
	// microphone indicator; skipping it is the classic partial-teardown
	// bug.
	StopTracks() error
	// CloseContext closes the audio device context.
	CloseContext() error
}

// Capture converts pulled float samples to 16-bit PCM and delivers them in
// fixed-size chunks.
type Capture struct {
	ChunkSize int
	OnChunk   func(pcm []byte)
	Logger    *log.Logger

	device InputDevice

	mu      sync.Mutex
	pending []float32
	closed  bool
}

func NewCapture(device InputDevice, onChunk func(pcm []byte)) *Capture {
	return &Capture{
		ChunkSize: DefaultCaptureChunkSize,
		OnChunk:   onChunk,
		Logger:    log.New(os.Stdout, "[capture] ", log.LstdFlags),
		device:    device,
	}
}

// Push accepts one pulled frame of float samples, converting with hard
// clamping on every sample and emitting full chunks as they fill.
func (c *Capture) Push(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending = append(c.pending, samples...)
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultCaptureChunkSize
	}

	for len(c.pending) >= size {
		chunk := EncodePCM16LE(c.pending[:size])
		c.pending = c.pending[size:]
		if c.OnChunk != nil {
			c.OnChunk(chunk)
		}
	}
}

// Flush emits any partial chunk still pending.
func (c *Capture) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	chunk := EncodePCM16LE(c.pending)
	c.pending = nil
	if c.OnChunk != nil {
		c.OnChunk(chunk)
	}
}

// Teardown releases the microphone. Order matters: disconnect the graph,
// stop the hardware tracks, then close the context. Every step runs even
// when an earlier one fails; the errors are joined.
func (c *Capture) Teardown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	if c.device == nil {
		return nil
	}
	return errors.Join(
		c.device.DisconnectNodes(),
		c.device.StopTracks(),
		c.device.CloseContext(),
	)
}
