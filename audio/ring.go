package audio

import "sync"

// RingBuffer is a fixed-capacity circular sample buffer. The write side
// never blocks: on overflow the oldest unread samples are silently
// overwritten, so the reader only ever observes the most recent
// capacity-many samples, never a gap or an error.
type RingBuffer struct {
	mu  sync.Mutex
	buf []float32
	// Absolute cursors; position in buf is cursor % len(buf).
	read  uint64
	write uint64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Write copies samples in, drop-overwriting the oldest unread data when
// the buffer is full.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cap64 := uint64(len(rb.buf))
	for _, s := range samples {
		rb.buf[rb.write%cap64] = s
		rb.write++
	}
	if rb.write-rb.read > cap64 {
		rb.read = rb.write - cap64
	}
}

// Read fills dst with buffered samples and returns how many were copied.
func (rb *RingBuffer) Read(dst []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cap64 := uint64(len(rb.buf))
	n := rb.write - rb.read
	if n > uint64(len(dst)) {
		n = uint64(len(dst))
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = rb.buf[(rb.read+i)%cap64]
	}
	rb.read += n
	return int(n)
}

// Buffered returns the number of unread samples.
func (rb *RingBuffer) Buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.write - rb.read)
}

// Reset zeroes both cursors for a new turn.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// Flush fast-forwards the read cursor to the write cursor, discarding
// everything unread.
func (rb *RingBuffer) Flush() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = rb.write
}
