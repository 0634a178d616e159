// Package audio implements the real-time playback and capture paths.
// Cross-thread communication is one-way message passing: typed commands
// posted over a channel, never shared references, because the render side
// must never block on the posting side.
package audio

import (
	"log"
	"os"
	"sync"
	"time"
)

// PlaybackSampleRate is the fixed playback rate in Hz.
const PlaybackSampleRate = 24000

// playbackCapacitySeconds sizes the ring buffer.
const playbackCapacitySeconds = 180

// silenceThreshold is how long playback must run dry before the finished
// notification fires.
const silenceThreshold = time.Second

// Command is the closed union of messages posted across the audio thread
// boundary.
type Command interface {
	playbackCommand()
}

// DataCommand delivers one frame of 16-bit little-endian PCM.
type DataCommand struct {
	PCM []byte
}

// ResetCommand zeroes the cursors and the played/silence state for a new
// conversational turn without tearing down the device.
type ResetCommand struct{}

// EndOfAudioCommand fast-forwards the read cursor to the write cursor for
// a clean turn boundary.
type EndOfAudioCommand struct{}

func (DataCommand) playbackCommand()       {}
func (ResetCommand) playbackCommand()      {}
func (EndOfAudioCommand) playbackCommand() {}

// Playback converts incoming PCM to float samples and feeds a ring buffer
// the render callback drains. OnFinished fires once per turn after the
// stream has been silent for at least a second.
type Playback struct {
	OnFinished func()
	Logger     *log.Logger

	ring *RingBuffer
	cmds chan Command
	stop chan struct{}
	wg   sync.WaitGroup

	now func() time.Time

	mu           sync.Mutex
	lastData     time.Time
	played       bool
	finishedSent bool
}

func NewPlayback() *Playback {
	p := &Playback{
		Logger: log.New(os.Stdout, "[playback] ", log.LstdFlags),
		ring:   NewRingBuffer(PlaybackSampleRate * playbackCapacitySeconds),
		cmds:   make(chan Command, 256),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Post delivers a command to the audio side.
func (p *Playback) Post(cmd Command) {
	select {
	case p.cmds <- cmd:
	case <-p.stop:
	}
}

func (p *Playback) loop() {
	defer p.wg.Done()
	for {
		select {
		case cmd := <-p.cmds:
			p.handle(cmd)
		case <-p.stop:
			return
		}
	}
}

func (p *Playback) handle(cmd Command) {
	switch c := cmd.(type) {
	case DataCommand:
		samples := DecodePCM16LE(c.PCM)
		if len(samples) == 0 {
			// Garbled frame; drop it and keep playing.
			return
		}
		p.ring.Write(samples)
		p.mu.Lock()
		p.lastData = p.now()
		p.finishedSent = false
		p.mu.Unlock()

	case ResetCommand:
		p.ring.Reset()
		p.mu.Lock()
		p.lastData = time.Time{}
		p.played = false
		p.finishedSent = false
		p.mu.Unlock()

	case EndOfAudioCommand:
		p.ring.Flush()
	}
}

// Render fills dst from the ring buffer, zero-padding any shortfall, and
// returns the number of real samples written. Called from the real-time
// render callback; it never blocks on the posting side.
func (p *Playback) Render(dst []float32) int {
	n := p.ring.Read(dst)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	var finished func()
	p.mu.Lock()
	if n > 0 {
		p.played = true
	} else if p.played && !p.finishedSent && !p.lastData.IsZero() && p.now().Sub(p.lastData) >= silenceThreshold {
		p.finishedSent = true
		finished = p.OnFinished
	}
	p.mu.Unlock()

	// Fired after unlocking so the callback may call back into Playback.
	if finished != nil {
		finished()
	}
	return n
}

// Buffered reports the number of queued samples.
func (p *Playback) Buffered() int { return p.ring.Buffered() }

// Close stops the command loop. Pending commands are discarded.
func (p *Playback) Close() {
	select {
	case <-p.stop:
		return
	default:
	}
	close(p.stop)
	p.wg.Wait()
}
