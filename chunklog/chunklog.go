// Package chunklog records protocol chunks for deterministic replay. The
// logger is an explicitly constructed component with a start/stop/export
// lifecycle, passed by reference to whatever needs it; there is no
// module-level singleton to leak state across tests.
package chunklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/voxa-labs/chatcore/protocol"
)

// Chunk flow directions relative to the client.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Record is one captured chunk. Sequence numbers are per-location
// monotonically increasing counters starting at 1, independent across
// locations; arrival order in an exported file is not guaranteed, so
// replay re-sorts.
type Record struct {
	Timestamp      time.Time       `json:"timestamp"`
	SessionID      string          `json:"session_id"`
	Mode           string          `json:"mode"`
	Location       string          `json:"location"`
	Direction      string          `json:"direction"`
	SequenceNumber uint64          `json:"sequence_number"`
	Chunk          json.RawMessage `json:"chunk"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Sink receives records as they are logged, e.g. for durable capture.
type Sink interface {
	Save(Record) error
}

// Logger captures chunks while started. Safe for concurrent use.
type Logger struct {
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	started  bool
	records  []Record
	counters map[string]uint64
	sink     Sink
}

func New(logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.New(os.Stdout, "[chunklog] ", log.LstdFlags)
	}
	return &Logger{
		logger:   logger,
		now:      time.Now,
		counters: make(map[string]uint64),
	}
}

// WithSink attaches a durable sink. Must be called before Start.
func (l *Logger) WithSink(sink Sink) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
	return l
}

func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
}

func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
}

// Log records one chunk. A stopped logger drops silently so call sites
// need no started checks.
func (l *Logger) Log(sessionID, mode, location, direction string, chunk protocol.Chunk, metadata map[string]any) error {
	data, err := protocol.MarshalChunk(chunk)
	if err != nil {
		return fmt.Errorf("chunklog: marshal chunk: %w", err)
	}

	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.counters[location]++
	rec := Record{
		Timestamp:      l.now(),
		SessionID:      sessionID,
		Mode:           mode,
		Location:       location,
		Direction:      direction,
		SequenceNumber: l.counters[location],
		Chunk:          data,
		Metadata:       metadata,
	}
	l.records = append(l.records, rec)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Save(rec); err != nil {
			return fmt.Errorf("chunklog: sink: %w", err)
		}
	}
	return nil
}

// Records returns a copy of everything captured so far.
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Export writes the captured records as JSON Lines, one record per line.
func (l *Logger) Export(w io.Writer) error {
	for _, rec := range l.Records() {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("chunklog: marshal record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("chunklog: write record: %w", err)
		}
	}
	return nil
}

// ReadExport parses a JSON Lines export. Blank lines are skipped.
func ReadExport(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("chunklog: invalid record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chunklog: read export: %w", err)
	}
	return records, nil
}

// Replay re-sorts records by sequence number and feeds the parsed chunks
// to emit in that order. File order is not trusted.
func Replay(records []Record, emit func(Record, protocol.Chunk) error) error {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})

	for _, rec := range sorted {
		chunk, err := protocol.ParseChunk(rec.Chunk)
		if err != nil {
			return fmt.Errorf("chunklog: replay seq %d: %w", rec.SequenceNumber, err)
		}
		if err := emit(rec, chunk); err != nil {
			return err
		}
	}
	return nil
}
