package chunklog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/voxa-labs/chatcore/protocol"
)

func TestLog_PerLocationSequences(t *testing.T) {
	l := New(nil)
	l.Start()

	mustLog := func(location string) {
		t.Helper()
		if err := l.Log("s1", "sse", location, DirectionInbound, protocol.TextDeltaChunk{ID: "r", Delta: "x"}, nil); err != nil {
			t.Fatal(err)
		}
	}

	mustLog("client.stream")
	mustLog("client.stream")
	mustLog("bridge.egress")
	mustLog("client.stream")

	recs := l.Records()
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}

	var stream, egress []uint64
	for _, rec := range recs {
		switch rec.Location {
		case "client.stream":
			stream = append(stream, rec.SequenceNumber)
		case "bridge.egress":
			egress = append(egress, rec.SequenceNumber)
		}
	}
	if len(stream) != 3 || stream[0] != 1 || stream[1] != 2 || stream[2] != 3 {
		t.Errorf("client.stream sequences must count from 1 independently, got %v", stream)
	}
	if len(egress) != 1 || egress[0] != 1 {
		t.Errorf("bridge.egress sequences must count from 1 independently, got %v", egress)
	}
}

func TestLog_StoppedLoggerDropsSilently(t *testing.T) {
	l := New(nil)

	if err := l.Log("s1", "sse", "loc", DirectionInbound, protocol.PingChunk{Timestamp: 1}, nil); err != nil {
		t.Fatalf("a stopped logger must not error: %v", err)
	}
	if len(l.Records()) != 0 {
		t.Error("a stopped logger must not record")
	}

	l.Start()
	_ = l.Log("s1", "sse", "loc", DirectionInbound, protocol.PingChunk{Timestamp: 2}, nil)
	l.Stop()
	_ = l.Log("s1", "sse", "loc", DirectionInbound, protocol.PingChunk{Timestamp: 3}, nil)

	if len(l.Records()) != 1 {
		t.Errorf("expected only the record logged while started, got %d", len(l.Records()))
	}
}

func TestExportAndReplay_ResortsBySequence(t *testing.T) {
	l := New(nil)
	l.Start()
	for _, delta := range []string{"a", "b", "c"} {
		if err := l.Log("s1", "ws", "client.stream", DirectionInbound, protocol.TextDeltaChunk{ID: "r", Delta: delta}, nil); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := l.Export(&buf); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Fatalf("expected 3 JSONL lines, got %d", got)
	}

	records, err := ReadExport(&buf)
	if err != nil {
		t.Fatal(err)
	}

	// Shuffle the file order; replay must restore sequence order.
	records[0], records[2] = records[2], records[0]

	var replayed []string
	err = Replay(records, func(rec Record, chunk protocol.Chunk) error {
		replayed = append(replayed, chunk.(protocol.TextDeltaChunk).Delta)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(replayed) != 3 || replayed[0] != "a" || replayed[1] != "b" || replayed[2] != "c" {
		t.Errorf("replay order wrong: %v", replayed)
	}
}

func TestReadExport_SkipsBlankLines(t *testing.T) {
	input := `{"timestamp":"2026-01-02T15:04:05Z","session_id":"s1","mode":"sse","location":"loc","direction":"inbound","sequence_number":1,"chunk":{"type":"finish"}}

`
	records, err := ReadExport(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].SequenceNumber != 1 {
		t.Errorf("unexpected record: %#v", records[0])
	}
}

type captureSink struct {
	saved []Record
}

func (s *captureSink) Save(rec Record) error {
	s.saved = append(s.saved, rec)
	return nil
}

func TestWithSink_ReceivesEveryRecord(t *testing.T) {
	sink := &captureSink{}
	l := New(nil).WithSink(sink)
	l.Start()

	_ = l.Log("s1", "direct", "client.stream", DirectionInbound, protocol.FinishChunk{}, map[string]any{"note": "end"})

	if len(sink.saved) != 1 {
		t.Fatalf("expected sink to receive the record, got %d", len(sink.saved))
	}
	if sink.saved[0].Metadata["note"] != "end" {
		t.Errorf("metadata not forwarded: %#v", sink.saved[0].Metadata)
	}
}
