package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"bookguard/pkg/wire"
)

func TestWriteProducesOneLinePerFrame(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := New(&buf)

	now := time.Now()
	if err := r.Write(now, `{"channel":"book"}`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := r.Write(now.Add(time.Millisecond), `{"channel":"instrument"}`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
}

func TestWriteRoundTripsAsRecordedFrames(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := New(&buf)

	now := time.Now().Truncate(time.Microsecond)
	raws := []string{`{"channel":"book","type":"update"}`, `{"channel":"heartbeat"}`}
	for i, raw := range raws {
		if err := r.Write(now.Add(time.Duration(i)*time.Second), raw); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	var got []wire.RecordedFrame
	for scanner.Scan() {
		var f wire.RecordedFrame
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &f); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	for i, raw := range raws {
		if got[i].Raw != raw {
			t.Errorf("frame %d raw = %q, want %q", i, got[i].Raw, raw)
		}
	}
}

func TestFlushEveryNForcesPeriodicFlush(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := New(&buf)

	now := time.Now()
	for i := 0; i < flushEvery; i++ {
		if err := r.Write(now, `{"channel":"heartbeat"}`); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// After exactly flushEvery writes the internal counter should have
	// triggered a flush without an explicit Flush() call.
	if buf.Len() == 0 {
		t.Error("expected buffered writer to have auto-flushed by flushEvery writes")
	}
}
