package replay

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"bookguard/pkg/wire"
)

func bookUpdateFrame(t time.Time, tag string) wire.RecordedFrame {
	raw := fmt.Sprintf(
		`{"channel":"book","type":"update","data":[{"symbol":"BTC-USD","asks":[{"price":"50000.1","qty":"1.0"}]}],"tag":"%s"}`,
		tag,
	)
	return wire.RecordedFrame{TS: t, Raw: raw}
}

// drainAll polls a Replayer under AsFast pacing, where a not-ok result can
// only mean the stream is exhausted (every frame is always immediately due).
func drainAll(t *testing.T, r *Replayer) []*wire.RecordedFrame {
	t.Helper()
	now := time.Now()
	var out []*wire.RecordedFrame
	for !r.Done() {
		f, ok := r.NextFrame(now)
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

func tagOf(raw string) string {
	i := strings.Index(raw, `"tag":"`)
	if i < 0 {
		return ""
	}
	rest := raw[i+len(`"tag":"`):]
	j := strings.Index(rest, `"`)
	return rest[:j]
}

func TestEveryDropsOnSchedule(t *testing.T) {
	t.Parallel()
	base := time.Now()
	var frames []wire.RecordedFrame
	for i := 1; i <= 5; i++ {
		frames = append(frames, bookUpdateFrame(base.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("%d", i)))
	}

	r := New(frames, AsFastAsPossible(), Every(2, Drop()))
	got := drainAll(t, r)

	var tags []string
	for _, f := range got {
		tags = append(tags, tagOf(f.Raw))
	}
	want := []string{"1", "3", "5"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestOnceAtReordersOneSlot(t *testing.T) {
	t.Parallel()
	base := time.Now()
	frames := []wire.RecordedFrame{
		bookUpdateFrame(base, "A"),
		bookUpdateFrame(base.Add(time.Millisecond), "B"),
		bookUpdateFrame(base.Add(2*time.Millisecond), "C"),
		bookUpdateFrame(base.Add(3*time.Millisecond), "D"),
	}

	r := New(frames, AsFastAsPossible(), OnceAt(2, Reorder()))
	got := drainAll(t, r)

	var tags []string
	for _, f := range got {
		tags = append(tags, tagOf(f.Raw))
	}
	want := []string{"A", "C", "B", "D"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestNoFaultRoundTripsInOrder(t *testing.T) {
	t.Parallel()
	base := time.Now()
	var frames []wire.RecordedFrame
	for i := 1; i <= 6; i++ {
		frames = append(frames, bookUpdateFrame(base.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("%d", i)))
	}

	r := New(frames, AsFastAsPossible(), NoFault())
	got := drainAll(t, r)

	if len(got) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(got), len(frames))
	}
	for i, f := range got {
		if f.Raw != frames[i].Raw {
			t.Errorf("frame %d = %q, want %q", i, f.Raw, frames[i].Raw)
		}
	}
}

func TestPacingWithholdsFramesNotYetDue(t *testing.T) {
	t.Parallel()
	base := time.Now()
	frames := []wire.RecordedFrame{
		bookUpdateFrame(base, "A"),
		bookUpdateFrame(base.Add(time.Second), "B"),
	}

	r := New(frames, Realtime(), NoFault())
	r.Start(base)

	f, ok := r.NextFrame(base)
	if !ok || tagOf(f.Raw) != "A" {
		t.Fatalf("expected immediate A, got %v ok=%v", f, ok)
	}

	_, ok = r.NextFrame(base.Add(500 * time.Millisecond))
	if ok {
		t.Fatal("expected B to be withheld before its due time")
	}

	f, ok = r.NextFrame(base.Add(time.Second))
	if !ok || tagOf(f.Raw) != "B" {
		t.Fatalf("expected B once due, got %v ok=%v", f, ok)
	}
	if !r.Done() {
		t.Error("expected replayer to report Done after final frame")
	}
}

func TestMutateQtyUsesDeclaredIncrementFallback(t *testing.T) {
	t.Parallel()
	base := time.Now()
	instrumentRaw := `{"channel":"instrument","pairs":[{"symbol":"BTC-USD","price_precision":1,"qty_precision":1,"price_increment":"0.1","qty_increment":"0.1","status":"active"}]}`
	frames := []wire.RecordedFrame{
		{TS: base, Raw: instrumentRaw},
		bookUpdateFrame(base.Add(time.Millisecond), "A"),
	}

	r := New(frames, AsFastAsPossible(), OnceAt(1, MutateQty(3)))
	got := drainAll(t, r)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	mutated := got[1].Raw
	if !strings.Contains(mutated, `"1.3"`) {
		t.Errorf("mutated frame = %q, want qty 1.3 (1.0 + 3*0.1)", mutated)
	}
}

func TestMutateQtyClampsAtZero(t *testing.T) {
	t.Parallel()
	base := time.Now()
	frames := []wire.RecordedFrame{bookUpdateFrame(base, "A")}

	r := New(frames, AsFastAsPossible(), OnceAt(1, MutateQty(-999999999)))
	got := drainAll(t, r)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if !strings.Contains(got[0].Raw, `"qty":"0"`) {
		t.Errorf("mutated frame = %q, want clamped qty 0", got[0].Raw)
	}
}

func TestOnFaultReportsSymbolAndIndex(t *testing.T) {
	t.Parallel()
	base := time.Now()
	var frames []wire.RecordedFrame
	for i := 1; i <= 4; i++ {
		frames = append(frames, bookUpdateFrame(base.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("%d", i)))
	}

	r := New(frames, AsFastAsPossible(), Every(2, Drop()))
	var fired []int
	r.OnFault(func(symbol string, fault Fault, index int) {
		if symbol != "BTC-USD" {
			t.Errorf("fault symbol = %q, want BTC-USD", symbol)
		}
		if fault.Kind != FaultDrop {
			t.Errorf("fault kind = %v, want drop", fault.Kind)
		}
		fired = append(fired, index)
	})

	drainAll(t, r)
	if len(fired) != 2 || fired[0] != 2 || fired[1] != 4 {
		t.Errorf("fault fired at %v, want [2 4]", fired)
	}
}

func TestDropAtStreamEndLeavesReplayerDone(t *testing.T) {
	t.Parallel()
	base := time.Now()
	frames := []wire.RecordedFrame{bookUpdateFrame(base, "A")}

	r := New(frames, AsFastAsPossible(), Every(1, Drop()))
	got := drainAll(t, r)
	if len(got) != 0 {
		t.Fatalf("got %d frames, want 0 (only frame dropped)", len(got))
	}
	if !r.Done() {
		t.Error("expected Done() after dropping the only frame")
	}
}
