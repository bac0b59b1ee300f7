package checksum

import (
	"testing"

	"bookguard/internal/book"
	"bookguard/internal/fixedpoint"
)

func lvl(t *testing.T, price, qty float64) book.Level {
	t.Helper()
	return book.Level{Price: fixedpoint.NewFromFloat(price), Qty: fixedpoint.NewFromFloat(qty)}
}

func TestBuildCanonicalTenLevelBook(t *testing.T) {
	t.Parallel()

	bk := book.New("BTC-USD")
	var asks, bids []book.Level
	for i := 0; i < 10; i++ {
		asks = append(asks, lvl(t, 50000.1+float64(i)*0.1, 1+float64(i)))
		bids = append(bids, lvl(t, 49999.9-float64(i)*0.1, 1+float64(i)))
	}
	bk.Snapshot(bids, asks)

	canonical, gotAsks, gotBids := BuildCanonical(bk, 1, 1)
	if len(gotAsks) != 10 || len(gotBids) != 10 {
		t.Fatalf("expected 10/10 levels, got %d/%d", len(gotAsks), len(gotBids))
	}

	want := "500001" + "10" // first ask: price "500001", qty "10"
	if canonical[:len(want)] != want {
		t.Errorf("canonical string prefix = %q, want %q", canonical[:len(want)], want)
	}

	sum := CRC32(canonical)
	if sum == 0 {
		t.Error("CRC32 over a nonempty canonical string should not be zero")
	}

	// Determinism: rebuilding from the same book state reproduces the same checksum.
	canonical2, _, _ := BuildCanonical(bk, 1, 1)
	if CRC32(canonical2) != sum {
		t.Error("CRC32 is not a pure function of the book state")
	}
}

func TestVerifySkippedWhenNoExpectedChecksum(t *testing.T) {
	t.Parallel()
	bk := book.New("X")
	bk.Snapshot([]book.Level{lvl(t, 100, 1)}, []book.Level{lvl(t, 101, 1)})

	v := New()
	proof := v.Verify("X", bk, 2, 2, nil)
	if !proof.Skipped || !proof.Matched {
		t.Error("verification with no expected checksum must be skipped, not a mismatch")
	}
}

func TestVerifyMismatchRecordsDiagnosis(t *testing.T) {
	t.Parallel()
	bk := book.New("X")
	bk.Snapshot([]book.Level{lvl(t, 100, 1)}, []book.Level{lvl(t, 101, 1)})

	v := New()
	bad := uint32(0xdeadbeef)
	proof := v.Verify("X", bk, 2, 2, &bad)
	if proof.Matched {
		t.Fatal("expected mismatch")
	}
	if proof.Diagnosis == "" {
		t.Error("expected a diagnosis string on mismatch")
	}
	if proof.LastMismatchAt == nil {
		t.Error("expected LastMismatchAt to be set after a mismatch")
	}
}

func TestVerifyEmptyBookCRC32IsZero(t *testing.T) {
	t.Parallel()
	bk := book.New("X")
	canonical, asks, bids := BuildCanonical(bk, 2, 2)
	if canonical != "" || len(asks) != 0 || len(bids) != 0 {
		t.Fatal("empty book should yield an empty canonical string")
	}
	if CRC32(canonical) != 0 {
		t.Error("CRC32 of empty bytes must be 0")
	}
}

func TestVerifySingleSidedBook(t *testing.T) {
	t.Parallel()
	bk := book.New("X")
	bk.Snapshot(nil, []book.Level{lvl(t, 101, 1)})

	v := New()
	expected := CRC32(func() string { c, _, _ := BuildCanonical(bk, 2, 2); return c }())
	proof := v.Verify("X", bk, 2, 2, &expected)
	if !proof.Matched {
		t.Error("single-sided book should verify against its own canonical checksum")
	}
	if len(proof.TopBids) != 0 {
		t.Error("expected no bid levels on a single-sided (asks-only) book")
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	t.Parallel()
	w := &latencyWindow{}
	for i := 0; i < latencyWindowCap+50; i++ {
		w.add(1)
	}
	if len(w.samples) != latencyWindowCap {
		t.Errorf("latency window len = %d, want %d", len(w.samples), latencyWindowCap)
	}
}
