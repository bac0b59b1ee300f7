// Package checksum builds the vendor's canonical top-of-book string and
// verifies it against a server-supplied CRC32, producing a diagnostic
// integrity proof for every verification attempt.
package checksum

import (
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	"bookguard/internal/book"
	"bookguard/internal/fixedpoint"
)

const (
	topN              = 10
	canonicalPrefixN  = 64
	latencyWindowCap  = 1000
)

// Proof is the diagnostic snapshot attached to each verification attempt.
type Proof struct {
	Symbol          string        `json:"symbol"`
	Expected        *uint32       `json:"expected,omitempty"`
	Computed        uint32        `json:"computed"`
	Matched         bool          `json:"matched"`
	Skipped         bool          `json:"skipped"` // true when Expected was nil: informational, not a mismatch
	CanonicalPrefix string        `json:"canonical_prefix"`
	CanonicalLen    int           `json:"canonical_len"`
	Latency         time.Duration `json:"latency_ns"`
	TopAsks         []book.Level  `json:"top_asks"`
	TopBids         []book.Level  `json:"top_bids"`
	VerifiedAt      time.Time     `json:"verified_at"`
	LastMismatchAt  *time.Time    `json:"last_mismatch_at,omitempty"`
	Diagnosis       string        `json:"diagnosis,omitempty"`
	LatencyAvg      time.Duration `json:"latency_avg_ns"`
	LatencyP95      time.Duration `json:"latency_p95_ns"`
}

// BuildCanonical concatenates FormatFixed(price)+FormatFixed(qty) for the
// top 10 asks (ascending) then the top 10 bids (descending). Sides with
// fewer than 10 levels contribute only what they have; no padding.
func BuildCanonical(bk *book.Book, pricePrec, qtyPrec int32) (string, []book.Level, []book.Level) {
	asks := bk.Asks(topN)
	bids := bk.BidsRev(topN)

	var sb strings.Builder
	for _, lvl := range asks {
		sb.WriteString(fixedpoint.FormatFixed(lvl.Price, pricePrec))
		sb.WriteString(fixedpoint.FormatFixed(lvl.Qty, qtyPrec))
	}
	for _, lvl := range bids {
		sb.WriteString(fixedpoint.FormatFixed(lvl.Price, pricePrec))
		sb.WriteString(fixedpoint.FormatFixed(lvl.Qty, qtyPrec))
	}
	return sb.String(), asks, bids
}

// CRC32 computes the IEEE CRC32 (polynomial 0xEDB88320, standard preset and
// final XOR) over the UTF-8 bytes of s — the same CRC32 the vendor computes
// over its canonical string.
func CRC32(s string) uint32 {
	return crc32.ChecksumIEEE([]byte(s))
}

// Verifier tracks a rolling per-symbol latency window and the last mismatch
// time, so every Proof carries the rolling latency history without
// recomputing it from scratch on every call.
type Verifier struct {
	mu            sync.Mutex
	windows       map[string]*latencyWindow
	lastMismatch  map[string]time.Time
}

// New creates a Verifier.
func New() *Verifier {
	return &Verifier{
		windows:      make(map[string]*latencyWindow),
		lastMismatch: make(map[string]time.Time),
	}
}

// Verify builds the canonical string for bk, computes its CRC32, and
// compares it to expected. A nil expected means the frame carried no
// checksum: verification is skipped and the proof is marked informational,
// not a mismatch.
func (v *Verifier) Verify(symbol string, bk *book.Book, pricePrec, qtyPrec int32, expected *uint32) Proof {
	start := time.Now()
	canonical, asks, bids := BuildCanonical(bk, pricePrec, qtyPrec)
	computed := CRC32(canonical)
	latency := time.Since(start)

	prefix := canonical
	if len(prefix) > canonicalPrefixN {
		prefix = prefix[:canonicalPrefixN]
	}

	proof := Proof{
		Symbol:          symbol,
		Expected:        expected,
		Computed:        computed,
		CanonicalPrefix: prefix,
		CanonicalLen:    len(canonical),
		Latency:         latency,
		TopAsks:         asks,
		TopBids:         bids,
		VerifiedAt:      start,
	}

	if expected == nil {
		proof.Skipped = true
		proof.Matched = true // informational: not counted as failure
	} else {
		proof.Matched = *expected == computed
	}

	v.mu.Lock()
	w, ok := v.windows[symbol]
	if !ok {
		w = &latencyWindow{}
		v.windows[symbol] = w
	}
	w.add(latency)
	avg, p95 := w.stats()
	proof.LatencyAvg, proof.LatencyP95 = avg, p95

	if !proof.Skipped && !proof.Matched {
		now := start
		v.lastMismatch[symbol] = now
		proof.Diagnosis = fmt.Sprintf(
			"checksum mismatch for %s: expected %d, computed %d over %d-byte canonical string",
			symbol, *expected, computed, len(canonical),
		)
	}
	if t, ok := v.lastMismatch[symbol]; ok {
		tCopy := t
		proof.LastMismatchAt = &tCopy
	}
	v.mu.Unlock()

	return proof
}

// latencyWindow is a bounded rolling window of verification latencies,
// evicting oldest-first once it holds latencyWindowCap samples.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, d)
	if len(w.samples) > latencyWindowCap {
		w.samples = w.samples[len(w.samples)-latencyWindowCap:]
	}
}

func (w *latencyWindow) stats() (avg, p95 time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.samples)
	if n == 0 {
		return 0, 0
	}

	var total time.Duration
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples)
	for _, s := range sorted {
		total += s
	}
	avg = total / time.Duration(n)

	// insertion sort is fine at n <= 1000 and keeps this dependency-free
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	p95 = sorted[idx]
	return avg, p95
}
