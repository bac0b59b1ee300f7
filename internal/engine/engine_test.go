package engine

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bookguard/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Symbols = []string{"BTC-USD"}
	cfg.Health.BundleDir = t.TempDir()
	cfg.Store.Dir = t.TempDir()
	cfg.Health.GlobalRingCapacity = 100
	cfg.Health.SymbolRingCapacity = 100
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return newCore(cfg, logger)
}

func TestProcessFrameAppliesSnapshotAndSkipsVerificationWithoutChecksum(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	now := time.Now()

	instRaw := `{"channel":"instrument","pairs":[{"symbol":"BTC-USD","price_precision":1,"qty_precision":1,"price_increment":"0.1","qty_increment":"0.1","status":"active"}]}`
	e.processFrame(inputFrame{TS: now, Raw: []byte(instRaw)})

	bookRaw := `{"channel":"book","type":"snapshot","data":[{"symbol":"BTC-USD","bids":[{"price":"49999.9","qty":"1.0"}],"asks":[{"price":"50000.1","qty":"1.0"}]}]}`
	e.processFrame(inputFrame{TS: now, Raw: []byte(bookRaw)})

	b := e.books.Get("BTC-USD")
	bid, ok := b.BestBid()
	if !ok || bid.Price.String() != "49999.9" {
		t.Fatalf("BestBid = %+v, ok=%v", bid, ok)
	}

	h := e.health.Get("BTC-USD").Snapshot(now)
	if h.TotalMsgs != 1 {
		t.Errorf("TotalMsgs = %d, want 1", h.TotalMsgs)
	}
	// No expected checksum on the frame, so verification is skipped rather
	// than counted as a pass or fail.
	if h.ChecksumOK != 0 || h.ChecksumFail != 0 {
		t.Errorf("expected no checksum accounting without an expected checksum, got ok=%d fail=%d", h.ChecksumOK, h.ChecksumFail)
	}
}

func TestProcessFrameMismatchRaisesIncidentAndBundle(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	now := time.Now()

	instRaw := `{"channel":"instrument","pairs":[{"symbol":"BTC-USD","price_precision":1,"qty_precision":1,"price_increment":"0.1","qty_increment":"0.1","status":"active"}]}`
	e.processFrame(inputFrame{TS: now, Raw: []byte(instRaw)})

	var badChecksum uint32 = 1
	bookRaw := `{"channel":"book","type":"snapshot","data":[{"symbol":"BTC-USD","bids":[{"price":"49999.9","qty":"1.0"}],"asks":[{"price":"50000.1","qty":"1.0"}],"checksum":` +
		jsonNum(badChecksum) + `}]}`
	e.processFrame(inputFrame{TS: now, Raw: []byte(bookRaw)})

	h := e.health.Get("BTC-USD").Snapshot(now)
	if h.ChecksumFail != 1 {
		t.Fatalf("ChecksumFail = %d, want 1", h.ChecksumFail)
	}

	last, ok := e.incidents.Last()
	if !ok {
		t.Fatal("expected an incident to have been recorded")
	}
	if last.Symbol != "BTC-USD" {
		t.Errorf("incident symbol = %q, want BTC-USD", last.Symbol)
	}

	entries, err := os.ReadDir(e.cfg.Health.BundleDir)
	if err != nil {
		t.Fatalf("read bundle dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d bundle files, want 1", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".zip" {
		t.Errorf("bundle file %q does not have .zip extension", entries[0].Name())
	}
}

func jsonNum(v uint32) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
