package store

import (
	"testing"

	"bookguard/internal/fixedpoint"
	"bookguard/pkg/wire"
)

func mustDecimal(t *testing.T, s string) fixedpoint.Decimal {
	t.Helper()
	d, err := fixedpoint.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestSaveAndLoadInstrument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	pair := wire.InstrumentPair{
		Symbol:         "BTC/USD",
		PricePrecision: 1,
		QtyPrecision:   8,
		PriceIncrement: mustDecimal(t, "0.1"),
		QtyIncrement:   mustDecimal(t, "0.00000001"),
		Status:         "online",
	}

	if err := s.SaveInstrument(pair); err != nil {
		t.Fatalf("SaveInstrument: %v", err)
	}

	loaded, err := s.LoadInstrument("BTC/USD")
	if err != nil {
		t.Fatalf("LoadInstrument: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadInstrument returned nil")
	}

	if loaded.Symbol != pair.Symbol {
		t.Errorf("Symbol = %q, want %q", loaded.Symbol, pair.Symbol)
	}
	if loaded.PricePrecision != 1 || loaded.QtyPrecision != 8 {
		t.Errorf("precisions = (%d, %d), want (1, 8)", loaded.PricePrecision, loaded.QtyPrecision)
	}
	if loaded.QtyIncrement.Cmp(pair.QtyIncrement) != 0 {
		t.Errorf("QtyIncrement = %s, want %s", loaded.QtyIncrement, pair.QtyIncrement)
	}
}

func TestLoadInstrumentMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	loaded, err := s.LoadInstrument("nonexistent")
	if err != nil {
		t.Fatalf("LoadInstrument: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing instrument, got %+v", loaded)
	}
}

func TestSaveInstrumentOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	p1 := wire.InstrumentPair{Symbol: "ETH/USD", PricePrecision: 2, QtyPrecision: 8, Status: "online"}
	p2 := wire.InstrumentPair{Symbol: "ETH/USD", PricePrecision: 3, QtyPrecision: 8, Status: "online"}

	_ = s.SaveInstrument(p1)
	_ = s.SaveInstrument(p2)

	loaded, err := s.LoadInstrument("ETH/USD")
	if err != nil {
		t.Fatalf("LoadInstrument: %v", err)
	}
	if loaded.PricePrecision != 3 {
		t.Errorf("PricePrecision = %d, want 3 (latest save)", loaded.PricePrecision)
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	symbols := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	for _, sym := range symbols {
		if err := s.SaveInstrument(wire.InstrumentPair{Symbol: sym, PricePrecision: 1, QtyPrecision: 8}); err != nil {
			t.Fatalf("SaveInstrument %s: %v", sym, err)
		}
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != len(symbols) {
		t.Fatalf("LoadAll returned %d descriptors, want %d", len(all), len(symbols))
	}

	seen := make(map[string]bool)
	for _, p := range all {
		seen[p.Symbol] = true
	}
	for _, sym := range symbols {
		if !seen[sym] {
			t.Errorf("LoadAll missing %s", sym)
		}
	}
}
