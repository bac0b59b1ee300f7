// Package book maintains per-symbol bid/ask ladders under snapshot-then-delta
// semantics: one mutex-protected replica per symbol, updated from either a
// full snapshot or an incremental update, with derived best-bid/best-ask/mid
// queries for callers that only need a consistent read.
package book

import (
	"sort"
	"sync"
	"time"

	"bookguard/internal/fixedpoint"
)

// Level is a single (price, quantity) pair in the ladder.
type Level struct {
	Price fixedpoint.Decimal `json:"price"`
	Qty   fixedpoint.Decimal `json:"qty"`
}

// Book is a per-symbol bid/ask ladder. Asks are stored ascending by price;
// bids are stored ascending by price too (ascending simplifies truncation
// and binary search) but every read-side iteration over bids walks the
// slice in reverse, so callers always see high-to-low.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	asks    []Level // ascending
	bids    []Level // ascending
	seeded  bool
	updated time.Time
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Snapshot clears both sides and inserts the given levels, discarding any
// with zero quantity. Levels need not be pre-sorted.
func (b *Book) Snapshot(bids, asks []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.asks = insertAllSorted(nil, asks)
	b.bids = insertAllSorted(nil, bids)
	b.seeded = true
	b.updated = time.Now()
}

// Update applies each (price, qty) upsert/delete in the order supplied.
// A zero quantity removes the price; a nonzero quantity inserts or
// overwrites it.
func (b *Book) Update(bidUpdates, askUpdates []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, lvl := range askUpdates {
		b.asks = applyOne(b.asks, lvl)
	}
	for _, lvl := range bidUpdates {
		b.bids = applyOne(b.bids, lvl)
	}
	b.updated = time.Now()
}

// Truncate keeps the depth lowest asks and the depth highest bids, discarding
// the rest. A depth of 0 or a side already within depth is a no-op for that
// side.
func (b *Book) Truncate(depth int) {
	if depth <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.asks) > depth {
		b.asks = append([]Level(nil), b.asks[:depth]...)
	}
	if len(b.bids) > depth {
		b.bids = append([]Level(nil), b.bids[len(b.bids)-depth:]...)
	}
}

// BestBid returns the highest-priced bid, if any.
func (b *Book) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return Level{}, false
	}
	return b.bids[len(b.bids)-1], true
}

// BestAsk returns the lowest-priced ask, if any.
func (b *Book) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return Level{}, false
	}
	return b.asks[0], true
}

// Spread returns bestAsk - bestBid. ok is false if either side is empty.
func (b *Book) Spread() (fixedpoint.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 || len(b.bids) == 0 {
		return fixedpoint.Decimal{}, false
	}
	return b.asks[0].Price.Sub(b.bids[len(b.bids)-1].Price), true
}

// Mid returns (bestAsk + bestBid) / 2. ok is false if either side is empty.
func (b *Book) Mid() (fixedpoint.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 || len(b.bids) == 0 {
		return fixedpoint.Decimal{}, false
	}
	return fixedpoint.HalfSum(b.asks[0].Price, b.bids[len(b.bids)-1].Price), true
}

// Asks returns up to limit ask levels in ascending price order. limit <= 0
// means no limit.
func (b *Book) Asks(limit int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyLimit(b.asks, limit, false)
}

// BidsRev returns up to limit bid levels in descending price order.
// limit <= 0 means no limit.
func (b *Book) BidsRev(limit int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyLimit(b.bids, limit, true)
}

// Updated returns the time of the last snapshot or update.
func (b *Book) Updated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Seeded reports whether at least one snapshot has been applied.
func (b *Book) Seeded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seeded
}

func copyLimit(levels []Level, limit int, reverse bool) []Level {
	n := len(levels)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Level, n)
	if !reverse {
		copy(out, levels[:n])
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = levels[len(levels)-1-i]
	}
	return out
}

// insertAllSorted builds a sorted ascending slice from scratch, dropping
// any zero-quantity entries per the snapshot contract.
func insertAllSorted(into []Level, levels []Level) []Level {
	into = into[:0]
	for _, lvl := range levels {
		if lvl.Qty.IsZero() {
			continue
		}
		into = append(into, lvl)
	}
	sort.Slice(into, func(i, j int) bool { return into[i].Price.Cmp(into[j].Price) < 0 })
	return into
}

// applyOne upserts or deletes a single level in an ascending-sorted slice.
func applyOne(levels []Level, lvl Level) []Level {
	i := sort.Search(len(levels), func(i int) bool { return levels[i].Price.Cmp(lvl.Price) >= 0 })
	found := i < len(levels) && levels[i].Price.Cmp(lvl.Price) == 0

	if lvl.Qty.IsZero() {
		if found {
			levels = append(levels[:i], levels[i+1:]...)
		}
		return levels
	}

	if found {
		levels[i] = lvl
		return levels
	}

	levels = append(levels, Level{})
	copy(levels[i+1:], levels[i:])
	levels[i] = lvl
	return levels
}
