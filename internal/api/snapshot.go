package api

import (
	"time"

	"bookguard/internal/book"
	"bookguard/internal/frames"
	"bookguard/internal/health"
)

// Provider is the read-only view of engine state the API server needs.
// It is defined here, not in the engine package, so that engine depends
// on api through this interface while api never imports engine.
type Provider interface {
	// Symbols lists every symbol with at least one tracked health record.
	Symbols() []string
	// BookTop returns the best bid/ask for symbol, each with its own
	// presence flag since a one-sided or still-empty book is valid.
	BookTop(symbol string) (bid, ask book.Level, bidOK, askOK bool)
	// HealthSnapshot returns symbol's current health record.
	HealthSnapshot(symbol string) health.Snapshot
	// LastIncident returns the most recent incident scoped to symbol.
	LastIncident(symbol string) (frames.Incident, bool)
	// OverallHealth returns the worst status across all tracked symbols.
	OverallHealth() health.Status
	// DashboardEvents returns the channel incremental updates are
	// published on, or nil if the provider doesn't support streaming.
	DashboardEvents() <-chan DashboardEvent
	// ExportManual raises a ManualExport incident and captures a bundle
	// for symbol (empty means the global frame window).
	ExportManual(symbol string) frames.Incident
}

// BuildSnapshot aggregates state from the provider into one consistent
// dashboard snapshot.
func BuildSnapshot(p Provider) DashboardSnapshot {
	symbols := p.Symbols()
	out := make([]SymbolStatus, 0, len(symbols))
	for _, sym := range symbols {
		st := SymbolStatus{Symbol: sym, Health: p.HealthSnapshot(sym)}

		if bid, ask, bidOK, askOK := p.BookTop(sym); bidOK || askOK {
			if bidOK {
				b := bid
				st.BestBid = &b
			}
			if askOK {
				a := ask
				st.BestAsk = &a
			}
		}

		if inc, ok := p.LastIncident(sym); ok {
			c := inc
			st.LastIncident = &c
		}

		out = append(out, st)
	}

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Overall:   p.OverallHealth(),
		Symbols:   out,
	}
}
