package api

import (
	"time"

	"bookguard/internal/book"
	"bookguard/internal/frames"
	"bookguard/internal/health"
)

// DashboardSnapshot is the full observability state served at
// /api/snapshot and as the initial payload pushed to every new WebSocket
// connection.
type DashboardSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Overall   health.Status  `json:"overall"`
	Symbols   []SymbolStatus `json:"symbols"`
}

// SymbolStatus is one tracked symbol's top-of-book, health record, and
// most recent incident (if any).
type SymbolStatus struct {
	Symbol       string           `json:"symbol"`
	Health       health.Snapshot  `json:"health"`
	BestBid      *book.Level      `json:"best_bid,omitempty"`
	BestAsk      *book.Level      `json:"best_ask,omitempty"`
	LastIncident *frames.Incident `json:"last_incident,omitempty"`
}
