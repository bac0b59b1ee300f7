package api

import (
	"time"

	"bookguard/internal/checksum"
	"bookguard/internal/frames"
	"bookguard/internal/health"
)

// DashboardEvent wraps every message pushed to connected WebSocket clients
// after the initial snapshot. Type distinguishes the payload shape
// carried in Data: "snapshot" (DashboardSnapshot), "health"
// (health.Snapshot), "incident" (frames.Incident), or "proof"
// (checksum.Proof).
type DashboardEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data"`
}

// NewHealthEvent wraps a health re-evaluation for broadcast.
func NewHealthEvent(symbol string, snap health.Snapshot) DashboardEvent {
	return DashboardEvent{Type: "health", Timestamp: time.Now(), Symbol: symbol, Data: snap}
}

// NewIncidentEvent wraps a newly raised incident for broadcast.
func NewIncidentEvent(inc frames.Incident) DashboardEvent {
	return DashboardEvent{Type: "incident", Timestamp: inc.Timestamp, Symbol: inc.Symbol, Data: inc}
}

// NewProofEvent wraps a checksum verification attempt for broadcast,
// letting dashboard clients watch verification latency and mismatches
// without polling /api/snapshot.
func NewProofEvent(proof checksum.Proof) DashboardEvent {
	return DashboardEvent{Type: "proof", Timestamp: proof.VerifiedAt, Symbol: proof.Symbol, Data: proof}
}
