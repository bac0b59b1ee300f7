package frames

import (
	"fmt"
	"sync"
	"time"
)

// Reason enumerates why an Incident was created.
type Reason string

const (
	ReasonChecksumMismatch Reason = "ChecksumMismatch"
	ReasonRateLimit        Reason = "RateLimit"
	ReasonDisconnect       Reason = "Disconnect"
	ReasonManualExport     Reason = "ManualExport"
	ReasonFaultInject      Reason = "FaultInject"
)

// Incident is a named, timestamped anomaly with optional symbol scoping and
// free-form metadata captured at the moment of the event (by value — an
// Incident never holds a back-reference into a live book or health record,
// so it stays safe to retain in the log indefinitely).
type Incident struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Reason    Reason            `json:"reason"`
	Symbol    string            `json:"symbol,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewIncident constructs an Incident with a monotonic-enough ID composed of
// a unix timestamp and the reason tag.
func NewIncident(now time.Time, reason Reason, symbol string, metadata map[string]string) Incident {
	return Incident{
		ID:        fmt.Sprintf("%d-%s", now.UnixNano(), reason),
		Timestamp: now,
		Reason:    reason,
		Symbol:    symbol,
		Metadata:  metadata,
	}
}

// Log stores the last incident and an append-only history. A single mutex
// is enough here: incidents are rare relative to frame pushes, so there's
// no need for a per-symbol table like RingTable.
type Log struct {
	mu   sync.RWMutex
	last *Incident
	all  []Incident
}

// NewLog creates an empty incident log.
func NewLog() *Log {
	return &Log{}
}

// Record appends an incident and updates the "last incident" slot.
func (l *Log) Record(inc Incident) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, inc)
	cp := inc
	l.last = &cp
}

// Last returns the most recently recorded incident, if any.
func (l *Log) Last() (Incident, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Incident{}, false
	}
	return *l.last, true
}

// All returns a copy of the full incident history, oldest first.
func (l *Log) All() []Incident {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Incident, len(l.all))
	copy(out, l.all)
	return out
}
