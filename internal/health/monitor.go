// monitor.go watches health transitions and raises alerts: a periodic
// ticker plus a buffered alert channel, running in its own goroutine, with
// no shared mutable state beyond the Tracker it already reads.
package health

import (
	"context"
	"time"
)

// Alert is raised when a symbol's status degrades to FAIL, or when its
// consecutive checksum failures cross the sustained-outage threshold. The
// engine logs each Alert and forwards its Snapshot to the dashboard as a
// health event; an Alert does not raise a frames.Incident. Monitor has no
// dependency on the frames package.
type Alert struct {
	Symbol    string
	Reason    string
	At        time.Time
	Snapshot  Snapshot
}

// sustainedFailThreshold is the number of consecutive checksum failures
// that, even before the health score crosses into FAIL, is treated as a
// sustained outage worth alerting on immediately.
const sustainedFailThreshold = 5

// Monitor periodically re-evaluates every tracked symbol's health and
// raises Alerts on status degradation.
type Monitor struct {
	tracker  *Tracker
	alertCh  chan Alert
	interval time.Duration

	lastStatus map[string]Status
}

// NewMonitor creates a Monitor over tracker, checking every interval.
func NewMonitor(tracker *Tracker, interval time.Duration) *Monitor {
	return &Monitor{
		tracker:    tracker,
		alertCh:    make(chan Alert, 64),
		interval:   interval,
		lastStatus: make(map[string]Status),
	}
}

// Alerts returns the channel Monitor publishes Alerts on.
func (m *Monitor) Alerts() <-chan Alert { return m.alertCh }

// Run starts the periodic evaluation loop. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate(time.Now())
		}
	}
}

func (m *Monitor) evaluate(now time.Time) {
	for _, symbol := range m.tracker.Symbols() {
		h := m.tracker.Get(symbol)
		snap := h.Snapshot(now)

		prev := m.lastStatus[symbol]
		m.lastStatus[symbol] = snap.Status

		if snap.Status == StatusFail && prev != StatusFail {
			m.publish(Alert{Symbol: symbol, Reason: "health status degraded to FAIL", At: now, Snapshot: snap})
			continue
		}
		if snap.ConsecutiveFails >= sustainedFailThreshold {
			m.publish(Alert{Symbol: symbol, Reason: "sustained consecutive checksum failures", At: now, Snapshot: snap})
		}
	}
}

func (m *Monitor) publish(a Alert) {
	select {
	case m.alertCh <- a:
	default:
		// Alert channel full: the engine is falling behind. Drop rather
		// than block the evaluation loop.
	}
}
