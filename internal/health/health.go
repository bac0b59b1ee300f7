// Package health tracks per-symbol connectivity, message-rate, and
// checksum-verification counters, and derives a 0..100 health score and an
// OK/WARN/FAIL status from them. Counters are mutated only on the frame
// dispatch path; readers get consistent copies via Snapshot.
package health

import (
	"sync"
	"time"
)

// Status classifies a symbol's current health.
type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

const (
	staleAfter = 60 * time.Second
	rateWindow = 10 * time.Second
)

// Snapshot is an immutable, point-in-time copy of a symbol's health record,
// safe to hand to readers (HTTP/dashboard) without holding any lock.
type Snapshot struct {
	Symbol           string     `json:"symbol"`
	Connected        bool       `json:"connected"`
	LastMsgAt        time.Time  `json:"last_msg_at"`
	TotalMsgs        int64      `json:"total_msgs"`
	ChecksumOK       int64      `json:"checksum_ok"`
	ChecksumFail     int64      `json:"checksum_fail"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	LastMismatchAt   *time.Time `json:"last_mismatch_at,omitempty"`
	ReconnectCount   int        `json:"reconnect_count"`
	MsgRate          float64    `json:"msg_rate"`
	OKRate           float64    `json:"ok_rate"`
	HealthScore      int        `json:"health_score"`
	Status           Status     `json:"status"`
}

// Health is one symbol's mutable health record. All access goes through its
// methods, which hold the internal mutex; Snapshot() is the only way to get
// a consistent read.
type Health struct {
	mu sync.Mutex

	symbol           string
	connected        bool
	lastMsgAt        time.Time
	totalMsgs        int64
	checksumOK       int64
	checksumFail     int64
	consecutiveFails int
	lastMismatchAt   *time.Time
	reconnectCount   int

	msgTimes []time.Time // rolling window for rate computation, evict-on-add
}

func newHealth(symbol string) *Health {
	return &Health{symbol: symbol}
}

// RecordMessage bumps the message counter, sets last_msg_timestamp, and
// folds the arrival into the rolling rate window.
func (h *Health) RecordMessage(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalMsgs++
	h.lastMsgAt = now
	h.connected = true
	h.msgTimes = append(h.msgTimes, now)
	h.evictStaleLocked(now)
}

// RecordChecksumOK bumps ok and zeroes consecutive_fails.
func (h *Health) RecordChecksumOK() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checksumOK++
	h.consecutiveFails = 0
}

// RecordChecksumFail bumps fail and consecutive_fails and sets
// last_checksum_mismatch.
func (h *Health) RecordChecksumFail(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checksumFail++
	h.consecutiveFails++
	t := now
	h.lastMismatchAt = &t
}

// SetConnected sets the connected flag (true on (re)connect, false on
// disconnect).
func (h *Health) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
}

// RecordReconnect bumps the reconnect counter.
func (h *Health) RecordReconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnectCount++
}

// evictStaleLocked drops message timestamps outside the rate window. Must
// be called with the mutex held.
func (h *Health) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(h.msgTimes) && h.msgTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.msgTimes = h.msgTimes[i:]
	}
}

// Snapshot returns a consistent, lock-free-to-read copy of the record along
// with its derived fields.
func (h *Health) Snapshot(now time.Time) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictStaleLocked(now)

	msgRate := float64(len(h.msgTimes)) / rateWindow.Seconds()

	okRate := 1.0
	total := h.checksumOK + h.checksumFail
	if total > 0 {
		okRate = float64(h.checksumOK) / float64(total)
	}

	score := computeScore(h.checksumOK, h.checksumFail, h.consecutiveFails, h.connected, h.lastMsgAt, now)

	var lastMismatch *time.Time
	if h.lastMismatchAt != nil {
		t := *h.lastMismatchAt
		lastMismatch = &t
	}

	return Snapshot{
		Symbol:           h.symbol,
		Connected:        h.connected,
		LastMsgAt:        h.lastMsgAt,
		TotalMsgs:        h.totalMsgs,
		ChecksumOK:       h.checksumOK,
		ChecksumFail:     h.checksumFail,
		ConsecutiveFails: h.consecutiveFails,
		LastMismatchAt:   lastMismatch,
		ReconnectCount:   h.reconnectCount,
		MsgRate:          msgRate,
		OKRate:           okRate,
		HealthScore:      score,
		Status:           statusFor(score),
	}
}

// computeScore derives the 0..100 score: start at 100, subtract the
// fail-rate percentage once it exceeds 1%, 5 points per consecutive fail
// (capped at 10), 50 if disconnected, 30 if stale.
func computeScore(ok, fail int64, consecutiveFails int, connected bool, lastMsgAt, now time.Time) int {
	score := 100

	total := ok + fail
	if total > 0 {
		failRate := float64(fail) / float64(total)
		if failRate > 0.01 {
			score -= int(failRate * 100) // floor via int truncation
		}
	}

	cf := consecutiveFails
	if cf > 10 {
		cf = 10
	}
	score -= 5 * cf

	if !connected {
		score -= 50
	}

	if lastMsgAt.IsZero() || now.Sub(lastMsgAt) > staleAfter {
		score -= 30
	}

	if score < 0 {
		score = 0
	}
	return score
}

func statusFor(score int) Status {
	switch {
	case score >= 90:
		return StatusOK
	case score >= 70:
		return StatusWarn
	default:
		return StatusFail
	}
}
