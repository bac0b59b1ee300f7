// Package replay implements the deterministic replayer: it re-emits a
// recorded NDJSON frame log with configurable wall-clock pacing and
// optional, fully deterministic fault injection (drop, reorder, mutate
// quantity), so the same fixture drives the same engine path every run.
package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"bookguard/internal/fixedpoint"
	"bookguard/pkg/wire"
)

// Replayer re-emits frames loaded from a recording, pacing them according to
// a Pacing and perturbing book-update frames according to a FaultRule.
//
// NextFrame is cooperative: callers poll it with the current time and it
// returns a frame only once that frame's pacing delay has elapsed. The
// caller owns the clock, so tests drive the replayer with synthetic
// timestamps instead of wall-clock sleeps.
type Replayer struct {
	frames []wire.RecordedFrame
	pos    int

	pacing Pacing
	rule   FaultRule

	t0      time.Time // wall-clock time Start was called
	f0      time.Time // timestamp of frames[0], the pacing origin
	started bool

	updateIndex map[string]int
	tickBySym   map[string]fixedpoint.Decimal

	reorderPending *wire.RecordedFrame

	onFault func(symbol string, fault Fault, index int)
}

// New constructs a Replayer over an already-loaded frame slice (see
// LoadFrames). Frames are assumed to be in non-decreasing TS order, which is
// how the recorder writes them.
func New(frames []wire.RecordedFrame, pacing Pacing, rule FaultRule) *Replayer {
	return &Replayer{
		frames:      frames,
		pacing:      pacing,
		rule:        rule,
		updateIndex: make(map[string]int),
		tickBySym:   make(map[string]fixedpoint.Decimal),
	}
}

// OnFault registers a callback invoked each time the fault rule fires,
// with the affected symbol, the fault applied, and the per-symbol update
// index it fired at. Callers use it to record an injection incident.
func (r *Replayer) OnFault(fn func(symbol string, fault Fault, index int)) {
	r.onFault = fn
}

// Start pins the pacing origin to now. Must be called before the first
// NextFrame call.
func (r *Replayer) Start(now time.Time) {
	r.t0 = now
	r.started = true
	if len(r.frames) > 0 {
		r.f0 = r.frames[0].TS
	}
}

// Done reports whether every frame has been emitted or dropped.
func (r *Replayer) Done() bool {
	return r.reorderPending == nil && r.pos >= len(r.frames)
}

// due reports whether the frame with timestamp fi is eligible to emit at
// wall-clock time now, per the configured Pacing:
//
//	(now - t0) >= (fi - f0) / speed
func (r *Replayer) due(now time.Time, fi time.Time) bool {
	switch r.pacing.Mode {
	case ModeAsFast:
		return true
	case ModeRealtime:
		return !now.Before(r.t0.Add(fi.Sub(r.f0)))
	case ModeSpeed:
		speed := r.pacing.Speed
		if speed <= 0 {
			speed = 1.0
		}
		want := time.Duration(float64(fi.Sub(r.f0)) / speed)
		return !now.Before(r.t0.Add(want))
	default:
		return true
	}
}

// NextFrame returns the next frame due at wall-clock time now, with any
// configured fault applied. It returns (frame, true) if a frame was
// emitted, or (nil, false) if no frame is due yet, or the stream is
// exhausted (distinguish the two with Done).
func (r *Replayer) NextFrame(now time.Time) (*wire.RecordedFrame, bool) {
	if !r.started {
		r.Start(now)
	}

	// A frame delayed by a prior Reorder fault is always emitted next,
	// bypassing pacing: its due time has already passed by construction
	// (it was eligible before the frame emitted ahead of it).
	if r.reorderPending != nil {
		f := r.reorderPending
		r.reorderPending = nil
		return f, true
	}

	for r.pos < len(r.frames) {
		f := r.frames[r.pos]
		if !r.due(now, f.TS) {
			return nil, false
		}
		r.pos++
		r.observeInstrument(f.Raw)

		symbol, isUpdate := bookUpdateSymbol(f.Raw)
		if !isUpdate {
			return &f, true
		}

		r.updateIndex[symbol]++
		fault, matched := r.rule.match(r.updateIndex[symbol])
		if !matched {
			return &f, true
		}
		if r.onFault != nil {
			r.onFault(symbol, fault, r.updateIndex[symbol])
		}

		switch fault.Kind {
		case FaultDrop:
			continue

		case FaultReorder:
			if r.pos >= len(r.frames) {
				// Nothing to reorder against; emit as if untouched.
				return &f, true
			}
			next := r.frames[r.pos]
			r.pos++
			r.observeInstrument(next.Raw)
			buffered := f
			r.reorderPending = &buffered
			return &next, true

		case FaultMutateQty:
			mutated, err := mutateQty(f.Raw, fault.DeltaTicks, r.tickFor(symbol))
			if err != nil {
				// Malformed frame bodies aren't expected from our own
				// recorder; fall back to emitting the frame untouched
				// rather than losing it.
				return &f, true
			}
			f.Raw = mutated
			return &f, true

		default:
			return &f, true
		}
	}
	return nil, false
}

// tickFor returns the symbol's declared qty_increment if an instrument
// frame has been observed, otherwise defaultTick.
func (r *Replayer) tickFor(symbol string) fixedpoint.Decimal {
	if t, ok := r.tickBySym[symbol]; ok {
		return t
	}
	return defaultTick
}

// observeInstrument updates tickBySym from an instrument-channel frame; it
// is a no-op for any other channel.
func (r *Replayer) observeInstrument(raw string) {
	if wire.PeekChannel([]byte(raw)) != wire.ChannelInstrument {
		return
	}
	var inst wire.InstrumentFrame
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return
	}
	for _, pair := range inst.Pairs {
		r.tickBySym[pair.Symbol] = pair.QtyIncrement
	}
}

// bookUpdateSymbol reports the primary symbol of a "book"/"update" frame,
// used to key the per-symbol fault index. Snapshots and other channels
// never count toward the index.
func bookUpdateSymbol(raw string) (symbol string, isUpdate bool) {
	var bf wire.BookFrame
	if err := json.Unmarshal([]byte(raw), &bf); err != nil {
		return "", false
	}
	if bf.Channel != wire.ChannelBook || bf.Type != wire.BookMsgUpdate {
		return "", false
	}
	if len(bf.Data) == 0 {
		return "", false
	}
	return bf.Data[0].Symbol, true
}

// mutateQty rewrites the first level's quantity (the best ask, or the best
// bid if the frame carries no asks) on a book-update frame's first data
// entry: qty' = max(0, qty + deltaTicks*tick).
func mutateQty(raw string, deltaTicks int64, tick fixedpoint.Decimal) (string, error) {
	var bf wire.BookFrame
	if err := json.Unmarshal([]byte(raw), &bf); err != nil {
		return "", fmt.Errorf("replay: decode frame for MutateQty: %w", err)
	}
	if len(bf.Data) == 0 {
		return "", fmt.Errorf("replay: MutateQty frame has no data entries")
	}

	data := &bf.Data[0]
	delta := tick.MulInt64(deltaTicks)
	switch {
	case len(data.Asks) > 0:
		data.Asks[0].Qty = data.Asks[0].Qty.Add(delta).ClampNonNegative()
	case len(data.Bids) > 0:
		data.Bids[0].Qty = data.Bids[0].Qty.Add(delta).ClampNonNegative()
	default:
		return "", fmt.Errorf("replay: MutateQty frame has no levels to mutate")
	}

	out, err := json.Marshal(bf)
	if err != nil {
		return "", fmt.Errorf("replay: re-encode mutated frame: %w", err)
	}
	return string(out), nil
}
