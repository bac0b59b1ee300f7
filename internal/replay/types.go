package replay

import "bookguard/internal/fixedpoint"

// PaceMode selects how wall-clock delay between frames is computed.
type PaceMode int

const (
	// ModeRealtime paces at exactly the recorded inter-frame spacing (speed 1.0).
	ModeRealtime PaceMode = iota
	// ModeSpeed paces at a multiple of the recorded spacing.
	ModeSpeed
	// ModeAsFast emits every due frame immediately, ignoring spacing.
	ModeAsFast
)

// Pacing configures emission timing. Speed is only meaningful in ModeSpeed.
type Pacing struct {
	Mode  PaceMode
	Speed float64
}

// Realtime paces at the recorded spacing.
func Realtime() Pacing { return Pacing{Mode: ModeRealtime, Speed: 1.0} }

// AtSpeed paces at s times the recorded spacing (s > 1 plays faster).
func AtSpeed(s float64) Pacing { return Pacing{Mode: ModeSpeed, Speed: s} }

// AsFastAsPossible ignores recorded spacing entirely.
func AsFastAsPossible() Pacing { return Pacing{Mode: ModeAsFast} }

// FaultKind enumerates the perturbations a FaultRule can apply to an
// eligible book-update frame.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultDrop
	FaultReorder
	FaultMutateQty
)

// String names the fault kind for logs and incident metadata.
func (k FaultKind) String() string {
	switch k {
	case FaultDrop:
		return "drop"
	case FaultReorder:
		return "reorder"
	case FaultMutateQty:
		return "mutate_qty"
	default:
		return "none"
	}
}

// Fault describes the perturbation to apply when a FaultRule matches.
type Fault struct {
	Kind FaultKind

	// DeltaTicks is used only by FaultMutateQty: the rewritten quantity is
	// qty + DeltaTicks*tick, clamped to >= 0.
	DeltaTicks int64
}

// Drop is the Drop fault: the eligible frame is skipped.
func Drop() Fault { return Fault{Kind: FaultDrop} }

// Reorder is the Reorder fault: the eligible frame is delayed by one slot.
func Reorder() Fault { return Fault{Kind: FaultReorder} }

// MutateQty is the MutateQty fault: rewrite the first level's qty on the
// ask side (or bid side, if no asks) by deltaTicks * tick, clamped >= 0.
func MutateQty(deltaTicks int64) Fault { return Fault{Kind: FaultMutateQty, DeltaTicks: deltaTicks} }

// ruleKind enumerates how a FaultRule selects which update triggers its fault.
type ruleKind int

const (
	ruleNone ruleKind = iota
	ruleEvery
	ruleOnceAt
)

// FaultRule selects which per-symbol book-update index triggers a Fault.
// The per-symbol update index is counted monotonically starting at 1 and
// only advances on frames identified as book updates (channel "book",
// type "update").
type FaultRule struct {
	kind  ruleKind
	n     int
	index int
	fault Fault
}

// NoFault applies no perturbation.
func NoFault() FaultRule { return FaultRule{kind: ruleNone} }

// Every fires fault on every n-th update for a symbol (index mod n == 0).
func Every(n int, fault Fault) FaultRule { return FaultRule{kind: ruleEvery, n: n, fault: fault} }

// OnceAt fires fault exactly when the per-symbol update count equals index.
func OnceAt(index int, fault Fault) FaultRule {
	return FaultRule{kind: ruleOnceAt, index: index, fault: fault}
}

// match returns the Fault to apply for the given per-symbol update index,
// or (Fault{}, false) if the rule doesn't fire at this index.
func (r FaultRule) match(index int) (Fault, bool) {
	switch r.kind {
	case ruleEvery:
		if r.n > 0 && index%r.n == 0 {
			return r.fault, true
		}
	case ruleOnceAt:
		if index == r.index {
			return r.fault, true
		}
	}
	return Fault{}, false
}

// defaultTick is used for MutateQty when no instrument descriptor has been
// observed yet for the symbol; once an instrument frame arrives, the
// declared qty_increment takes over.
var defaultTick = fixedpoint.NewFromFloat(0.00000001)
