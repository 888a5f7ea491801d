// Package tracker classifies how a logical position changed between the last
// stored Signal and the latest exchange snapshot. Everything here is pure.
package tracker

import (
	"github.com/shopspring/decimal"

	"sigwatch/internal/types"
)

type Kind int

const (
	NoChange Kind = iota
	Open
	Increase
	PartialClose
	Close
)

func (k Kind) String() string {
	switch k {
	case Open:
		return "open"
	case Increase:
		return "increase"
	case PartialClose:
		return "partial_close"
	case Close:
		return "close"
	default:
		return "no_change"
	}
}

// Action maps a transition kind to the lifecycle action it produces.
func (k Kind) Action() (types.Action, bool) {
	switch k {
	case Open:
		return types.ActionOpen, true
	case Increase:
		return types.ActionIncrease, true
	case PartialClose:
		return types.ActionPartialClose, true
	case Close:
		return types.ActionClose, true
	default:
		return "", false
	}
}

// Options tune one classification.
type Options struct {
	// Epsilon absorbs size noise from the feed; deltas within it are NoChange.
	Epsilon decimal.Decimal
	// Gap is true when the key was missing from the previous poll while a signal
	// stayed open for it.
	Gap bool
}

// Transition is the classified delta for one key.
type Transition struct {
	Kind     Kind
	Key      types.PositionKey
	Previous *types.Signal
	Current  *types.LogicalPosition
	// Reopen marks a Close that must be followed by a fresh Open for Current:
	// the key came back after a gap with a different entry price or leverage.
	Reopen bool
}

// Classify compares the open Signal for a key (nil when none) against the
// current snapshot row (nil when the key is absent from the poll).
//
// One Signal is kept per key: concurrent positions sharing symbol, category
// and direction are folded into a single logical position.
func Classify(key types.PositionKey, prev *types.Signal, cur *types.LogicalPosition, opts Options) Transition {
	t := Transition{Key: key, Previous: prev, Current: cur}
	eps := opts.Epsilon.Abs()

	if prev == nil {
		if cur.IsOpen() {
			t.Kind = Open
		}
		return t
	}
	if !cur.IsOpen() {
		t.Kind = Close
		return t
	}
	if opts.Gap && !samePosition(prev, cur) {
		t.Kind = Close
		t.Reopen = true
		return t
	}

	delta := cur.Size.Sub(prev.PositionSize)
	switch {
	case delta.Abs().LessThanOrEqual(eps):
		t.Kind = NoChange
	case delta.IsPositive():
		t.Kind = Increase
	default:
		t.Kind = PartialClose
	}
	return t
}

// samePosition reports whether a reappearing row still describes the stored opening.
func samePosition(prev *types.Signal, cur *types.LogicalPosition) bool {
	if !prev.EntryPrice.Equal(cur.EntryPrice) {
		return false
	}
	switch {
	case prev.Leverage == nil && cur.Leverage == nil:
		return true
	case prev.Leverage == nil || cur.Leverage == nil:
		return false
	default:
		return prev.Leverage.Equal(*cur.Leverage)
	}
}
