package model

import "fmt"

// Phase is the position of a (slot, view) in its lifecycle.
type Phase uint8

const (
	// PhaseProposing: waiting for the leader's block.
	PhaseProposing Phase = iota + 1
	// PhaseVoting: block known, votes being collected, fast path open.
	PhaseVoting
	// PhaseWaiting: view timeout fired, fast path closed, slow and skip
	// paths remain open.
	PhaseWaiting
	// PhaseCommitted: a finalization certificate formed for the slot.
	PhaseCommitted
	// PhaseSkipped: a skip certificate formed, the view was abandoned.
	PhaseSkipped
)

func (p Phase) String() string {
	switch p {
	case PhaseProposing:
		return "proposing"
	case PhaseVoting:
		return "voting"
	case PhaseWaiting:
		return "waiting"
	case PhaseCommitted:
		return "committed"
	case PhaseSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown-phase-%d", uint8(p))
	}
}

// ViewState is the consensus position within one slot. It is owned
// exclusively by the certificate engine and advances monotonically in view
// number until the slot is committed or skipped.
type ViewState struct {
	Slot  uint64
	View  uint64
	Phase Phase
}
