// Package votor implements the certificate engine of the dual-path voting
// protocol: vote aggregation, quorum evaluation, equivocation handling and
// view advancement. The engine is the central authority for safety; all
// vote, certificate and view state is owned by it and mutated only through
// its exported methods.
package votor

import (
	"fmt"

	"github.com/alpenlabs/alpenglow/model"
)

// VoteStatus is the outcome of submitting a vote.
type VoteStatus uint8

const (
	// VoteAccepted: first vote of this signer for the (slot, view), recorded.
	VoteAccepted VoteStatus = iota + 1
	// VoteDuplicate: identical or stale vote, idempotent no-op.
	VoteDuplicate
	// VoteEquivocation: conflicting vote, or vote from an already-flagged
	// Byzantine signer; recorded as evidence only.
	VoteEquivocation
	// VoteInvalidSignature: the signature did not verify, vote dropped.
	VoteInvalidSignature
)

func (s VoteStatus) String() string {
	switch s {
	case VoteAccepted:
		return "accepted"
	case VoteDuplicate:
		return "duplicate"
	case VoteEquivocation:
		return "equivocation"
	case VoteInvalidSignature:
		return "invalid-signature"
	default:
		return fmt.Sprintf("unknown-vote-status-%d", uint8(s))
	}
}

// LeaderSelector answers who proposes for a given (slot, view).
type LeaderSelector interface {
	LeaderForView(slot, view uint64) (model.Identifier, error)
}

// FinalizationConsumer receives the engine's outbound notifications. The
// ledger collaborator implements this; the engine persists nothing itself.
// Callbacks are invoked synchronously under the engine's writer lock and
// must be non-blocking.
type FinalizationConsumer interface {
	// OnCertificateFormed is called exactly once per formed certificate.
	OnCertificateFormed(certificate *model.Certificate)
	// OnBlockFinalized is called when a finalization certificate forms for
	// a block whose contents this node holds.
	OnBlockFinalized(block *model.Block)
}
