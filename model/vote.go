package model

import "fmt"

// VoteKind discriminates the two ballot types of the dual-path protocol.
type VoteKind uint8

const (
	// VoteNotarize endorses a concrete block for (slot, view).
	VoteNotarize VoteKind = iota + 1
	// VoteSkip asks to abandon the view without finalizing a block, cast on
	// timeout or on observed leader misbehavior.
	VoteSkip
)

func (k VoteKind) String() string {
	switch k {
	case VoteNotarize:
		return "notarize"
	case VoteSkip:
		return "skip"
	default:
		return fmt.Sprintf("unknown-vote-kind-%d", uint8(k))
	}
}

// Vote is a validator's ballot for one (slot, view). A validator creates at
// most one vote per (slot, view); a second, different vote for the same
// coordinates is equivocation evidence, not a state update.
type Vote struct {
	Slot     uint64
	View     uint64
	BlockID  Identifier // ZeroID for skip votes
	SignerID Identifier
	Kind     VoteKind
	SigData  []byte
}

// NewVote validates the structural invariants of a vote and returns it.
// All errors indicate that no valid Vote can be constructed from the input.
func NewVote(slot, view uint64, blockID, signerID Identifier, kind VoteKind, sigData []byte) (*Vote, error) {
	if signerID == ZeroID {
		return nil, fmt.Errorf("SignerID must not be zero")
	}
	if len(sigData) == 0 {
		return nil, fmt.Errorf("SigData must not be empty")
	}
	switch kind {
	case VoteNotarize:
		if blockID == ZeroID {
			return nil, fmt.Errorf("notarize vote must reference a block")
		}
	case VoteSkip:
		if blockID != ZeroID {
			return nil, fmt.Errorf("skip vote must not reference a block")
		}
	default:
		return nil, fmt.Errorf("unknown vote kind %d", kind)
	}
	return &Vote{
		Slot:     slot,
		View:     view,
		BlockID:  blockID,
		SignerID: signerID,
		Kind:     kind,
		SigData:  sigData,
	}, nil
}

// ID returns the content address of the vote.
func (v *Vote) ID() Identifier {
	return MakeID(v)
}

// SigningMessage returns the canonical bytes a validator signs: the ballot
// without the signature itself.
func (v *Vote) SigningMessage() []byte {
	ballot := struct {
		Slot     uint64
		View     uint64
		BlockID  Identifier
		SignerID Identifier
		Kind     VoteKind
	}{v.Slot, v.View, v.BlockID, v.SignerID, v.Kind}
	id := MakeID(ballot)
	return id[:]
}

// Equivalent reports whether two votes express the same ballot, i.e. whether
// receiving both is a duplicate rather than equivocation. Signature bytes are
// deliberately excluded: two differently-serialized signatures over the same
// ballot are still the same vote.
func (v *Vote) Equivalent(other *Vote) bool {
	return v.Slot == other.Slot &&
		v.View == other.View &&
		v.BlockID == other.BlockID &&
		v.SignerID == other.SignerID &&
		v.Kind == other.Kind
}
