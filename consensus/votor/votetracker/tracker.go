// Package votetracker provides the per-(slot, view) vote store backing
// quorum computations. The tracker records at most one vote per signer and
// reports duplicates and equivocation as typed errors; it never tallies
// stake itself, so exclusions applied after a vote was recorded still take
// effect at evaluation time.
//
// The tracker is not concurrency safe: the certificate engine serializes all
// access under its single-writer discipline.
package votetracker

import (
	"github.com/alpenlabs/alpenglow/model"
)

// Tracker stores the votes of one (slot, view).
type Tracker struct {
	slot  uint64
	view  uint64
	votes map[model.Identifier]*model.Vote
	order []model.Identifier // insertion order, for deterministic iteration
}

// NewTracker returns an empty tracker for the given coordinates.
func NewTracker(slot, view uint64) *Tracker {
	return &Tracker{
		slot:  slot,
		view:  view,
		votes: make(map[model.Identifier]*model.Vote),
	}
}

func (t *Tracker) Slot() uint64 { return t.slot }
func (t *Tracker) View() uint64 { return t.view }

// Add records the vote. It returns:
//   - nil if the vote is the signer's first for this (slot, view)
//   - DuplicatedVoteError if an equivalent vote is already recorded
//   - DoubleVoteError if the signer already cast a different vote, carrying
//     both votes as equivocation evidence
//
// Votes for other coordinates than the tracker's are a programming error and
// reported as DoubleVoteError-free plain errors by the caller; Add assumes
// matching coordinates.
func (t *Tracker) Add(vote *model.Vote) error {
	first, voted := t.votes[vote.SignerID]
	if voted {
		if first.Equivalent(vote) {
			return model.NewDuplicatedVoteErrorf(
				"signer %x already voted %s for slot %d view %d", vote.SignerID, vote.Kind, t.slot, t.view)
		}
		return model.NewDoubleVoteErrorf(first, vote,
			"signer %x cast conflicting votes for slot %d view %d", vote.SignerID, t.slot, t.view)
	}
	t.votes[vote.SignerID] = vote
	t.order = append(t.order, vote.SignerID)
	return nil
}

// VoteBySigner returns the signer's recorded vote, if any.
func (t *Tracker) VoteBySigner(signerID model.Identifier) (*model.Vote, bool) {
	vote, ok := t.votes[signerID]
	return vote, ok
}

// HasVoted reports whether the signer has a recorded vote.
func (t *Tracker) HasVoted(signerID model.Identifier) bool {
	_, ok := t.votes[signerID]
	return ok
}

// Votes returns all recorded votes in insertion order.
func (t *Tracker) Votes() []*model.Vote {
	out := make([]*model.Vote, 0, len(t.order))
	for _, signerID := range t.order {
		out = append(out, t.votes[signerID])
	}
	return out
}

// Len returns the number of recorded votes.
func (t *Tracker) Len() int {
	return len(t.votes)
}
