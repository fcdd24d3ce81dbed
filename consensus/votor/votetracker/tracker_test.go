package votetracker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/consensus/votor/votetracker"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

func TestAddFirstVote(t *testing.T) {
	tracker := votetracker.NewTracker(3, 1)
	vote := unittest.VoteFixture(func(v *model.Vote) {
		v.Slot = 3
		v.View = 1
	})

	require.NoError(t, tracker.Add(vote))
	require.Equal(t, 1, tracker.Len())
	require.True(t, tracker.HasVoted(vote.SignerID))

	stored, ok := tracker.VoteBySigner(vote.SignerID)
	require.True(t, ok)
	require.Equal(t, vote, stored)
}

func TestAddDuplicateVote(t *testing.T) {
	tracker := votetracker.NewTracker(3, 1)
	vote := unittest.VoteFixture()
	require.NoError(t, tracker.Add(vote))

	// same ballot with different signature bytes is still a duplicate
	resigned := *vote
	resigned.SigData = unittest.SeedFixture(48)
	err := tracker.Add(&resigned)
	require.True(t, model.IsDuplicatedVoteError(err))
	require.Equal(t, 1, tracker.Len())
}

func TestAddConflictingVote(t *testing.T) {
	tracker := votetracker.NewTracker(3, 1)
	first := unittest.VoteFixture()
	require.NoError(t, tracker.Add(first))

	conflicting := *first
	conflicting.BlockID = unittest.IdentifierFixture()
	err := tracker.Add(&conflicting)
	require.True(t, model.IsDoubleVoteError(err))

	// the evidence carries both votes
	evidence, ok := model.AsDoubleVoteError(err)
	require.True(t, ok)
	require.Equal(t, first, evidence.FirstVote)
	require.Equal(t, &conflicting, evidence.ConflictingVote)

	// the first vote stays authoritative
	stored, _ := tracker.VoteBySigner(first.SignerID)
	require.Equal(t, first, stored)
}

func TestSkipAfterNotarizeIsConflict(t *testing.T) {
	tracker := votetracker.NewTracker(3, 1)
	notar := unittest.VoteFixture()
	require.NoError(t, tracker.Add(notar))

	skip := *notar
	skip.Kind = model.VoteSkip
	skip.BlockID = model.ZeroID
	err := tracker.Add(&skip)
	require.True(t, model.IsDoubleVoteError(err))
}

func TestVotesInsertionOrder(t *testing.T) {
	tracker := votetracker.NewTracker(3, 1)

	var added []*model.Vote
	for i := 0; i < 5; i++ {
		vote := unittest.VoteFixture()
		require.NoError(t, tracker.Add(vote))
		added = append(added, vote)
	}
	require.Equal(t, added, tracker.Votes())
}
